package models

// DoctorAgent is a specialist persona the voice assistant can play.
type DoctorAgent struct {
	ID          int    `json:"id"`
	Specialist  string `json:"specialist"`
	Description string `json:"description"`
	Image       string `json:"image"`
	AgentPrompt string `json:"agent_prompt"`
	VoiceID     string `json:"voice_id"`
}
