package models

// MedicalReport is the normalized summary generated at the end of a call.
// Every field is always populated; list fields are never nil.
type MedicalReport struct {
	SessionID            string   `json:"sessionId"`
	Agent                string   `json:"agent"`
	User                 string   `json:"user"`
	Timestamp            string   `json:"timestamp"`
	ChiefComplaint       string   `json:"chiefComplaint"`
	Summary              string   `json:"summary"`
	Symptoms             []string `json:"symptoms"`
	Duration             string   `json:"duration"`
	Severity             string   `json:"severity"`
	MedicationsMentioned []string `json:"medicationsMentioned"`
	Recommendations      []string `json:"recommendations"`
}
