// Package catalog holds the fixed set of specialist doctor agents.
package catalog

import (
	"fmt"

	"medivoice/internal/models"
)

var doctors = []models.DoctorAgent{
	{
		ID:          1,
		Specialist:  "General Physician",
		Description: "Helps with everyday health concerns and common symptoms.",
		AgentPrompt: "You are a friendly General Physician AI. Greet the user and quickly ask what symptoms they are experiencing. Keep responses short and helpful.",
		VoiceID:     "will",
	},
	{
		ID:          2,
		Specialist:  "Pediatrician",
		Description: "Expert in children's health, from babies to teens.",
		AgentPrompt: "You are a kind Pediatrician AI. Ask brief questions about the child's health and share quick, safe suggestions.",
		VoiceID:     "chris",
	},
	{
		ID:          3,
		Specialist:  "Dermatologist",
		Description: "Handles skin issues like rashes, acne, or infections.",
		AgentPrompt: "You are a knowledgeable Dermatologist AI. Ask short questions about the skin issue and give simple, clear advice.",
		VoiceID:     "sarge",
	},
	{
		ID:          4,
		Specialist:  "Psychologist",
		Description: "Supports mental health and emotional well-being.",
		AgentPrompt: "You are a caring Psychologist AI. Ask how the user is feeling emotionally and give short, supportive tips.",
		VoiceID:     "susan",
	},
	{
		ID:          5,
		Specialist:  "Nutritionist",
		Description: "Provides advice on healthy eating and weight management.",
		AgentPrompt: "You are a motivating Nutritionist AI. Ask about current diet or goals and suggest quick, healthy tips.",
		VoiceID:     "eileen",
	},
	{
		ID:          6,
		Specialist:  "Cardiologist",
		Description: "Focuses on heart health and blood pressure issues.",
		AgentPrompt: "You are a calm Cardiologist AI. Ask about heart symptoms and offer brief, helpful advice.",
		VoiceID:     "charlotte",
	},
	{
		ID:          7,
		Specialist:  "ENT Specialist",
		Description: "Treats ear, nose, and throat-related problems.",
		AgentPrompt: "You are a friendly ENT AI. Ask quickly about ENT symptoms and give simple, clear suggestions.",
		VoiceID:     "ayla",
	},
	{
		ID:          8,
		Specialist:  "Orthopedic",
		Description: "Helps with bone, joint, and muscle pain.",
		AgentPrompt: "You are an understanding Orthopedic AI. Ask where the pain is and give short, supportive advice.",
		VoiceID:     "aaliyah",
	},
	{
		ID:          9,
		Specialist:  "Gynecologist",
		Description: "Cares for women's reproductive and hormonal health.",
		AgentPrompt: "You are a respectful Gynecologist AI. Ask brief, gentle questions and keep answers short and reassuring.",
		VoiceID:     "hudson",
	},
	{
		ID:          10,
		Specialist:  "Dentist",
		Description: "Handles oral hygiene and dental problems.",
		AgentPrompt: "You are a cheerful Dentist AI. Ask about the dental issue and give quick, calming suggestions.",
		VoiceID:     "atlas",
	},
}

func init() {
	for i := range doctors {
		doctors[i].Image = fmt.Sprintf("/doctor%d.png", doctors[i].ID)
	}
}

// All returns a copy of the catalog in id order.
func All() []models.DoctorAgent {
	out := make([]models.DoctorAgent, len(doctors))
	copy(out, doctors)
	return out
}

// Lookup finds a doctor agent by id.
func Lookup(id int) (models.DoctorAgent, bool) {
	for _, d := range doctors {
		if d.ID == id {
			return d, true
		}
	}
	return models.DoctorAgent{}, false
}
