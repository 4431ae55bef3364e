package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"medivoice/internal/catalog"
	"medivoice/internal/models"
	"medivoice/internal/report"
)

const suggestFormat = `Given the user's symptoms: %q, respond ONLY with raw JSON in this format:

{
  "suggested_doctors": [
    { "id": number, "specialist": "string" }
  ]
}

Do NOT include markdown (like ` + "```" + `), explanations, or extra text. Just respond with valid JSON.`

type suggestion struct {
	SuggestedDoctors []struct {
		ID         int    `json:"id"`
		Specialist string `json:"specialist"`
	} `json:"suggested_doctors"`
}

// SuggestDoctors asks the generator which catalog doctors fit the notes.
// Ids the catalog does not know are dropped, as are repeats.
func SuggestDoctors(ctx context.Context, gen Generator, notes string) ([]models.DoctorAgent, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, models.Missing("notes")
	}

	doctors, err := json.Marshal(catalog.All())
	if err != nil {
		return nil, fmt.Errorf("encode doctor catalog: %w", err)
	}
	system := "You are a medical assistant. Use this doctor database:\n\n" + string(doctors)

	text, err := gen.Generate(ctx, system, fmt.Sprintf(suggestFormat, notes))
	if err != nil {
		return nil, fmt.Errorf("suggest doctors: %w", err)
	}

	var parsed suggestion
	if err := report.DecodeObject(text, &parsed); err != nil {
		return nil, fmt.Errorf("suggest doctors: %w", err)
	}

	seen := make(map[int]bool)
	out := make([]models.DoctorAgent, 0, len(parsed.SuggestedDoctors))
	for _, s := range parsed.SuggestedDoctors {
		d, ok := catalog.Lookup(s.ID)
		if !ok || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}
