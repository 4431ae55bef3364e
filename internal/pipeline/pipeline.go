// Package pipeline turns a finished call's dialogue into a MedicalReport.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"medivoice/internal/models"
	"medivoice/internal/report"
	"medivoice/internal/transcript"
)

const reportSystemPrompt = `You are an AI Medical Voice Agent that just finished a patient conversation.
Based on doctor AI agent info and the conversation between the AI medical agent and the user,
please generate a detailed medical summary and suggestions in the following structure:

{
  "sessionId": "string",
  "agent": "string",
  "user": "string",
  "timestamp": "ISO Date string",
  "chiefComplaint": "string",
  "summary": "string",
  "symptoms": ["symptom1", "symptom2"],
  "duration": "string",
  "severity": "string",
  "medicationsMentioned": ["med1", "med2"],
  "recommendations": ["rec1", "rec2"]
}

Only include valid fields. Respond with nothing else.`

// ErrReportFailed matches every error returned by GenerateReport after its
// preconditions pass.
var ErrReportFailed = errors.New("report generation failed")

// ReportError wraps the cause of a failed generation.
type ReportError struct {
	SessionID string
	Err       error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("session %s: %v: %v", e.SessionID, ErrReportFailed, e.Err)
}

func (e *ReportError) Unwrap() []error { return []error{ErrReportFailed, e.Err} }

// Generator is the completion service used to write reports.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SessionContext is the session metadata embedded in the report request.
type SessionContext struct {
	Doctor     *models.DoctorAgent
	Notes      string
	HealthNote string
}

type Pipeline struct {
	gen Generator
	now func() time.Time
}

func New(gen Generator) *Pipeline {
	return &Pipeline{gen: gen, now: time.Now}
}

// GenerateReport renders the dialogue, asks the generator for a report and
// normalizes the answer. It neither retries nor persists. Callers must not
// run it twice concurrently for the same session.
func (p *Pipeline) GenerateReport(ctx context.Context, sessionID string, sc *SessionContext, utterances []models.Utterance) (*models.MedicalReport, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, models.Missing("sessionId")
	}
	if sc == nil {
		return nil, models.Missing("sessionContext")
	}

	prompt, err := buildReportPrompt(sc, utterances)
	if err != nil {
		return nil, &ReportError{SessionID: sessionID, Err: err}
	}

	text, err := p.gen.Generate(ctx, reportSystemPrompt, prompt)
	if err != nil {
		return nil, &ReportError{SessionID: sessionID, Err: err}
	}

	defaults := report.Defaults{SessionID: sessionID, Now: p.now}
	if sc.Doctor != nil {
		defaults.Agent = sc.Doctor.Specialist
	}
	rep, err := report.Extract(text, defaults)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Int("chars", len(text)).Msg("unusable report completion")
		return nil, &ReportError{SessionID: sessionID, Err: err}
	}
	return rep, nil
}

func buildReportPrompt(sc *SessionContext, utterances []models.Utterance) (string, error) {
	doctor := []byte("{}")
	if sc.Doctor != nil {
		var err error
		if doctor, err = json.Marshal(sc.Doctor); err != nil {
			return "", fmt.Errorf("encode doctor info: %w", err)
		}
	}

	var b strings.Builder
	b.WriteString("Doctor Info: ")
	b.Write(doctor)
	if notes := strings.TrimSpace(sc.Notes); notes != "" {
		b.WriteString("\nPatient Notes: ")
		b.WriteString(notes)
	}
	if note := strings.TrimSpace(sc.HealthNote); note != "" {
		b.WriteString("\nHealth Note: ")
		b.WriteString(note)
	}
	b.WriteString("\nConversation:\n")
	b.WriteString(transcript.Render(utterances))
	return b.String(), nil
}
