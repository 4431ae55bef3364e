package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medivoice/internal/models"
	"medivoice/internal/report"
	"medivoice/internal/service/llm"
)

type stubGenerator struct {
	text   string
	err    error
	system string
	user   string
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	s.system = systemPrompt
	s.user = userPrompt
	return s.text, s.err
}

var headacheDialogue = []models.Utterance{
	{Role: models.RoleUser, Text: "I have a headache"},
	{Role: models.RoleAssistant, Text: "How long?"},
	{Role: models.RoleUser, Text: "Two days"},
}

func TestGenerateReportEndToEnd(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: "Here is the report:\n" +
		`{"summary":"Possible tension headache","symptoms":["headache"],"duration":"2 days","severity":"mild"}` +
		"\nTake care."}
	doctor := &models.DoctorAgent{ID: 1, Specialist: "General Physician"}

	rep, err := New(gen).GenerateReport(context.Background(), "s1", &SessionContext{Doctor: doctor}, headacheDialogue)
	require.NoError(t, err)

	assert.Equal(t, "s1", rep.SessionID)
	assert.Equal(t, "General Physician", rep.Agent)
	assert.Equal(t, "Possible tension headache", rep.Summary)
	assert.Equal(t, []string{"headache"}, rep.Symptoms)
	assert.Equal(t, "2 days", rep.Duration)
	assert.Equal(t, "mild", rep.Severity)
	assert.Equal(t, []string{}, rep.Recommendations)
	assert.Equal(t, []string{}, rep.MedicationsMentioned)

	assert.Equal(t, reportSystemPrompt, gen.system)
	assert.Contains(t, gen.user, `Doctor Info: {"id":1,"specialist":"General Physician"`)
	assert.Contains(t, gen.user, "Conversation:\nuser: I have a headache\nassistant: How long?\nuser: Two days")
}

func TestGenerateReportServiceFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: &llm.ServiceError{Kind: llm.ErrBadStatus, Cause: errors.New("status code: 502")}}
	rep, err := New(gen).GenerateReport(context.Background(), "s1", &SessionContext{}, headacheDialogue)

	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrReportFailed)
	assert.ErrorIs(t, err, llm.ErrBadStatus)
	var svcErr *llm.ServiceError
	assert.True(t, errors.As(err, &svcErr))
	assert.Equal(t, 1, gen.calls, "no retry")
}

func TestGenerateReportUnbalancedBraces(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: `{"summary":"flu","symptoms":["cough"]`}
	rep, err := New(gen).GenerateReport(context.Background(), "s1", &SessionContext{}, nil)

	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrReportFailed)
	assert.ErrorIs(t, err, report.ErrUnbalancedBraces)
	var extractErr *report.ExtractionError
	assert.True(t, errors.As(err, &extractErr))
}

func TestGenerateReportPreconditions(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: "{}"}
	p := New(gen)

	_, err := p.GenerateReport(context.Background(), "", &SessionContext{}, nil)
	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "sessionId", vErr.Field)
	assert.NotErrorIs(t, err, ErrReportFailed)

	_, err = p.GenerateReport(context.Background(), "s1", nil, nil)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "sessionContext", vErr.Field)

	assert.Zero(t, gen.calls)
}

func TestGenerateReportEmptyDialogueAndDefaults(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: "{}"}
	p := New(gen)
	p.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }

	rep, err := p.GenerateReport(context.Background(), "s2", &SessionContext{Notes: "fever", HealthNote: "diabetic"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "AI Doctor", rep.Agent)
	assert.Equal(t, "2026-05-01T08:00:00Z", rep.Timestamp)
	assert.Contains(t, gen.user, "Doctor Info: {}")
	assert.Contains(t, gen.user, "Patient Notes: fever")
	assert.Contains(t, gen.user, "Health Note: diabetic")
	assert.True(t, strings.HasSuffix(gen.user, "Conversation:\n"))
}

func TestSuggestDoctors(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{text: `{"suggested_doctors":[{"id":6,"specialist":"Cardiologist"},{"id":42,"specialist":"Wizard"},{"id":1,"specialist":"General Physician"},{"id":6}]}`}
	got, err := SuggestDoctors(context.Background(), gen, "chest pain when climbing stairs")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Cardiologist", got[0].Specialist)
	assert.Equal(t, 1, got[1].ID)
	assert.Contains(t, gen.system, "Use this doctor database")
	assert.Contains(t, gen.user, `"chest pain when climbing stairs"`)
}

func TestSuggestDoctorsErrors(t *testing.T) {
	t.Parallel()

	_, err := SuggestDoctors(context.Background(), &stubGenerator{}, "  ")
	var vErr *models.ValidationError
	assert.True(t, errors.As(err, &vErr))

	_, err = SuggestDoctors(context.Background(), &stubGenerator{text: "no idea"}, "cough")
	assert.ErrorIs(t, err, report.ErrNoJSONFound)

	_, err = SuggestDoctors(context.Background(), &stubGenerator{err: &llm.ServiceError{Kind: llm.ErrNetwork}}, "cough")
	assert.ErrorIs(t, err, llm.ErrNetwork)
}
