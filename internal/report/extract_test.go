package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC) }

func TestFindJSONObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{name: "nested with prose", text: `prefix {"a":1,"b":{"c":2}} suffix`, want: `{"a":1,"b":{"c":2}}`},
		{name: "first object only", text: `{"a":1} and {"b":2}`, want: `{"a":1}`},
		{name: "code fence", text: "```json\n{\"summary\":\"flu\"}\n```", want: `{"summary":"flu"}`},
		{name: "no brace", text: "I cannot help with that.", wantErr: ErrNoJSONFound},
		{name: "empty", text: "", wantErr: ErrNoJSONFound},
		{name: "unbalanced", text: `{"summary": {"x": 1}`, wantErr: ErrUnbalancedBraces},
		{name: "closing before opening", text: `} {"a":1}`, want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FindJSONObject(tt.text)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var extractErr *ExtractionError
				assert.True(t, errors.As(err, &extractErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindJSONObjectCountsBracesInStrings(t *testing.T) {
	t.Parallel()

	// A closing brace inside a string literal ends the scan early.
	got, err := FindJSONObject(`{"summary":"smiley }","x":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"smiley }`, got)

	_, err = Extract(`{"summary":"smiley }","x":1}`, Defaults{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestExtractMalformed(t *testing.T) {
	t.Parallel()

	_, err := Extract(`Here: {summary: flu}`, Defaults{SessionID: "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestExtractFillsFallbacks(t *testing.T) {
	t.Parallel()

	r, err := Extract(`{"summary":"flu"}`, Defaults{SessionID: "s1", Agent: "General Physician", Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "General Physician", r.Agent)
	assert.Equal(t, "Anonymous", r.User)
	assert.Equal(t, "2026-03-04T10:30:00Z", r.Timestamp)
	assert.Equal(t, "N/A", r.ChiefComplaint)
	assert.Equal(t, "flu", r.Summary)
	assert.Equal(t, []string{}, r.Symptoms)
	assert.Equal(t, "Unknown", r.Duration)
	assert.Equal(t, "Unknown", r.Severity)
	assert.Equal(t, []string{}, r.MedicationsMentioned)
	assert.Equal(t, []string{}, r.Recommendations)
}

func TestExtractTypeMismatchesFallBack(t *testing.T) {
	t.Parallel()

	text := `{"sessionId":"","agent":42,"user":"Sam","timestamp":"yesterday",
		"severity":null,"duration":["2 days"],"symptoms":"cough",
		"medicationsMentioned":["ibuprofen",3,"",null],"recommendations":["rest"]}`
	r, err := Extract(text, Defaults{SessionID: "s9", Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, "s9", r.SessionID)
	assert.Equal(t, "AI Doctor", r.Agent)
	assert.Equal(t, "Sam", r.User)
	assert.Equal(t, "2026-03-04T10:30:00Z", r.Timestamp)
	assert.Equal(t, "Unknown", r.Severity)
	assert.Equal(t, "Unknown", r.Duration)
	assert.Equal(t, []string{}, r.Symptoms)
	assert.Equal(t, []string{"ibuprofen"}, r.MedicationsMentioned)
	assert.Equal(t, []string{"rest"}, r.Recommendations)
}

func TestExtractKeepsModelValues(t *testing.T) {
	t.Parallel()

	text := `Sure! {"sessionId":"model-id","agent":"Cardiologist","timestamp":"2026-01-02T03:04:05Z",
		"chiefComplaint":"chest pain","summary":"s","symptoms":["pain"],"duration":"1 week","severity":"moderate",
		"meta":{"nested":{"deep":true}}}`
	r, err := Extract(text, Defaults{SessionID: "s1", Agent: "General Physician"})
	require.NoError(t, err)

	assert.Equal(t, "model-id", r.SessionID)
	assert.Equal(t, "Cardiologist", r.Agent)
	assert.Equal(t, "2026-01-02T03:04:05Z", r.Timestamp)
	assert.Equal(t, "chest pain", r.ChiefComplaint)
	assert.Equal(t, []string{"pain"}, r.Symptoms)
}

func TestDecodeObject(t *testing.T) {
	t.Parallel()

	var out struct {
		Suggested []struct {
			ID int `json:"id"`
		} `json:"suggested_doctors"`
	}
	require.NoError(t, DecodeObject(`ok {"suggested_doctors":[{"id":1},{"id":6}]}`, &out))
	require.Len(t, out.Suggested, 2)
	assert.Equal(t, 6, out.Suggested[1].ID)

	err := DecodeObject(`{"suggested_doctors":"x"}`, &out)
	assert.ErrorIs(t, err, ErrMalformedJSON)
}
