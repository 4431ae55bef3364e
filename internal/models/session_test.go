package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusNotStarted, StatusInCall, true},
		{StatusInCall, StatusEnded, true},
		{StatusEnded, StatusReportPending, true},
		{StatusReportPending, StatusReportReady, true},
		{StatusReportPending, StatusReportFailed, true},
		{StatusReportFailed, StatusReportPending, true},
		{StatusInCall, StatusReportPending, false},
		{StatusReportPending, StatusReportPending, false},
		{StatusEnded, StatusInCall, false},
		{StatusReportReady, StatusInCall, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestUtteranceSameAs(t *testing.T) {
	t.Parallel()

	a := Utterance{Role: RoleUser, Text: "  Two days "}
	assert.True(t, a.SameAs(Utterance{Role: RoleUser, Text: "Two days"}))
	assert.False(t, a.SameAs(Utterance{Role: RoleAssistant, Text: "Two days"}))
	assert.False(t, a.SameAs(Utterance{Role: RoleUser, Text: "two days"}))
}
