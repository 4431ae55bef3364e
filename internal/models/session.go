package models

import "time"

// SessionStatus tracks a consultation from call start to report.
type SessionStatus string

const (
	StatusNotStarted    SessionStatus = "not_started"
	StatusInCall        SessionStatus = "in_call"
	StatusEnded         SessionStatus = "ended"
	StatusReportPending SessionStatus = "report_pending"
	StatusReportReady   SessionStatus = "report_ready"
	StatusReportFailed  SessionStatus = "report_failed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusNotStarted:    {StatusInCall, StatusReportPending},
	StatusInCall:        {StatusEnded},
	StatusEnded:         {StatusReportPending},
	StatusReportPending: {StatusReportReady, StatusReportFailed},
	StatusReportReady:   {StatusReportPending},
	StatusReportFailed:  {StatusReportPending},
}

// CanTransition reports whether a session may move from s to next.
// A failed or ready report may be regenerated by a new manual request.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is one consultation between a user and a doctor agent.
type Session struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"session_id"`
	UserID         int64          `json:"user_id"`
	CreatedBy      string         `json:"created_by"`
	Notes          string         `json:"notes"`
	SelectedDoctor DoctorAgent    `json:"selected_doctor"`
	AllSuggestions []DoctorAgent  `json:"all_suggestions"`
	Conversation   []Utterance    `json:"conversation"`
	Report         *MedicalReport `json:"report"`
	Status         SessionStatus  `json:"status"`
	CreatedOn      time.Time      `json:"created_on"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
