package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"medivoice/internal/models"
)

// ErrInvalidTransition is returned when a status change breaks the session lifecycle.
var ErrInvalidTransition = errors.New("invalid session status transition")

// NewSession carries the fields chosen when a consultation is opened.
type NewSession struct {
	Notes       string
	Doctor      models.DoctorAgent
	Suggestions []models.DoctorAgent
}

const sessionColumns = `id, session_id, user_id, created_by, notes, selected_doctor, all_suggestions,
	conversation, report, status, created_on, updated_at`

// CreateSession opens a consultation with a fresh session id.
func (s *Service) CreateSession(ctx context.Context, userID int64, createdBy string, in NewSession) (*models.Session, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if strings.TrimSpace(in.Notes) == "" {
		return nil, models.Missing("notes")
	}
	if in.Doctor.ID == 0 {
		return nil, models.Missing("selectedDoctor")
	}
	if in.Suggestions == nil {
		in.Suggestions = []models.DoctorAgent{}
	}
	doctor, err := json.Marshal(in.Doctor)
	if err != nil {
		return nil, fmt.Errorf("encode doctor: %w", err)
	}
	suggestions, err := json.Marshal(in.Suggestions)
	if err != nil {
		return nil, fmt.Errorf("encode suggestions: %w", err)
	}

	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		CreatedBy:      createdBy,
		Notes:          strings.TrimSpace(in.Notes),
		SelectedDoctor: in.Doctor,
		AllSuggestions: in.Suggestions,
		Conversation:   []models.Utterance{},
		Status:         models.StatusNotStarted,
		CreatedOn:      now,
		UpdatedAt:      now,
	}
	sess.ID, err = s.db.InsertID(ctx,
		`INSERT INTO consult_sessions (session_id, user_id, created_by, notes, selected_doctor, all_suggestions, status, created_on, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, userID, createdBy, sess.Notes, string(doctor), string(suggestions), string(sess.Status), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess                      models.Session
		doctor, suggestions       string
		conversation, reportField sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.SessionID, &sess.UserID, &sess.CreatedBy, &sess.Notes,
		&doctor, &suggestions, &conversation, &reportField, &sess.Status, &sess.CreatedOn, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(doctor), &sess.SelectedDoctor); err != nil {
		return nil, fmt.Errorf("decode selected doctor: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestions), &sess.AllSuggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	sess.Conversation = []models.Utterance{}
	if conversation.Valid && conversation.String != "" {
		if err := json.Unmarshal([]byte(conversation.String), &sess.Conversation); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
	}
	if reportField.Valid && reportField.String != "" {
		sess.Report = new(models.MedicalReport)
		if err := json.Unmarshal([]byte(reportField.String), sess.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	return &sess, nil
}

// GetSession returns the user's session with the given session id.
func (s *Service) GetSession(ctx context.Context, userID int64, sessionID string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM consult_sessions WHERE session_id = ? AND user_id = ?`,
		sessionID, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions for a user, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM consult_sessions WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its notes.
func (s *Service) DeleteSession(ctx context.Context, userID int64, sessionID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM consult_sessions WHERE session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM health_notes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// SetSessionStatus moves a session to status when the lifecycle allows it.
func (s *Service) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	var from []any
	for _, prev := range []models.SessionStatus{
		models.StatusNotStarted, models.StatusInCall, models.StatusEnded,
		models.StatusReportPending, models.StatusReportReady, models.StatusReportFailed,
	} {
		if prev.CanTransition(status) {
			from = append(from, string(prev))
		}
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing leads to %s", ErrInvalidTransition, status)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := append([]any{string(status), time.Now().UTC(), sessionID}, from...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE consult_sessions SET status = ?, updated_at = ? WHERE session_id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	var current models.SessionStatus
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM consult_sessions WHERE session_id = ?`, sessionID).Scan(&current); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// UpdateSessionReport stores a generated report with the conversation it was
// built from and marks the report ready.
func (s *Service) UpdateSessionReport(ctx context.Context, sessionID string, report *models.MedicalReport, conversation []models.Utterance) error {
	if report == nil {
		return models.Missing("report")
	}
	if conversation == nil {
		conversation = []models.Utterance{}
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	conversationJSON, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE consult_sessions SET report = ?, conversation = ?, status = ?, updated_at = ? WHERE session_id = ?`,
		string(reportJSON), string(conversationJSON), string(models.StatusReportReady), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session report: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
