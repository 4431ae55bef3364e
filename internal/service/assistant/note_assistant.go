package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"medivoice/internal/models"
)

// AddHealthNote attaches a note to one of the user's sessions.
func (s *Service) AddHealthNote(ctx context.Context, userID int64, sessionID, note string) (*models.HealthNote, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, models.Missing("note")
	}
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := s.db.InsertID(ctx,
		`INSERT INTO health_notes (session_id, user_id, note, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, userID, note, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert health note: %w", err)
	}
	return &models.HealthNote{ID: id, SessionID: sessionID, UserID: userID, Note: note, CreatedAt: now}, nil
}

// ListHealthNotes returns a session's notes, oldest first.
func (s *Service) ListHealthNotes(ctx context.Context, userID int64, sessionID string) ([]models.HealthNote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, note, created_at FROM health_notes WHERE session_id = ? AND user_id = ? ORDER BY id ASC`,
		sessionID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list health notes: %w", err)
	}
	defer rows.Close()

	notes := []models.HealthNote{}
	for rows.Next() {
		var n models.HealthNote
		if err := rows.Scan(&n.ID, &n.SessionID, &n.UserID, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan health note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// LatestHealthNote returns the newest note text, or "" when there is none.
func (s *Service) LatestHealthNote(ctx context.Context, userID int64, sessionID string) (string, error) {
	var note string
	err := s.db.QueryRowContext(ctx,
		`SELECT note FROM health_notes WHERE session_id = ? AND user_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID, userID,
	).Scan(&note)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest health note: %w", err)
	}
	return note, nil
}
