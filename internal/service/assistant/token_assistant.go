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

// HasUserToken returns the API token stored for the user/provider pair, or
// an empty string when none is stored.
func (s *Service) HasUserToken(ctx context.Context, userID int64, provider string) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", models.Missing("provider")
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM apiKeys WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup api token: %w", err)
	}
	if s.cipher == nil {
		return stored, nil
	}
	plain, err := s.cipher.Decrypt(stored)
	if errors.Is(err, errInvalidCiphertext) {
		// Rows written before encryption was enabled.
		return stored, nil
	}
	return plain, err
}

// SetUserToken persists or updates the API token for a user/provider pair.
func (s *Service) SetUserToken(ctx context.Context, userID int64, provider, token string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return models.Missing("provider")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Missing("token")
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	stored := token
	if s.cipher != nil {
		var err error
		if stored, err = s.cipher.Encrypt(token); err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apiKeys (user_id, provider, api_key, created_at) VALUES (?, ?, ?, ?)`+
			s.db.Dialect().Upsert("user_id, provider", "api_key", "created_at"),
		userID, provider, stored, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// ListUserTokens returns the providers a user has registered keys for.
func (s *Service) ListUserTokens(ctx context.Context, userID int64) ([]models.APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, created_at FROM apiKeys WHERE user_id = ? ORDER BY provider`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []models.APIToken{}
	for rows.Next() {
		var tok models.APIToken
		if err := rows.Scan(&tok.Provider, &tok.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// DeleteUserToken removes the stored token for a user/provider pair.
func (s *Service) DeleteUserToken(ctx context.Context, userID int64, provider string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return models.Missing("provider")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM apiKeys WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
