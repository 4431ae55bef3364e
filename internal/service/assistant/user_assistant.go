package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"medivoice/internal/models"
	"medivoice/internal/storage"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service owns users, provider tokens, consultation sessions and health notes.
type Service struct {
	db     *storage.DB
	cipher *tokenCipher
}

// NewService builds the service. Provider tokens are encrypted when the
// token key is present in the environment and stored as given otherwise.
func NewService(db *storage.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		if !errors.Is(err, errTokenKeyUnset) {
			return nil, err
		}
		log.Warn().Str("env", apiTokenKeyEnv).Msg("token key not set, provider tokens stored unencrypted")
	}
	return &Service{db: db, cipher: cipher}, nil
}

// RegisterUser creates a user with the supplied credentials.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" {
		return nil, models.Missing("username")
	}
	if password == "" {
		return nil, models.Missing("password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	id, err := s.db.InsertID(ctx,
		`INSERT INTO users (username, password_hash, credits, created_at) VALUES (?, ?, ?, ?)`,
		username, string(hash), models.DefaultCredits, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: string(hash), Credits: models.DefaultCredits, CreatedAt: now}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, credits, created_at FROM users WHERE username = ?`, username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser loads a user profile by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, credits, created_at FROM users WHERE id = ?`, id,
	))
}

func (s *Service) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Credits, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
