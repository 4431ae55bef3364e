package models

import "time"

// DefaultCredits is granted to every new account.
const DefaultCredits = 10

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIToken is a provider key registered by a user. The key itself never leaves the server.
type APIToken struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}
