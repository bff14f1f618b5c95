package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a stored account. EncryptionKey holds the sealed form of the
// caller's saved decryption key, never the plaintext.
type User struct {
	Username      string    `json:"username"`
	PasswordHash  string    `json:"password_hash"`
	Role          Role      `json:"role"`
	EncryptionKey string    `json:"encryption_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile is the public view of a user.
type Profile struct {
	Username              string    `json:"username"`
	Role                  Role      `json:"role"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
	HasEncryptionKey      bool      `json:"hasEncryptionKey"`
	EncryptionKeyRedacted *string   `json:"encryptionKeyRedacted"`
}

// RedactKey keeps the first 8 and last 4 characters of a key. Keys shorter
// than 12 characters are not shown at all.
func RedactKey(key string) *string {
	if len(key) < 12 {
		return nil
	}
	stars := min(32, len(key)-12)
	s := key[:8] + strings.Repeat("*", stars) + key[len(key)-4:]
	return &s
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    Caller `json:"user"`
	Token   string `json:"token"`
}

type AuthStatusResponse struct {
	Authenticated bool    `json:"authenticated"`
	User          *Caller `json:"user,omitempty"`
}

type EncryptionKeyRequest struct {
	EncryptionKey string `json:"encryptionKey"`
}

type ProfileResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Profile Profile `json:"profile"`
}

type MessageResponse struct {
	Success bool   `json:"success,omitempty"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Authenticated bool      `json:"authenticated"`
}
