package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/you-humble/loggenie/internal/domain"

	"golang.org/x/crypto/bcrypt"
)

type ProfileStore interface {
	User(ctx context.Context, username string) (domain.User, error)
	Create(ctx context.Context, u domain.User) error
	Update(ctx context.Context, username string, fn func(*domain.User) error) (domain.User, error)
}

type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type TokenIssuer interface {
	Issue(c domain.Caller) (string, error)
}

type accounts struct {
	users  ProfileStore
	sealer Sealer
	tokens TokenIssuer
	cost   int
}

func NewAccounts(users ProfileStore, sealer Sealer, tokens TokenIssuer) *accounts {
	return &accounts{
		users:  users,
		sealer: sealer,
		tokens: tokens,
		cost:   bcrypt.DefaultCost,
	}
}

// Login checks the password and issues a token for the user.
func (uc *accounts) Login(ctx context.Context, username, password string) (string, domain.Caller, error) {
	if username == "" || password == "" {
		return "", domain.Caller{}, domain.NewValidationError("Username and password required")
	}

	u, err := uc.users.User(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.Caller{}, domain.ErrInvalidCredentials
		}
		return "", domain.Caller{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", domain.Caller{}, domain.ErrInvalidCredentials
	}

	caller := domain.Caller{Username: u.Username, Role: string(u.Role)}
	token, err := uc.tokens.Issue(caller)
	if err != nil {
		return "", domain.Caller{}, fmt.Errorf("issue token: %w", err)
	}

	slog.Info("user logged in", slog.String("username", u.Username))
	return token, caller, nil
}

func (uc *accounts) Profile(ctx context.Context, username string) (domain.Profile, error) {
	u, err := uc.users.User(ctx, username)
	if err != nil {
		return domain.Profile{}, err
	}
	return uc.profile(u)
}

// SetEncryptionKey stores a hex key for the user, sealed at rest.
func (uc *accounts) SetEncryptionKey(ctx context.Context, username, key string) (domain.Profile, error) {
	if key == "" {
		return domain.Profile{}, domain.NewValidationError("Invalid encryption key format")
	}
	if !isHex(key) {
		return domain.Profile{}, domain.NewValidationError("Encryption key must be a valid hexadecimal string")
	}

	sealed, err := uc.sealer.Seal(key)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("seal key: %w", err)
	}

	u, err := uc.users.Update(ctx, username, func(u *domain.User) error {
		u.EncryptionKey = sealed
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}

	slog.Info("encryption key updated", slog.String("username", username))
	return uc.profile(u)
}

func (uc *accounts) ClearEncryptionKey(ctx context.Context, username string) (domain.Profile, error) {
	u, err := uc.users.Update(ctx, username, func(u *domain.User) error {
		u.EncryptionKey = ""
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}

	slog.Info("encryption key deleted", slog.String("username", username))
	return uc.profile(u)
}

// StoredKey returns the plaintext key saved for username, or "" if none.
func (uc *accounts) StoredKey(ctx context.Context, username string) (string, error) {
	u, err := uc.users.User(ctx, username)
	if err != nil {
		return "", err
	}
	if u.EncryptionKey == "" {
		return "", nil
	}

	key, err := uc.sealer.Open(u.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("open stored key: %w", err)
	}
	return key, nil
}

// CreateUser adds an account with a bcrypt password hash.
func (uc *accounts) CreateUser(ctx context.Context, username, password string, role domain.Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	return uc.users.Create(ctx, domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// SeedAdmin creates the admin account unless it already exists.
func (uc *accounts) SeedAdmin(ctx context.Context, password string) error {
	err := uc.CreateUser(ctx, "admin", password, domain.RoleAdmin)
	if errors.Is(err, domain.ErrUserExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	slog.Info("default admin user created", slog.String("username", "admin"))
	return nil
}

func (uc *accounts) profile(u domain.User) (domain.Profile, error) {
	p := domain.Profile{
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.EncryptionKey == "" {
		return p, nil
	}

	key, err := uc.sealer.Open(u.EncryptionKey)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("open stored key: %w", err)
	}
	p.HasEncryptionKey = true
	p.EncryptionKeyRedacted = domain.RedactKey(key)

	return p, nil
}

func isHex(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F')
	}) < 0
}
