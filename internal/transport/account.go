package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/you-humble/loggenie/internal/auth"
	"github.com/you-humble/loggenie/internal/domain"
)

var timeNow = time.Now

type AccountsUsecase interface {
	Login(ctx context.Context, username, password string) (string, domain.Caller, error)
	Profile(ctx context.Context, username string) (domain.Profile, error)
	SetEncryptionKey(ctx context.Context, username, key string) (domain.Profile, error)
	ClearEncryptionKey(ctx context.Context, username string) (domain.Profile, error)
}

type CookieConfig struct {
	Secure bool
	TTL    time.Duration
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "login")

	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, caller, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookies.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		Success: true,
		Message: "Login successful",
		User:    caller,
		Token:   token,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, domain.MessageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *handler) authStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, domain.AuthStatusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, domain.AuthStatusResponse{Authenticated: true, User: &caller})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	p, err := h.accounts.Profile(r.Context(), caller.Username)
	if err != nil {
		h.fail(w, requestLogger(r, "profile"), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProfileResponse{Success: true, Profile: p})
}

func (h *handler) setEncryptionKey(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	var req domain.EncryptionKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.accounts.SetEncryptionKey(r.Context(), caller.Username, req.EncryptionKey)
	if err != nil {
		h.fail(w, requestLogger(r, "setEncryptionKey"), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProfileResponse{
		Success: true,
		Message: "Encryption key updated successfully",
		Profile: p,
	})
}

func (h *handler) deleteEncryptionKey(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())

	p, err := h.accounts.ClearEncryptionKey(r.Context(), caller.Username)
	if err != nil {
		h.fail(w, requestLogger(r, "deleteEncryptionKey"), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProfileResponse{
		Success: true,
		Message: "Encryption key deleted successfully",
		Profile: p,
	})
}
