package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/you-humble/loggenie/internal/domain"
)

const CookieName = "token"

type verifier interface {
	Verify(raw string) (domain.Caller, error)
}

// Authenticator resolves the caller from a bearer header or the token cookie.
type Authenticator struct {
	tokens verifier
}

func NewAuthenticator(tokens verifier) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Require rejects requests without a valid token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			unauthorized(w, "Access denied. No token provided.")
			return
		}

		caller, err := a.tokens.Verify(raw)
		if err != nil {
			slog.Debug("token rejected",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			unauthorized(w, "Invalid or expired token.")
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), caller)))
	})
}

// Optional attaches the caller when a valid token is present and never rejects.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := tokenFromRequest(r); raw != "" {
			if caller, err := a.tokens.Verify(raw); err == nil {
				r = r.WithContext(NewContext(r.Context(), caller))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:   http.StatusText(http.StatusUnauthorized),
		Message: msg,
	})
}
