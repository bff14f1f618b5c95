package transport

import (
	"net/http"

	"github.com/you-humble/loggenie/internal/auth"
)

type Handler interface {
	health(w http.ResponseWriter, r *http.Request)

	login(w http.ResponseWriter, r *http.Request)
	logout(w http.ResponseWriter, r *http.Request)
	authStatus(w http.ResponseWriter, r *http.Request)
	profile(w http.ResponseWriter, r *http.Request)
	setEncryptionKey(w http.ResponseWriter, r *http.Request)
	deleteEncryptionKey(w http.ResponseWriter, r *http.Request)

	decryptFile(w http.ResponseWriter, r *http.Request)
	decryptSearch(w http.ResponseWriter, r *http.Request)

	listJobs(w http.ResponseWriter, r *http.Request)
	jobStatus(w http.ResponseWriter, r *http.Request)
	jobResult(w http.ResponseWriter, r *http.Request)
	download(w http.ResponseWriter, r *http.Request)
	cancelJob(w http.ResponseWriter, r *http.Request)
	deleteJob(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h       Handler
	authn   *auth.Authenticator
	events  http.Handler
	metrics http.Handler
}

// NewRouter wires the API. events serves the job update stream and metrics
// the Prometheus endpoint; either may be nil.
func NewRouter(h Handler, authn *auth.Authenticator, events, metrics http.Handler) *router {
	return &router{h: h, authn: authn, events: events, metrics: metrics}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	protected := func(fn http.HandlerFunc) http.Handler { return r.authn.Require(fn) }
	optional := func(fn http.HandlerFunc) http.Handler { return r.authn.Optional(fn) }

	mux.Handle("GET /health", optional(r.h.health))

	mux.HandleFunc("POST /api/auth/login", r.h.login)
	mux.HandleFunc("POST /api/auth/logout", r.h.logout)
	mux.Handle("GET /api/auth/status", optional(r.h.authStatus))

	mux.Handle("GET /api/profile", protected(r.h.profile))
	mux.Handle("PUT /api/profile/encryption-key", protected(r.h.setEncryptionKey))
	mux.Handle("DELETE /api/profile/encryption-key", protected(r.h.deleteEncryptionKey))

	mux.Handle("POST /api/decrypt/file", protected(r.h.decryptFile))
	mux.Handle("POST /api/decrypt/elasticsearch", protected(r.h.decryptSearch))
	mux.Handle("POST /api/decrypt/kibana", protected(r.h.decryptSearch))

	mux.Handle("GET /api/jobs", protected(r.h.listJobs))
	mux.Handle("GET /api/jobs/{id}", protected(r.h.jobStatus))
	mux.Handle("GET /api/jobs/{id}/result", protected(r.h.jobResult))
	mux.Handle("GET /api/jobs/{id}/download", protected(r.h.download))
	mux.Handle("POST /api/jobs/{id}/cancel", protected(r.h.cancelJob))
	mux.Handle("DELETE /api/jobs/{id}", protected(r.h.deleteJob))

	if r.events != nil {
		mux.Handle("GET /api/jobs/ws", r.authn.Require(r.events))
	}
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}

	return mux
}
