package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
	"siteaudit/internal/workers/auditrunner"
)

const (
	// UserHeader carries the caller identity set by the upstream auth proxy.
	UserHeader = "X-User-ID"

	defaultWaitTimeout = 30 * time.Second
	readTimeout        = 30 * time.Second
	waitPollInterval   = 200 * time.Millisecond
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the audit use cases over JSON.
type Server struct {
	audits    ports.Audits
	jobs      ports.JobRepository
	processor auditrunner.AuditProcessor
	store     Pinger
	log       *zap.Logger
}

func New(audits ports.Audits, jobs ports.JobRepository, processor auditrunner.AuditProcessor, store Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{audits: audits, jobs: jobs, processor: processor, store: store, log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Route("/api/audits", func(r chi.Router) {
		r.Use(requireUser)
		// create may block on ?wait=true and bounds itself
		r.Post("/", s.createAudit)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(readTimeout))
			r.Get("/", s.listAudits)
			r.Get("/{id}", s.getAudit)
			r.Delete("/{id}", s.deleteAudit)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createAudit(w http.ResponseWriter, r *http.Request) {
	var in domain.NewAudit
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Invalid JSON body"})
		return
	}
	userID := userFrom(r.Context())
	audit, err := s.audits.Create(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Blocking path for testing and scripts.
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusCreated, audit)
		return
	}
	timeout := defaultWaitTimeout
	if secs, err := strconv.Atoi(r.URL.Query().Get("timeout")); err == nil && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	s.runInline(ctx, audit.ID)

	// The audit exists either way; report whatever state it reached.
	full, err := s.audits.Get(context.WithoutCancel(ctx), userID, audit.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, withResults(full))
}

// runInline processes the audit and waits for it until ctx is done. The
// audit itself runs detached from ctx, so a client that disconnects or a
// wait that times out never cuts the pipeline short. When a background
// worker claimed the job first it waits for that worker instead.
func (s *Server) runInline(ctx context.Context, auditID int64) {
	log := s.log.With(zap.Int64("audit_id", auditID))
	done := make(chan error, 1)
	go func() {
		done <- auditrunner.ProcessInline(context.WithoutCancel(ctx), s.jobs, s.processor, auditID)
	}()
	select {
	case <-ctx.Done():
		log.Info("wait timed out, audit continues in the background")
		return
	case err := <-done:
		switch {
		case err == nil:
			return
		case !errors.Is(err, domain.ErrNotFound):
			log.Warn("inline audit did not complete", zap.Error(err))
			return
		}
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		a, err := s.audits.Get(ctx, userFrom(ctx), auditID)
		if err != nil || a.Status.Terminal() {
			return
		}
	}
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	list, err := s.audits.List(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Audit{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := auditID(w, r)
	if !ok {
		return
	}
	a, err := s.audits.Get(r.Context(), userFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withResults(a))
}

func (s *Server) deleteAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := auditID(w, r)
	if !ok {
		return
	}
	if err := s.audits.Delete(r.Context(), userFrom(r.Context()), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func auditID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Invalid audit id"})
		return 0, false
	}
	return id, true
}

func withResults(a domain.AuditWithResults) domain.AuditWithResults {
	if a.Results == nil {
		a.Results = []domain.AuditResult{}
	}
	return a
}

type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Message: vErr.Message, Field: vErr.Field})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusUnauthorized, errorBody{Message: "Unauthorized"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: "Audit not found"})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "Internal Server Error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
