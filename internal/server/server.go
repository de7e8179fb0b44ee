// Package server is the HTTP surface: request decoding, tenant resolution
// and error mapping. All domain behavior lives in the service layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/jobs"
	"github.com/corterra/askd/internal/service"
)

// Health reports readiness of a downstream dependency.
type Health interface {
	Healthy(ctx context.Context) bool
}

// Server carries the handler dependencies.
type Server struct {
	queries   *service.QueryService
	documents *service.DocumentService
	tenants   *service.TenantService
	runner    *jobs.Runner
	jwt       *auth.JWTManager
	embedder  Health
	logger    *slog.Logger
}

// New creates a Server.
func New(
	queries *service.QueryService,
	documents *service.DocumentService,
	tenants *service.TenantService,
	runner *jobs.Runner,
	jwt *auth.JWTManager,
	embedder Health,
	logger *slog.Logger,
) *Server {
	return &Server{
		queries:   queries,
		documents: documents,
		tenants:   tenants,
		runner:    runner,
		jwt:       jwt,
		embedder:  embedder,
		logger:    logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)

	// Tenant bootstrap is unauthenticated; production deployments front it
	// with network policy.
	r.Post("/v1/tenants", s.handleCreateTenant)

	r.Group(func(r chi.Router) {
		r.Use(s.tenantMiddleware)

		r.Post("/v1/ask", s.handleAsk)

		r.Post("/v1/documents", s.handleUploadDocument)
		r.Get("/v1/documents", s.handleListDocuments)
		r.Get("/v1/documents/{id}", s.handleGetDocument)
		r.Get("/v1/documents/{id}/chunks", s.handleGetChunks)
		r.Delete("/v1/documents/{id}", s.handleDeleteDocument)

		r.Post("/v1/jobs", s.handleSubmitJob)
		r.Get("/v1/jobs", s.handleListJobs)
		r.Get("/v1/jobs/{id}", s.handleGetJob)
		r.Delete("/v1/jobs/{id}", s.handleCancelJob)
	})

	return r
}

// writeJSON writes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

type errorBody struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	Step          string `json:"step,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)

	var status int
	switch kind {
	case apperr.InvalidInput, apperr.TemplateVariableMissing, apperr.UnknownVariable:
		status = http.StatusBadRequest
	case apperr.TenantMissing:
		status = http.StatusUnauthorized
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.AlreadyIndexed:
		status = http.StatusConflict
	case apperr.QuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.ContextTooLong, apperr.ContentFiltered:
		status = http.StatusUnprocessableEntity
	case apperr.ExternalUnavailable, apperr.ProviderUnavailable, apperr.GenerationFailed:
		status = http.StatusBadGateway
	case apperr.Cancelled:
		// Client closed request.
		status = 499
	default:
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: err.Error(), Kind: kind.String(), Step: apperr.StepOf(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.CorrelationID = ae.CorrelationID
	}

	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, body)
}
