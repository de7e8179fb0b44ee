package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
)

func testServer() *Server {
	return &Server{
		jwt:    auth.NewJWTManager("test-secret"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.New(apperr.InvalidInput, "bad top_k"), http.StatusBadRequest},
		{apperr.New(apperr.TemplateVariableMissing, "context"), http.StatusBadRequest},
		{apperr.New(apperr.UnknownVariable, "tone"), http.StatusBadRequest},
		{apperr.New(apperr.TenantMissing, "no token"), http.StatusUnauthorized},
		{apperr.New(apperr.NotFound, "no such document"), http.StatusNotFound},
		{apperr.New(apperr.AlreadyIndexed, "duplicate content"), http.StatusConflict},
		{apperr.New(apperr.QuotaExceeded, "rate limited"), http.StatusTooManyRequests},
		{apperr.New(apperr.ContextTooLong, "prompt too large"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.ContentFiltered, "refused"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.ExternalUnavailable, "qdrant down"), http.StatusBadGateway},
		{apperr.New(apperr.ProviderUnavailable, "llm down"), http.StatusBadGateway},
		{apperr.New(apperr.GenerationFailed, "empty response"), http.StatusBadGateway},
		{apperr.New(apperr.Cancelled, "client gone"), 499},
		{apperr.New(apperr.Internal, "boom"), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	s := testServer()
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/ask", nil)
		s.writeError(rec, req, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestWriteError_BodyCarriesKindAndStep(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)

	s.writeError(rec, req, apperr.WithStep("retrieve", apperr.New(apperr.ExternalUnavailable, "both legs failed")))

	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "external_unavailable", body.Kind)
	assert.Equal(t, "retrieve", body.Step)
	assert.Contains(t, body.Error, "both legs failed")
}

func TestTenantMiddleware(t *testing.T) {
	s := testServer()
	tenantID := uuid.New()

	var seen auth.Tenant
	handler := s.tenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		seen, err = auth.TenantFrom(r.Context())
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.Header.Set("Authorization", "Basic abc123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := s.jwt.GenerateToken(tenantID, "acme", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, tenantID, seen.ID)
		assert.Equal(t, "acme", seen.Name)
	})
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.embedder = unhealthyDep{}
	rec = httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

type unhealthyDep struct{}

func (unhealthyDep) Healthy(context.Context) bool { return false }
