package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/auth"
	"github.com/corterra/askd/internal/ingest"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/service"
)

// maxUploadBytes bounds document uploads.
const maxUploadBytes = 64 << 20

type askRequest struct {
	Query               string   `json:"query"`
	TopK                int      `json:"top_k"`
	Strategy            string   `json:"strategy"`
	Provider            string   `json:"provider"`
	TemplateName        string   `json:"template_name"`
	TemplateVersion     int      `json:"template_version"`
	Temperature         *float32 `json:"temperature"`
	MaxTokens           int      `json:"max_tokens"`
	DetectHallucination bool     `json:"detect_hallucination"`
	Stream              bool     `json:"stream"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "decoding request", err))
		return
	}

	opts := service.AskOptions{
		TopK:                req.TopK,
		Strategy:            req.Strategy,
		Provider:            req.Provider,
		TemplateName:        req.TemplateName,
		TemplateVersion:     req.TemplateVersion,
		Temperature:         req.Temperature,
		MaxTokens:           req.MaxTokens,
		DetectHallucination: req.DetectHallucination,
	}

	if req.Stream {
		s.streamAsk(w, r, tenant, req.Query, opts)
		return
	}

	ans, err := s.queries.Ask(r.Context(), tenant, req.Query, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ans)
}

// streamAsk emits server-sent events: one "delta" event per token chunk and
// a final "answer" event with the full result.
func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, tenant auth.Tenant, query string, opts service.AskOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apperr.New(apperr.Internal, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_, _ = io.WriteString(w, "event: "+event+"\ndata: "+string(data)+"\n\n")
		flusher.Flush()
	}

	opts.OnDelta = func(delta string) error {
		writeEvent("delta", map[string]string{"text": delta})
		return nil
	}

	ans, err := s.queries.Ask(r.Context(), tenant, query, opts)
	if err != nil {
		writeEvent("error", errorBody{Error: err.Error(), Kind: apperr.KindOf(err).String(), Step: apperr.StepOf(err)})
		return
	}
	writeEvent("answer", ans)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "parsing upload", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "missing file field", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "reading upload", err))
		return
	}

	result, err := s.documents.Upload(r.Context(), tenant, ingest.IndexRequest{
		OwnerID:   tenant.ID.String(),
		Title:     r.FormValue("title"),
		Filename:  header.Filename,
		SourceURI: r.FormValue("source_uri"),
		Public:    r.FormValue("public") == "true",
		Data:      data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	docs, total, err := s.documents.List(r.Context(), tenant, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total})
}

func (s *Server) pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.InvalidInput, "malformed id")
	}
	return id, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.documents.Get(r.Context(), tenant, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	chunks, err := s.documents.Chunks(r.Context(), tenant, id, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.documents.Delete(r.Context(), tenant, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitJobRequest struct {
	Kind           string `json:"kind"`
	EstimatedCount int    `json:"estimated_count"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "decoding request", err))
		return
	}

	job, err := s.runner.Submit(r.Context(), tenant.ID, repository.JobKind(req.Kind), tenant.Name, req.EstimatedCount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobRecords, total, err := s.runner.List(r.Context(), tenant.ID, repository.JobStatus(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobRecords, "total": total})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.runner.Get(r.Context(), tenant.ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.TenantFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Ownership check before touching the cancel registry.
	if _, err := s.runner.Get(r.Context(), tenant.ID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.runner.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type createTenantRequest struct {
	Name   string                  `json:"name"`
	Config repository.TenantConfig `json:"config"`
	// TokenTTLHours controls the validity of the issued token; default 720.
	TokenTTLHours int `json:"token_ttl_hours"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.InvalidInput, "decoding request", err))
		return
	}

	tenant, err := s.tenants.Create(r.Context(), req.Name, req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ttl := time.Duration(req.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	token, err := s.jwt.GenerateToken(tenant.ID, tenant.Name, ttl)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.Internal, "issuing token", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"tenant": tenant, "token": token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.embedder != nil && !s.embedder.Healthy(r.Context()) {
		status["status"] = "degraded"
		status["embedder"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}
