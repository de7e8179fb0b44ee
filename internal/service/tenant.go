package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/apperr"
	"github.com/corterra/askd/internal/lexical"
	"github.com/corterra/askd/internal/repository"
	"github.com/corterra/askd/internal/vectorstore"
)

// TenantService administers tenants and provisions their per-tenant search
// resources.
type TenantService struct {
	tenants repository.TenantRepository
	lex     lexical.Index
	vec     vectorstore.VectorStore
	logger  *slog.Logger
}

// NewTenantService creates a TenantService.
func NewTenantService(tenants repository.TenantRepository, lex lexical.Index, vec vectorstore.VectorStore, logger *slog.Logger) *TenantService {
	return &TenantService{tenants: tenants, lex: lex, vec: vec, logger: logger}
}

// Create registers a tenant and provisions its lexical index and vector
// collection up front so first ingestion does not race provisioning.
func (s *TenantService) Create(ctx context.Context, name string, config repository.TenantConfig) (*repository.Tenant, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.InvalidInput, "tenant name is empty")
	}

	now := time.Now().UTC()
	tenant := &repository.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "creating tenant", err)
	}

	id := tenant.ID.String()
	if err := s.lex.Ensure(ctx, id); err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "provisioning lexical index", err)
	}
	if err := s.vec.EnsureCollection(ctx, id); err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "provisioning vector collection", err)
	}

	s.logger.Info("tenant created", "tenant_id", tenant.ID, "name", name)
	return tenant, nil
}

// Get returns a tenant by id.
func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (*repository.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "tenant not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "loading tenant", err)
	}
	return tenant, nil
}

// List returns tenants with pagination.
func (s *TenantService) List(ctx context.Context, limit, offset int) ([]*repository.Tenant, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	tenants, total, err := s.tenants.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, "listing tenants", err)
	}
	return tenants, total, nil
}

// UpdateConfig replaces a tenant's retrieval defaults.
func (s *TenantService) UpdateConfig(ctx context.Context, id uuid.UUID, config repository.TenantConfig) (*repository.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tenant.Config = config
	tenant.UpdatedAt = time.Now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "updating tenant", err)
	}
	return tenant, nil
}
