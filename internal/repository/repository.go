// Package repository defines domain models and data access interfaces for
// tenants, documents, chunks, jobs, audit logs and evaluation runs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateHash is returned when a document with the same
// (tenant, content hash) already exists.
var ErrDuplicateHash = errors.New("duplicate content hash")

// Tenant represents a tenant in the system
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Config    TenantConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantConfig holds tenant-specific retrieval defaults, merged with
// per-request options at query time.
type TenantConfig struct {
	TopK           int     `json:"top_k"`
	MinScore       float64 `json:"min_score"`
	SystemTemplate string  `json:"system_template"`
}

// Document represents an ingested document. Filename is the upload's original
// name and the key of the raw bytes in the object store.
type Document struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OwnerID     string
	Title       string
	Filename    string
	SourceURI   string
	ContentHash string
	ChunkCount  int
	Status      string
	Public      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document status values. Documents are immutable after indexing completes
// except for UpdatedAt.
const (
	DocStatusProcessing = "processing"
	DocStatusIndexed    = "indexed"
	DocStatusFailed     = "failed"
)

// DocumentChunk represents a chunk of a document. ChunkIndex is the 0-based
// contiguous ordinal; offsets index the cleaned document text.
type DocumentChunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	TenantID    uuid.UUID
	ChunkIndex  int
	Content     string
	StartOffset int
	EndOffset   int
	Metadata    map[string]string
	CreatedAt   time.Time
}

// JobKind enumerates background job types.
type JobKind string

const (
	JobKindIndexRebuild JobKind = "index_rebuild"
	JobKindBenchmark    JobKind = "benchmark"
)

// JobStatus enumerates job lifecycle states. Transitions are forward-only:
// queued -> running -> completed | failed | cancelled.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobRecord represents a background job
type JobRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Kind           JobKind
	Status         JobStatus
	Initiator      string
	EstimatedCount int
	ProcessedCount int
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// AuditLog records one ask operation for a tenant.
type AuditLog struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Query     string
	Strategy  string
	Template  string
	LatencyMS int64
	CreatedAt time.Time
}

// GroundTruthEntry is one labeled sample of an evaluation dataset.
type GroundTruthEntry struct {
	ID             uuid.UUID
	Dataset        string
	Query          string
	ExpectedAnswer string
	AnswerAliases  []string
	RelevantDocs   []uuid.UUID
	Metadata       map[string]string
}

// EvaluationRun records one benchmark execution and its per-metric stats.
type EvaluationRun struct {
	ID          uuid.UUID
	ConfigID    string
	StartedAt   time.Time
	CompletedAt *time.Time
	// MetricsJSON and SamplesJSON hold the serialized eval report; the eval
	// package owns their shape.
	MetricsJSON []byte
	SamplesJSON []byte
}

// TenantRepository defines operations for tenant persistence
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Document, error)
	// GetByHash matches live documents only; failed ones do not hold the
	// dedup slot.
	GetByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*Document, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error

	// Chunk operations
	CreateChunks(ctx context.Context, chunks []*DocumentChunk) error
	GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*DocumentChunk, error)
	CountChunks(ctx context.Context, documentID uuid.UUID) (int, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}

// JobRepository defines operations for job record persistence
type JobRepository interface {
	Create(ctx context.Context, job *JobRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*JobRecord, error)
	List(ctx context.Context, tenantID uuid.UUID, status JobStatus, limit, offset int) ([]*JobRecord, int, error)
	ListByStatus(ctx context.Context, statuses ...JobStatus) ([]*JobRecord, error)
	Update(ctx context.Context, job *JobRecord) error
}

// AuditRepository records ask operations.
type AuditRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
}

// EvaluationRepository persists ground-truth datasets and evaluation runs.
type EvaluationRepository interface {
	CreateRun(ctx context.Context, run *EvaluationRun) error
	UpdateRun(ctx context.Context, run *EvaluationRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*EvaluationRun, error)
	CreateGroundTruth(ctx context.Context, entries []*GroundTruthEntry) error
	ListGroundTruth(ctx context.Context, dataset string) ([]*GroundTruthEntry, error)
}

// ObjectStore stores raw document bytes keyed by (tenant, document, filename).
// The content type is inferred from the filename suffix by implementations.
type ObjectStore interface {
	Put(ctx context.Context, tenantID, documentID uuid.UUID, filename string, data []byte) error
	Get(ctx context.Context, tenantID, documentID uuid.UUID, filename string) ([]byte, error)
	Delete(ctx context.Context, tenantID, documentID uuid.UUID, filename string) error
}
