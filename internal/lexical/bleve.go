package lexical

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	index "github.com/blevesearch/bleve_index_api"
)

// Config holds configuration for the bleve lexical store.
type Config struct {
	// Dir is the root directory; each tenant gets a subdirectory. Empty
	// means in-memory indexes (tests).
	Dir string

	// K1 and B are the BM25 parameters, tuned for western prose. In-memory
	// indexes lack the field statistics BM25 needs and score tf-idf.
	K1 float64
	B  float64

	// FragmentLen bounds highlight fragments in characters.
	FragmentLen int
}

// BleveStore implements Index with one bleve index per tenant.
type BleveStore struct {
	mu      sync.Mutex
	cfg     Config
	indexes map[string]bleve.Index
	closed  bool
}

// bleveChunk is the document shape handed to bleve.
type bleveChunk struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
}

// NewBleveStore creates a new per-tenant bleve store.
func NewBleveStore(cfg Config) *BleveStore {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B <= 0 {
		cfg.B = 0.75
	}
	if cfg.FragmentLen <= 0 {
		cfg.FragmentLen = 160
	}
	// bleve exposes the BM25 multipliers as process-wide variables; this
	// store is the only bleve consumer in the binary.
	search.BM25_k1 = cfg.K1
	search.BM25_b = cfg.B
	return &BleveStore{
		cfg:     cfg,
		indexes: make(map[string]bleve.Index),
	}
}

func chunkMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.ScoringModel = index.BM25Scoring

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = true
	contentField.IncludeTermVectors = true // required for highlighting

	docIDField := bleve.NewTextFieldMapping()
	docIDField.Analyzer = keyword.Name
	docIDField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("document_id", docIDField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// tenantIndex opens or creates the tenant's index. Caller must hold mu.
func (s *BleveStore) tenantIndex(tenantID string, create bool) (bleve.Index, error) {
	if s.closed {
		return nil, fmt.Errorf("lexical store is closed")
	}
	if idx, ok := s.indexes[tenantID]; ok {
		return idx, nil
	}

	if s.cfg.Dir == "" {
		if !create {
			return nil, nil
		}
		idx, err := bleve.NewMemOnly(chunkMapping())
		if err != nil {
			return nil, fmt.Errorf("creating in-memory index: %w", err)
		}
		s.indexes[tenantID] = idx
		return idx, nil
	}

	path := filepath.Join(s.cfg.Dir, "tenant_"+tenantID)
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if !create {
			return nil, nil
		}
		if mkErr := os.MkdirAll(s.cfg.Dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("creating index dir: %w", mkErr)
		}
		idx, err = bleve.New(path, chunkMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening index for tenant %s: %w", tenantID, err)
	}

	s.indexes[tenantID] = idx
	return idx, nil
}

// Ensure creates the tenant's index if it does not exist.
func (s *BleveStore) Ensure(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.tenantIndex(tenantID, true)
	return err
}

// UpsertChunks adds or replaces chunks in the tenant's index.
func (s *BleveStore) UpsertChunks(ctx context.Context, tenantID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.tenantIndex(tenantID, true)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		doc := bleveChunk{Content: c.Text, DocumentID: c.DocumentID}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", c.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("executing batch: %w", err)
	}
	return nil
}

// Search returns up to topK BM25 hits with highlight fragments.
func (s *BleveStore) Search(ctx context.Context, tenantID, query string, topK int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	s.mu.Lock()
	idx, err := s.tenantIndex(tenantID, false)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if idx == nil {
		// Tenant has no index yet: no documents, no hits.
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topK
	req.Fields = []string{"content", "document_id"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("content")

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{ChunkID: h.ID, Score: h.Score}
		if v, ok := h.Fields["content"].(string); ok {
			hit.Text = v
		}
		if v, ok := h.Fields["document_id"].(string); ok {
			hit.DocumentID = v
		}
		if frags, ok := h.Fragments["content"]; ok && len(frags) > 0 {
			hit.Highlight = truncateFragment(frags[0], s.cfg.FragmentLen)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteChunk removes a single chunk.
func (s *BleveStore) DeleteChunk(ctx context.Context, tenantID, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.tenantIndex(tenantID, false)
	if err != nil || idx == nil {
		return err
	}
	return idx.Delete(chunkID)
}

// DeleteDocument removes every chunk of a document.
func (s *BleveStore) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.tenantIndex(tenantID, false)
	if err != nil || idx == nil {
		return err
	}

	termQuery := bleve.NewTermQuery(documentID)
	termQuery.SetField("document_id")

	docCount, _ := idx.DocCount()
	req := bleve.NewSearchRequest(termQuery)
	req.Size = int(docCount)

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("finding document chunks: %w", err)
	}

	batch := idx.NewBatch()
	for _, h := range result.Hits {
		batch.Delete(h.ID)
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("deleting document chunks: %w", err)
	}
	return nil
}

// Close releases all open indexes.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for tenantID, idx := range s.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index for tenant %s: %w", tenantID, err)
		}
	}
	s.indexes = nil
	return firstErr
}

func truncateFragment(frag string, maxLen int) string {
	if len(frag) <= maxLen {
		return frag
	}
	return frag[:maxLen]
}

// Ensure BleveStore implements Index.
var _ Index = (*BleveStore)(nil)
