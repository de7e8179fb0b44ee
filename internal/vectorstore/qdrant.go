package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/corterra/askd/internal/apperr"
)

// QdrantStore implements VectorStore using Qdrant
type QdrantStore struct {
	client    *qdrant.Client
	dimension int
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url string, dimension int) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, dimension: dimension}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// collectionName returns the collection name for a tenant
func (s *QdrantStore) collectionName(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// EnsureCollection creates the tenant's collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, tenantID string) error {
	name := s.collectionName(tenantID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "checking collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "creating collection", err)
	}
	return nil
}

// Upsert inserts or updates points in the tenant's collection.
func (s *QdrantStore) Upsert(ctx context.Context, tenantID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return apperr.Newf(apperr.ResponseShapeMismatch,
				"point %s has dimension %d, want %d", p.ID, len(p.Vector), s.dimension)
		}
	}

	name := s.collectionName(tenantID)
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				"tenant":      qdrant.NewValueString(tenantID),
				"document_id": qdrant.NewValueString(p.DocumentID),
				"text":        qdrant.NewValueString(p.Text),
				"chunk_index": qdrant.NewValueInt(int64(p.ChunkIndex)),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         qpoints,
	})
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "upserting points", err)
	}
	return nil
}

// Search performs cosine similarity search with payload.
func (s *QdrantStore) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, apperr.Newf(apperr.ResponseShapeMismatch,
			"query vector has dimension %d, want %d", len(vector), s.dimension)
	}

	name := s.collectionName(tenantID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "checking collection", err)
	}
	if !exists {
		// Tenant has indexed nothing yet.
		return nil, nil
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "vector search", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		result := SearchResult{
			ID:    point.Id.GetUuid(),
			Score: point.Score,
		}
		if payload := point.Payload; payload != nil {
			if v, ok := payload["document_id"]; ok {
				result.DocumentID = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				result.Text = v.GetStringValue()
			}
			if v, ok := payload["chunk_index"]; ok {
				result.ChunkIndex = int(v.GetIntegerValue())
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// DeletePoint removes a single point.
func (s *QdrantStore) DeletePoint(ctx context.Context, tenantID string, id string) error {
	name := s.collectionName(tenantID)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)},
				},
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "deleting point", err)
	}
	return nil
}

// DeleteDocument removes all points belonging to a document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, tenantID string, documentID string) error {
	name := s.collectionName(tenantID)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("document_id", documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "deleting document points", err)
	}
	return nil
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
