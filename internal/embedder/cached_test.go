package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corterra/askd/internal/apperr"
)

// recordingEmbedder counts inner calls and returns a distinct vector per text.
type recordingEmbedder struct {
	calls   int
	batches [][]string
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.calls++
	r.batches = append(r.batches, texts)
	if len(texts) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "empty batch")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 0, 0}
	}
	return out, nil
}

func (r *recordingEmbedder) Dimension() int               { return 3 }
func (r *recordingEmbedder) Healthy(context.Context) bool { return true }

func TestCachedEmbedder_ReadThrough(t *testing.T) {
	inner := &recordingEmbedder{}
	c, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	first, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	// A full cache hit never reaches the inner embedder.
	second, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
}

func TestCachedEmbedder_PartialMissForwardsOnlyMisses(t *testing.T) {
	inner := &recordingEmbedder{}
	c, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	out, err := c.Embed(context.Background(), []string{"alpha", "gamma", "delta"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"gamma", "delta"}, inner.batches[1])

	// Cached and fresh vectors land at their original positions.
	assert.Equal(t, []float32{5, 0, 0}, out[0])
	assert.Equal(t, []float32{5, 0, 0}, out[1])
	assert.Equal(t, []float32{5, 0, 0}, out[2])
}

func TestCachedEmbedder_EmptyInputKeepsContract(t *testing.T) {
	inner := &recordingEmbedder{}
	c, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := &recordingEmbedder{}
	c, err := NewCachedEmbedder(inner, 1)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"beta"})
	require.NoError(t, err)

	// alpha was evicted by beta, so it misses again.
	_, err = c.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedEmbedder_DelegatesMetadata(t *testing.T) {
	c, err := NewCachedEmbedder(&recordingEmbedder{}, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Dimension())
	assert.True(t, c.Healthy(context.Background()))
}
