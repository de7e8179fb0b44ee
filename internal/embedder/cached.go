package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps another Embedder with an LRU read-through cache keyed
// by the SHA-256 of the text. Only cache misses are forwarded, batched in
// input order.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns cached vectors where available and embeds the rest.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = cacheKey(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 && len(texts) > 0 {
		return out, nil
	}

	// Empty input still goes to the inner embedder so its InvalidInput
	// contract holds.
	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		c.cache.Add(keys[i], vec)
	}

	return out, nil
}

// Dimension returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Healthy reports the inner embedder's health.
func (c *CachedEmbedder) Healthy(ctx context.Context) bool { return c.inner.Healthy(ctx) }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var _ Embedder = (*CachedEmbedder)(nil)
