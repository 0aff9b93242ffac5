package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
)

// Cached memoizes embeddings per (model, text) in a ristretto cache. Repeated
// recall queries for the same message skip the embedding call.
type Cached struct {
	next  core.Embedder
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCached wraps next with a cache holding up to maxEntries vectors.
func NewCached(next core.Embedder, maxEntries int64, ttl time.Duration) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache, ttl: ttl}, nil
}

// Embed implements core.Embedder. Only cache misses reach the wrapped embedder.
func (c *Cached) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	var missing []string
	var missingIdx []int
	for i, text := range input {
		if v, ok := c.cache.Get(cacheKey(model, text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.next.Embed(ctx, model, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(missing))
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.SetWithTTL(cacheKey(model, missing[j]), v, 1, c.ttl)
	}
	return out, nil
}

// Close stops the cache's background goroutines.
func (c *Cached) Close() { c.cache.Close() }

func cacheKey(model, text string) string { return model + "\x00" + text }
