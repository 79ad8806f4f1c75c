package embed

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder memoizes text-to-vector calls. The same utterance is often
// embedded repeatedly within a conversation (recall per turn), and provider
// round trips dominate recall latency.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachingEmbedder wraps an embedder with a ristretto cache sized to hold
// roughly maxEntries vectors.
func NewCachingEmbedder(inner Embedder, maxEntries int64) (*CachingEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachingEmbedder{
		inner: inner,
		cache: cache,
	}, nil
}

// Embed returns a cached vector when available, otherwise delegates.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, found := e.cache.Get(text); found {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *CachingEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied. Test helper.
func (e *CachingEmbedder) Wait() {
	e.cache.Wait()
}
