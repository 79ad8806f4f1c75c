package embed

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks how often the provider is actually hit.
type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx := context.Background()

	a1, err := m.Embed(ctx, "my name is Sarah")
	require.NoError(t, err)
	a2, err := m.Embed(ctx, "my name is Sarah")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "completely different text")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Len(t, a1, 64)
	assert.Equal(t, 64, m.Dimensions())
}

func TestMockEmbedder_UnitNorm(t *testing.T) {
	m := NewMockEmbedder(32)

	vec, err := m.Embed(context.Background(), "anything")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestCachingEmbedder_HitsProviderOnce(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder(16)}
	cached, err := NewCachingEmbedder(counting, 128)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
	assert.Equal(t, 16, cached.Dimensions())
}

func TestCachingEmbedder_DistinctTextsMiss(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder(16)}
	cached, err := NewCachingEmbedder(counting, 128)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "one")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "two")
	require.NoError(t, err)

	assert.Equal(t, int64(2), counting.calls.Load())
}
