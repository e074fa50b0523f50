package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docrag/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubProvider returns a vector derived from the text length, or the queued errors first.
type stubProvider struct {
	mu    sync.Mutex
	dim   int
	errs  []error
	calls int
	seen  [][]string
}

func (s *stubProvider) Name() string   { return "stub" }
func (s *stubProvider) Dimension() int { return s.dim }

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (s *stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, texts)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, s.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func TestBatch_PreservesOrder(t *testing.T) {
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	var calls atomic.Int32
	out, err := Batch(context.Background(), texts, 5, 3, func(_ context.Context, b []string) ([][]float32, error) {
		calls.Add(1)
		vecs := make([][]float32, len(b))
		for i, s := range b {
			var n int
			_, _ = fmt.Sscanf(s, "t%d", &n)
			vecs[i] = []float32{float32(n)}
		}
		return vecs, nil
	})
	require.NoError(t, err)
	require.Len(t, out, 23)
	for i, v := range out {
		assert.Equal(t, float32(i), v[0])
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestBatch_Errors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Batch(context.Background(), []string{"a", "b", "c"}, 1, 2, func(_ context.Context, b []string) ([][]float32, error) {
		if b[0] == "b" {
			return nil, boom
		}
		return [][]float32{{1}}, nil
	})
	assert.ErrorIs(t, err, boom)

	_, err = Batch(context.Background(), []string{"a", "b"}, 2, 1, func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	})
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)

	out, err := Batch(context.Background(), nil, 2, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestWithFallback_LatchesOnModelLoad(t *testing.T) {
	stub := &stubProvider{dim: 8, errs: []error{fmt.Errorf("%w: no weights", domain.ErrModelLoad)}}
	var fallbacks int
	p := WithFallback(stub, FallbackConfig{Dimension: 16, OnFallback: func(n int) { fallbacks += n }})

	assert.False(t, p.FallbackUsed())
	assert.False(t, Degraded(p))
	embs, err := EmbedTagged(context.Background(), p, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	for _, e := range embs {
		assert.Equal(t, KindFallback, e.Kind)
		assert.Len(t, e.Vector, 16)
		assert.InDelta(t, 1.0, norm(e.Vector), 1e-5)
	}
	assert.True(t, p.FallbackUsed())
	assert.True(t, Degraded(p))
	assert.Equal(t, 16, p.Dimension())

	// The primary is not consulted again once degraded.
	again, err := p.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, embs[0].Vector, again)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 3, fallbacks)
}

func TestWithFallback_PassesThroughOtherErrors(t *testing.T) {
	stub := &stubProvider{dim: 4, errs: []error{domain.ErrAuthentication}}
	p := WithFallback(stub, FallbackConfig{})

	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	assert.False(t, p.FallbackUsed())

	embs, err := EmbedTagged(context.Background(), p, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, KindModel, embs[0].Kind)
	assert.Equal(t, 4, p.Dimension())
}

func TestPlaceholderVector_Deterministic(t *testing.T) {
	a := PlaceholderVector("same text", 32)
	b := PlaceholderVector("same text", 32)
	c := PlaceholderVector("other text", 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		stub := &stubProvider{dim: 2, errs: []error{domain.ErrRateLimited, domain.ErrNetwork}}
		vecs, err := WithRetry(stub, policy, nil).EmbedBatch(context.Background(), []string{"abc"})
		require.NoError(t, err)
		assert.Equal(t, float32(3), vecs[0][0])
		assert.Equal(t, 3, stub.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		errs := []error{domain.ErrNetwork, domain.ErrNetwork, domain.ErrNetwork, domain.ErrNetwork, domain.ErrNetwork}
		stub := &stubProvider{dim: 2, errs: errs}
		_, err := WithRetry(stub, policy, nil).Embed(context.Background(), "abc")
		assert.ErrorIs(t, err, domain.ErrNetwork)
		assert.Equal(t, 4, stub.calls)
	})

	t.Run("permanent errors fail fast", func(t *testing.T) {
		for _, perm := range []error{domain.ErrAuthentication, domain.ErrModelLoad, domain.ErrDimensionMismatch} {
			stub := &stubProvider{dim: 2, errs: []error{perm}}
			_, err := WithRetry(stub, policy, nil).Embed(context.Background(), "abc")
			assert.ErrorIs(t, err, perm)
			assert.Equal(t, 1, stub.calls)
		}
	})

	t.Run("keeps fallback tags", func(t *testing.T) {
		stub := &stubProvider{dim: 2, errs: []error{domain.ErrModelLoad}}
		p := WithRetry(WithFallback(stub, FallbackConfig{}), policy, nil)
		embs, err := EmbedTagged(context.Background(), p, []string{"abc"})
		require.NoError(t, err)
		assert.Equal(t, KindFallback, embs[0].Kind)
		assert.True(t, Degraded(p))
	})
}

func TestWithCache(t *testing.T) {
	stub := &stubProvider{dim: 2}
	c, err := WithCache(stub, 8)
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "a"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(1), vecs[2][0])
	assert.Equal(t, [][]string{{"a", "bb"}}, stub.seen)

	_, err = c.EmbedBatch(context.Background(), []string{"bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ccc"}, stub.seen[1])
	assert.Equal(t, 3, c.Len())

	_, err = WithCache(stub, 0)
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "model", KindModel.String())
	assert.Equal(t, "fallback", KindFallback.String())
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
