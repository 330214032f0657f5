package similarity

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/titi/matcher/internal/apperr"
	"github.com/titi/matcher/internal/metrics"
)

// Embedder maps text spans to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BreakerConfig tunes the circuit breaker guarding the embedder.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// Embedding scores text by cosine similarity of unit-normalized embeddings.
// Any embedder failure is answered by the fallback provider.
type Embedding struct {
	embedder Embedder
	fallback Provider
	breaker  *gobreaker.CircuitBreaker[[][]float32]
	log      zerolog.Logger
}

// NewEmbedding wraps embedder with a circuit breaker and a token-set fallback.
func NewEmbedding(embedder Embedder, cfg BreakerConfig, log zerolog.Logger) *Embedding {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	log = log.With().Str("component", "similarity").Logger()

	settings := gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("embedding breaker state change")
		},
	}

	return &Embedding{
		embedder: embedder,
		fallback: NewTokenSet(),
		breaker:  gobreaker.NewCircuitBreaker[[][]float32](settings),
		log:      log,
	}
}

func (e *Embedding) Name() string { return "embedding" }

// Similarity returns the clamped cosine similarity of a and b. Empty input
// scores 0 without calling the embedder.
func (e *Embedding) Similarity(ctx context.Context, a, b string) float64 {
	if len(Tokenize(a)) == 0 || len(Tokenize(b)) == 0 {
		return 0
	}
	if a == b {
		return 1
	}

	vecs, err := e.breaker.Execute(func() ([][]float32, error) {
		v, err := e.embedder.Embed(ctx, []string{a, b})
		if err != nil {
			return nil, apperr.Unavailable("embed", err)
		}
		if len(v) != 2 || len(v[0]) == 0 || len(v[0]) != len(v[1]) {
			return nil, errDimension
		}
		return v, nil
	})
	if err != nil {
		return e.fallBack(ctx, a, b, err)
	}
	return Cosine(vecs[0], vecs[1])
}

var errDimension = errors.New("embedding dimension mismatch")

func (e *Embedding) fallBack(ctx context.Context, a, b string, err error) float64 {
	reason := "error"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		reason = "breaker_open"
	case errors.Is(err, errDimension):
		reason = "dimension"
	}
	metrics.SimilarityFallbacks.WithLabelValues(reason).Inc()
	e.log.Debug().Err(err).Str("reason", reason).Msg("falling back to token similarity")
	return e.fallback.Similarity(ctx, a, b)
}

// Cosine returns the cosine similarity of a and b clamped to [0,1]. Vectors
// are normalized here so callers need not pre-normalize.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01(sim)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
