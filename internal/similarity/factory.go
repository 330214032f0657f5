package similarity

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/titi/matcher/internal/config"
)

// New selects the provider named by cfg.Provider.
func New(cfg config.SimilarityConfig, log zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "token":
		return NewTokenSet(), nil
	case "embedding":
		if cfg.EmbeddingURL == "" {
			return nil, fmt.Errorf("similarity: embedding provider needs a url")
		}
		embedder := NewHTTPEmbedder(cfg.EmbeddingURL, cfg.EmbeddingTimeout)
		return NewEmbedding(embedder, BreakerConfig{
			Failures: cfg.BreakerFailures,
			Cooldown: cfg.BreakerCooldown,
		}, log), nil
	default:
		return nil, fmt.Errorf("similarity: unknown provider %q", cfg.Provider)
	}
}
