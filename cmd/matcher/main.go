package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/titi/matcher/internal/config"
	"github.com/titi/matcher/internal/logging"
	"github.com/titi/matcher/internal/matching"
	"github.com/titi/matcher/internal/messaging"
	"github.com/titi/matcher/internal/metrics"
	"github.com/titi/matcher/internal/postgres"
	"github.com/titi/matcher/internal/profile"
	"github.com/titi/matcher/internal/ratelimit"
	"github.com/titi/matcher/internal/recommend"
	"github.com/titi/matcher/internal/scoring"
	"github.com/titi/matcher/internal/similarity"
	"github.com/titi/matcher/internal/swipe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.Logger()
		l.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.For("matcher")
	log.Info().Msg("starting matching service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL setup.
	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	cancel()
	defer rdb.Close()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	if cfg.NATS.Name != "" {
		natsConfig.Name = cfg.NATS.Name
	}
	natsClient, err := messaging.NewNATSClient(natsConfig, logging.For("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer natsClient.Close()

	svc, err := buildService(ctx, cfg, db, rdb, natsClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build matching service")
	}
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start matching service")
	}

	metricsSrv := serveMetrics(cfg.Metrics.Addr)

	log.Info().
		Str("redis_addr", cfg.Redis.Addr).
		Str("nats_url", natsConfig.URL).
		Str("similarity", cfg.Similarity.Provider).
		Str("cache", cfg.Recommend.CacheBackend).
		Msg("matching service running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	svc.Stop()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
		cancel()
	}
}

func buildService(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client, nc *messaging.NATSClient) (*matching.Service, error) {
	provider, err := similarity.New(cfg.Similarity, logging.For("similarity"))
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.New(provider, weights(cfg.Recommend.Weights))
	if err != nil {
		return nil, err
	}

	var cache recommend.Cache
	switch cfg.Recommend.CacheBackend {
	case "memory":
		mem := recommend.NewMemoryCache(nil)
		go mem.StartSweeper(ctx, cfg.Recommend.SweepInterval, logging.For("cache"))
		cache = mem
	default:
		cache = recommend.NewRedisCache(rdb, nil)
	}

	profiles := profile.NewPostgresStore(db)
	ranker := recommend.NewRanker(profiles, scorer, cache, recommend.Config{
		TopN:     cfg.Recommend.TopN,
		TTL:      cfg.Recommend.TTL,
		MinScore: cfg.Recommend.MinScore,
	}, logging.For("ranker"))

	engine := matching.NewEngine(
		swipe.NewPostgresLedger(db),
		matching.NewPostgresStore(db),
		matching.NewNATSNotifier(nc, logging.For("notifier")),
		logging.For("engine"),
	)

	deps := matching.Deps{
		Engine:   engine,
		Ranker:   ranker,
		Profiles: profiles,
		NATS:     nc,
	}
	if cfg.Swipe.RateLimit > 0 || cfg.Recommend.RateLimit > 0 {
		deps.Limiter = ratelimit.NewLimiter(rdb, logging.For("ratelimit"))
		deps.SwipeRule = limitRule(ratelimit.RuleSwipe, cfg.Swipe.RateLimit, cfg.Swipe.RateWindow)
		deps.RecommendRule = limitRule(ratelimit.RuleRecommend, cfg.Recommend.RateLimit, cfg.Recommend.RateWindow)
	}
	return matching.NewService(deps, logging.For("service")), nil
}

func weights(w config.WeightsConfig) scoring.Weights {
	return scoring.Weights{
		scoring.FeatureInterests: w.Interests,
		scoring.FeatureSkills:    w.Skills,
		scoring.FeatureGoals:     w.Goals,
		scoring.FeatureBio:       w.Bio,
		scoring.FeatureCity:      w.City,
		scoring.FeatureAge:       w.Age,
	}
}

// limitRule applies a configured limit to base. A zero limit turns the rule off.
func limitRule(base ratelimit.Rule, limit int, window time.Duration) ratelimit.Rule {
	if limit == 0 {
		limit = -1
	}
	return ratelimit.Rule{Key: base.Key, Limit: limit, Window: window}
}

func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l := logging.For("metrics")
			l.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
