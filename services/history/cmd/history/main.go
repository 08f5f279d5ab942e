package main

import (
	"context"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/video-platform/internal/platform/auth"
	"github.com/example/video-platform/internal/platform/config"
	"github.com/example/video-platform/internal/platform/db"
	"github.com/example/video-platform/internal/platform/events"
	"github.com/example/video-platform/internal/platform/httpserver"
	"github.com/example/video-platform/internal/platform/logging"
	"github.com/example/video-platform/internal/platform/natsconn"
	"github.com/example/video-platform/internal/platform/run"
	"github.com/example/video-platform/services/history/internal/analytics"
	"github.com/example/video-platform/services/history/internal/cache"
	"github.com/example/video-platform/services/history/internal/catalog"
	historyconfig "github.com/example/video-platform/services/history/internal/config"
	"github.com/example/video-platform/services/history/internal/handlers"
	"github.com/example/video-platform/services/history/internal/idempotency"
	"github.com/example/video-platform/services/history/internal/metadata"
	"github.com/example/video-platform/services/history/internal/store"
	"github.com/example/video-platform/services/history/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	histCfg := historyconfig.Load()
	isProd := strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production")

	if histCfg.JWTSecret == "" && isProd {
		log.Error("JWT_SECRET is required in production")
		run.Exit(1)
	}

	pool, histStore := initStore(log, histCfg, isProd)
	if pool != nil {
		defer pool.Close()
	}

	var cat catalog.Catalog
	if pool != nil {
		cat = catalog.NewPostgresCatalog(pool)
	} else {
		log.Warn("using in-memory video catalog (development only)")
		cat = catalog.NewInMemoryCatalog()
	}

	meta := metadata.New(histCfg.MetadataBaseURL, histCfg.MetadataAPIKey)
	if histCfg.MetadataAPIKey == "" {
		log.Warn("METADATA_API_KEY not set, external saves will use placeholder metadata")
	}

	reports := initReportCache(log, histCfg)
	engine := analytics.NewEngine(histStore, cat, nil, log)
	verifier := auth.JWTVerifier{Secret: []byte(histCfg.JWTSecret)}

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		pub := events.New(nil, log)
		nc, err := natsconn.Connect(natsconn.Options{})
		if err != nil {
			if isProd {
				log.Error("NATS is required in production", zap.Error(err))
				return err
			}
			log.Warn("NATS unavailable, history events will not be published", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				log.Warn("jetstream unavailable", zap.Error(err))
			} else {
				pub = events.New(js, log)
			}

			dedup, err := idempotency.NewStore(histCfg.RedisURL, histCfg.DatabaseURL, histCfg.IdempotencyTTL, isProd)
			if err != nil {
				log.Error("idempotency store", zap.Error(err))
				return err
			}
			worker.StartProgressConsumer(ctx, nc, histStore, dedup, log)
		}

		h := handlers.NewHistoryHandler(histStore, cat, meta, engine, reports, pub, log)

		r := chi.NewRouter()
		httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: func() error {
			if pool == nil {
				return nil
			}
			return pool.Ping(context.Background())
		}})
		r.Get("/history/external/metadata/{videoId}", h.ExternalMetadata)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			h.Mount(r)
		})

		srv := httpserver.New(httpserver.Options{
			Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r,
		})
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the history store backend. In production
// (APP_ENV=production) a working Postgres connection is required and the
// process terminates without one.
func initStore(log *zap.Logger, histCfg historyconfig.Config, isProd bool) (*pgxpool.Pool, store.HistoryStore) {
	if histCfg.DatabaseURL == "" {
		if isProd {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory history store (development only)")
		return nil, store.NewInMemoryHistoryStore(histCfg.MaxEntries)
	}

	ctx := context.Background()
	pool, err := db.Open(ctx)
	if err != nil {
		if isProd {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return nil, store.NewInMemoryHistoryStore(histCfg.MaxEntries)
	}

	pg := store.NewPostgresHistoryStore(pool, histCfg.MaxEntries, log)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		if isProd {
			log.Error("history schema migration failed", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("schema migration failed, falling back to in-memory store", zap.Error(err))
		return nil, store.NewInMemoryHistoryStore(histCfg.MaxEntries)
	}

	log.Info("history store: postgres")
	return pool, pg
}

// initReportCache wires the optional Redis-backed analytics cache.
func initReportCache(log *zap.Logger, histCfg historyconfig.Config) cache.Reports {
	if histCfg.RedisURL == "" {
		log.Info("analytics cache disabled (REDIS_URL not set)")
		return cache.NoopReports{}
	}
	opts, err := redis.ParseURL(histCfg.RedisURL)
	if err != nil {
		opts = &redis.Options{Addr: histCfg.RedisURL}
	}
	client := redis.NewClient(opts)
	log.Info("analytics cache: redis", zap.String("addr", opts.Addr))
	return cache.NewRedisReports(client, histCfg.CacheTTL, log)
}
