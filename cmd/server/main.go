package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/stockflow/market-sim/internal/assistant"
	"github.com/stockflow/market-sim/internal/config"
	"github.com/stockflow/market-sim/internal/events"
	"github.com/stockflow/market-sim/internal/feed"
	"github.com/stockflow/market-sim/internal/metrics"
	"github.com/stockflow/market-sim/internal/store"
	"github.com/stockflow/market-sim/internal/trade"
)

func main() {
	// A missing .env is fine; the environment wins anyway.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		slog.Error("stockflow failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("stockflow stopped")
}

// storeOpener is replaced in tests.
var storeOpener = openStore

// run wires the service and serves until ctx is done or the listener fails.
// Everything opened along the way is closed before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	st, closeStore, err := storeOpener(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store(), err)
	}
	cleanup = append(cleanup, closeStore)

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" && cfg.Store() != config.StoreMemory {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	// --- Events ---
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		slog.Info("publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	cleanup = append(cleanup, func() {
		if err := publisher.Close(); err != nil {
			slog.Error("event publisher close failed", "err", err)
		}
	})

	// --- Assistant ---
	var ai assistant.Assistant = assistant.Unavailable{}
	if cfg.GeminiAPIKey != "" {
		g, err := assistant.NewGemini(ctx, assistant.GeminiConfig{
			APIKey:            cfg.GeminiAPIKey,
			ChatModel:         cfg.AssistantModel,
			AvatarModel:       cfg.AvatarModel,
			RequestsPerSecond: cfg.AssistantRPS,
		})
		if err != nil {
			return fmt.Errorf("assistant: %w", err)
		}
		ai = g
	} else {
		slog.Warn("GEMINI_API_KEY not set, assistant and avatar generation disabled")
	}

	// --- Market feed ---
	catalog, err := feed.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog %q: %w", cfg.CatalogPath, err)
	}
	sim := feed.NewSimulator(catalog, feed.WithLogger(logger))
	sim.Initialize()
	slog.Info("market catalog loaded", "instruments", catalog.Len())

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)
	go sim.Run(ctx, cfg.TickInterval, wsHub.BroadcastQuotes)

	// --- API service ---
	svc := trade.NewService(st, catalog,
		trade.WithPublisher(publisher),
		trade.WithAssistant(ai),
		trade.WithHub(wsHub),
		trade.WithLogger(logger),
	)

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(svc),
		ReadTimeout: 10 * time.Second,
		// Avatar generation can take well over ten seconds.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("stockflow listening", "port", cfg.Port, "store", cfg.Store())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	slog.Info("shutting down stockflow...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}

func newRouter(svc *trade.Service) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"stockflow"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", svc.Mount)
	return r
}

// openStore connects the account store the configuration selects.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store() {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
			slog.Info("database migrations applied")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return store.NewPostgresStore(pool), pool.Close, nil

	case config.StoreMongo:
		ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to MongoDB", "database", cfg.MongoDatabase)
		return ms, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ms.Close(closeCtx)
		}, nil

	default:
		slog.Warn("DATABASE_URL and MONGO_URI not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}
}
