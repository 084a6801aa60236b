package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"acero-store/internal/auth"
	"acero-store/internal/config"
	"acero-store/internal/db"
	"acero-store/internal/jobs"
	"acero-store/internal/maintenance"
	"acero-store/internal/middleware"
	"acero-store/internal/notify"
	"acero-store/internal/observability"
	"acero-store/internal/product"
	"acero-store/internal/ratelimit"
)

const (
	authLimitMessage    = "Too many authentication attempts, please try again later."
	generalLimitMessage = "Too many requests, please try again later."
)

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Log)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return nil, err
	}

	if cfg.DB.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient := connectRedis(ctx, cfg.RedisURL, logger)

	emailSender, err := notify.NewEmailSender(cfg.SMTP, logger)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init email sender: %w", err)
	}

	queue := jobs.NewQueue(cfg.Jobs.Workers, cfg.Jobs.QueueSize, cfg.Jobs.TaskTimeout, logger)

	handler := NewHandler(Components{
		Config:      cfg,
		Logger:      logger,
		DB:          database,
		Redis:       redisClient,
		Queue:       queue,
		EmailSender: emailSender,
	})

	logger.Info("bootstrap_completed", map[string]any{
		"env":          cfg.Env,
		"smtp_enabled": cfg.SMTP.Enabled(),
		"redis":        redisClient != nil,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			queue.Close()
			observability.FlushSentry()

			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, database.Close())
			_ = logger.Sync()
			return errors.Join(errs...)
		},
	}, nil
}

// Components are the process-wide collaborators the HTTP surface is built on.
type Components struct {
	Config      config.Config
	Logger      *observability.Logger
	DB          *sql.DB
	Redis       redis.UniversalClient
	Queue       *jobs.Queue
	EmailSender notify.EmailSender
	Now         func() time.Time
}

// NewHandler wires every route and the shared middleware chain.
func NewHandler(c Components) http.Handler {
	cfg := c.Config
	logger := c.Logger

	authRepo := auth.NewRepository(c.DB)
	authService := auth.NewService(auth.Dependencies{
		Store:       authRepo,
		Queue:       c.Queue,
		EmailSender: c.EmailSender,
		PhoneSender: notify.NewLogPhoneLinkSender(logger, cfg.DevMode()),
		Logger:      logger,
		Now:         c.Now,
	}, auth.Settings{
		Auth:        cfg.Auth,
		FrontendURL: cfg.FrontendURL,
		DevMode:     cfg.DevMode(),
	})

	authLimiter, generalLimiter := newLimiters(cfg.RateLimit, c.Redis)
	authLimit := ratelimit.NewMiddleware(authLimiter, authLimitMessage, logger)
	generalLimit := ratelimit.NewMiddleware(generalLimiter, generalLimitMessage, logger)

	gate := func(next http.Handler) http.Handler {
		return auth.Middleware(authService, logger, next)
	}

	mux := http.NewServeMux()
	auth.NewHandler(authService, logger).Routes(mux, gate, authLimit.Handler)
	product.NewHandler(product.NewRepository(c.DB), logger).Routes(mux)

	cleanup := maintenance.NewCleanupHandler(authRepo, logger, cfg.CronSecret, cfg.Cleanup)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanup.Handle)
	mux.HandleFunc("GET /health", healthHandler(c.DB))

	var handler http.Handler = mux
	handler = generalLimit.Handler(handler)
	handler = middleware.NewCORS(cfg.FrontendURL).Middleware(handler)
	handler = middleware.SecurityHeaders(cfg.IsProduction(), handler)
	handler = observability.RequestLoggingMiddleware(logger, handler)
	handler = observability.ClientIPMiddleware(cfg.TrustProxyHops, handler)
	return observability.RecoverMiddleware(logger, handler)
}

func newLimiters(cfg config.RateLimitConfig, client redis.UniversalClient) (ratelimit.Limiter, ratelimit.Limiter) {
	if client != nil {
		return ratelimit.NewRedisLimiter(client, "auth", cfg.AuthMax, cfg.Window),
			ratelimit.NewRedisLimiter(client, "api", cfg.GeneralMax, cfg.Window)
	}
	return ratelimit.NewMemoryLimiter(cfg.AuthMax, cfg.Window),
		ratelimit.NewMemoryLimiter(cfg.GeneralMax, cfg.Window)
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// limiters then fall back to process memory.
func connectRedis(ctx context.Context, rawURL string, logger *observability.Logger) redis.UniversalClient {
	if rawURL == "" {
		return nil
	}

	client, err := ratelimit.NewRedisClient(rawURL)
	if err != nil {
		logger.Error("redis_config_invalid", map[string]any{"error": err.Error()})
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis_unavailable_using_memory_limiter", map[string]any{"error": err.Error()})
		_ = client.Close()
		return nil
	}

	return client
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
