package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/cab-dispatch/internal/auth"
	"github.com/example/cab-dispatch/internal/booking"
	"github.com/example/cab-dispatch/internal/chat"
	"github.com/example/cab-dispatch/internal/config"
	"github.com/example/cab-dispatch/internal/directory"
	"github.com/example/cab-dispatch/internal/events"
	httpapi "github.com/example/cab-dispatch/internal/http"
	"github.com/example/cab-dispatch/internal/live"
	"github.com/example/cab-dispatch/internal/logging"
	"github.com/example/cab-dispatch/internal/notify"
	"github.com/example/cab-dispatch/internal/storage"
	"github.com/example/cab-dispatch/internal/token"
	"github.com/example/cab-dispatch/internal/verification"
	"github.com/example/cab-dispatch/internal/work"
)

type publisher interface {
	booking.Publisher
	Close() error
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var cache directory.Cache = directory.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, directory cache falls back to source on errors", "addr", cfg.RedisAddr, "error", err)
		}
		cache = directory.NewRedisCache(rdb, cfg.DirectoryCacheKey)
		logger.Info("directory cache", "backend", "redis", "addr", cfg.RedisAddr)
	}
	dir := directory.New(store, cache, logger)

	var pub publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("booking events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer pub.Close()

	sender, err := notify.New(notify.Config{
		Mode:         cfg.MailMode,
		From:         cfg.MailFrom,
		Timeout:      cfg.MailTimeout,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUsername: cfg.SMTPUsername,
		SMTPPassword: cfg.SMTPPassword,
		SMTPStartTLS: cfg.SMTPStartTLS,
		APIKey:       cfg.ResendAPIKey,
		APIBaseURL:   cfg.ResendBaseURL,
	}, logger)
	if err != nil {
		logger.Error("mail sender init failed", "error", err)
		os.Exit(1)
	}

	challenges := verification.NewStore(sender,
		verification.WithTTL(cfg.VerificationCodeTTL),
		verification.WithMaxAttempts(cfg.VerificationMaxAttempts),
		verification.WithHashCost(cfg.VerificationHashCost),
		verification.WithSendTimeout(cfg.MailTimeout),
		verification.WithLogger(logger),
	)
	defer challenges.Close()
	go challenges.Run(ctx, cfg.VerificationSweepInterval)

	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("token issuer init failed", "error", err)
		os.Exit(1)
	}

	policy, _ := booking.ParsePolicy(cfg.BookingPolicy)
	hub := live.NewHub(logger)
	chatSvc := &chat.Service{Store: store, Directory: dir, Live: hub, Logger: logger}

	srv := httpapi.NewServer(httpapi.Deps{
		Auth: &auth.Service{
			Store:      store,
			Challenges: challenges,
			Tokens:     issuer,
			Directory:  dir,
			TwoFactor:  cfg.TwoFactorEnabled,
			Logger:     logger,
		},
		Bookings: &booking.Engine{
			Store:     store,
			Policy:    policy,
			Messages:  chatSvc,
			Events:    pub,
			Directory: dir,
			Logger:    logger,
		},
		Chat:          chatSvc,
		Work:          &work.Service{Store: store, Logger: logger},
		Notifications: store,
		Tokens:        issuer,
		Live:          hub,
	}, cfg.CORSAllowedOrigins, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cab-dispatch listening", "addr", cfg.HTTPAddr, "policy", policy, "two_factor", cfg.TwoFactorEnabled, "mail_mode", cfg.MailMode)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// openStore picks Postgres when PG_DSN is set and the in-memory store
// otherwise. With MIGRATE=true the bundled schema is applied first.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("storage", "backend", "memory")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		ddl, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		if err := pg.ApplySchema(ctx, string(ddl)); err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("migration applied", "file", "001_init.sql")
	}
	logger.Info("storage", "backend", "postgres")
	return pg, nil
}
