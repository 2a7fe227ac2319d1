package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/fieldsync/internal/config"
	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
	"github.com/JonMunkholm/fieldsync/internal/notify"
	"github.com/JonMunkholm/fieldsync/internal/store/memory"
	"github.com/JonMunkholm/fieldsync/internal/store/postgres"
	"github.com/JonMunkholm/fieldsync/internal/web"
)

// store is what the server needs from a backend.
type store interface {
	core.Store
	core.Admin
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	auth := core.NewAuthenticator(st, cfg.Security.CredentialPepper)
	if cfg.Security.BootstrapKey != "" {
		created, err := auth.EnsureCredential(ctx, st, "bootstrap", cfg.Security.BootstrapKey)
		if err != nil {
			slog.Error("failed to register bootstrap credential", "error", err)
			os.Exit(1)
		}
		slog.Info("bootstrap credential ready", "created", created)
	}

	// Background jobs stop when jobCtx is cancelled
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	limiter := newLimiter(jobCtx, cfg.Rate)

	notifier := notify.New(st, notify.Options{
		Workers:   cfg.Webhook.Workers,
		QueueSize: cfg.Webhook.QueueSize,
		Timeout:   cfg.Webhook.Timeout,
		Sinks:     sinks(cfg.Kafka),
	})

	service := core.NewService(st, notifier)

	resources := core.All()
	names := make([]string, 0, len(resources))
	for _, res := range resources {
		names = append(names, res.Name)
	}
	slog.Info("resources registered", "count", len(names), "names", names)

	server := web.NewServer(service, auth, web.OptionsFromConfig(cfg, limiter))

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := notifier.Close(shutdownCtx); err != nil {
			slog.Warn("notifier did not drain in time", "error", err)
		}
	}()

	if err := server.Start(cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore opens the configured backend and returns its close function.
func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if strings.EqualFold(cfg.Store.Driver, config.DriverMemory) {
		slog.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	if cfg.Store.AutoMigrate {
		if err := postgres.MigrateUp(cfg.Database.DSN(), nil); err != nil {
			return nil, nil, err
		}
		slog.Info("database migrations applied")
	}

	pg, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to database", "max_conns", cfg.Database.MaxConns)
	return pg, pg.Close, nil
}

// newLimiter prefers a shared Redis window and falls back to the in-process
// limiter, whose janitor runs until ctx ends.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig) core.RateLimiter {
	if !cfg.Enabled {
		slog.Info("rate limiting disabled")
		return nil
	}

	if cfg.RedisURL != "" {
		if client, err := connectRedis(ctx, cfg.RedisURL); err != nil {
			slog.Warn("redis unavailable, using in-memory rate limiter", "error", err)
		} else {
			slog.Info("using redis rate limiter", "requests", cfg.Requests, "window", cfg.Window)
			return core.NewRedisLimiter(client, cfg.Requests, cfg.Window)
		}
	}

	limiter := core.NewSlidingWindowLimiter(cfg.Requests, cfg.Window)
	go core.RunEvery(ctx, "rate-limit-sweep", cfg.SweepInterval, core.SweepJob(limiter))
	slog.Info("using in-memory rate limiter", "requests", cfg.Requests, "window", cfg.Window)
	return limiter
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func sinks(cfg config.KafkaConfig) []notify.Sink {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil
	}
	slog.Info("publishing events to kafka", "brokers", brokers, "topic", cfg.Topic)
	return []notify.Sink{notify.NewKafkaSink(brokers, cfg.Topic)}
}
