// cmd/syncd/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jobmarket-sync/internal/auth"
	"jobmarket-sync/internal/common/config"
	"jobmarket-sync/internal/common/database"
	"jobmarket-sync/internal/common/logger"
	"jobmarket-sync/internal/common/observability"
	"jobmarket-sync/internal/docstore"
	"jobmarket-sync/internal/notify"
	"jobmarket-sync/internal/session"
	"jobmarket-sync/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config load failed: %v", err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting sync daemon...",
		zap.String("backend", cfg.Store.Backend),
		zap.String("authProvider", cfg.Auth.Provider),
	)

	obs := observability.New("syncd")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Document store backend ---
	var docs docstore.Store
	switch cfg.Store.Backend {
	case "redis":
		var redis *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		docs = docstore.NewRedisStore(redis.Client)
		zapLog.Info("Redis document store connected")

	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgStore := docstore.NewPostgresStore(pg.DB, cfg.Database.Postgres.GetDSN())
		if err := pgStore.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		docs = pgStore
		zapLog.Info("PostgreSQL document store connected")

	default:
		docs = docstore.NewMemoryStore()
		zapLog.Info("In-memory document store initialized")
	}
	defer docs.Close()

	// --- Authenticator ---
	var authenticator auth.Authenticator
	switch cfg.Auth.Provider {
	case "keycloak":
		authenticator = auth.NewKeycloakAuthenticator(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
	default:
		authenticator = auth.NewMemoryAuthenticator()
	}

	// --- Domain wiring ---
	notifier := notify.NewCenter(cfg.Notifications.DisplayLimit,
		time.Duration(cfg.Notifications.AutoDismissSecs)*time.Second, log)

	sess := session.New(docs, authenticator, log)
	defer sess.Close()

	jobStore, err := store.New(docs, sess, notifier, obs, cfg.Sync, log)
	if err != nil {
		zapLog.Fatal("store initialization failed", zap.Error(err))
	}
	defer jobStore.Close()

	zapLog.Info("Sync layer initialized")

	// --- Health & Metrics Server ---
	if cfg.Metrics.Enabled {
		go func() {
			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "ready",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping sync layer...")

	if err := sess.Logout(ctx); err != nil {
		zapLog.Error("Error releasing session", zap.Error(err))
	}

	zapLog.Info("Sync daemon stopped gracefully")
}
