package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmorallos/registrar-portal/internal/auth"
	"github.com/jmorallos/registrar-portal/internal/config"
	internalcrypto "github.com/jmorallos/registrar-portal/internal/crypto"
	"github.com/jmorallos/registrar-portal/internal/db"
	internalhttp "github.com/jmorallos/registrar-portal/internal/http"
	"github.com/jmorallos/registrar-portal/internal/logging"
	"github.com/jmorallos/registrar-portal/internal/model"
	"github.com/jmorallos/registrar-portal/internal/observability"
	"github.com/jmorallos/registrar-portal/internal/repository"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}
	cfg := config.Load()

	logger, err := logging.Init(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	flushSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv)
	if err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connection failed", zap.Error(err))
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", zap.Error(err))
			}
		}()
	}

	if err := ensureAdmin(ctx, store, cfg); err != nil {
		logger.Fatal("admin bootstrap failed", zap.Error(err))
	}

	server := internalhttp.NewServer(cfg, store, redisClient, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("registrar http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// ensureAdmin creates the registrar admin account on first startup so the
// staff side of the portal is reachable before any manual provisioning.
func ensureAdmin(ctx context.Context, store *repository.Store, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	_, err := store.GetUserByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := internalcrypto.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	return store.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Email:        cfg.AdminEmail,
		FirstName:    "Admin",
		LastName:     "User",
		Role:         auth.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
}
