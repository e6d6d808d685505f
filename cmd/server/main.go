package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bizcore/backend/internal/cache"
	"bizcore/backend/internal/commission"
	"bizcore/backend/internal/config"
	"bizcore/backend/internal/httpapi"
	"bizcore/backend/internal/logging"
	"bizcore/backend/internal/service"
	"bizcore/backend/internal/store"
	"bizcore/backend/internal/store/memory"
	pgstore "bizcore/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			logger.Fatal().Err(err).Msg("schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("repository ready")
	}

	profitCache := cache.ProfitCache(cache.NoopProfitCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProfitCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			profitCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("cache", "redis").Msg("cache ready")
		}
	} else {
		logger.Info().Str("cache", "noop").Msg("cache ready")
	}

	svc := service.New(repo, commission.NewResolver(), profitCache, time.Duration(cfg.ProfitCacheTTLSeconds)*time.Second, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("accounting backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdown(server, closers, logger)
}

func shutdown(server *http.Server, closers []func() error, logger zerolog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

var placeholderSecrets = map[string]bool{
	"dev-change-me":                    true,
	"changeme":                         true,
	"0123456789abcdef0123456789abcdef": true,
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if placeholderSecrets[strings.ToLower(cfg.AuthSecret)] {
		return fmt.Errorf("AUTH_SECRET must not be a placeholder value")
	}
	if strings.TrimSpace(cfg.AllowedOrigin) == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when running against postgres")
	}
	return nil
}
