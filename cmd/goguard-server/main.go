// Command goguard-server runs the goGate engine behind an HTTP API.
//
// Configuration comes from the environment, optionally seeded from a .env
// file in the working directory. DATABASE_URL and a Redis address are
// required; migrations run at startup.
//
//	JWT_SECRET=... DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 goguard-server
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/device"
	"github.com/MrEthical07/goGate/internal/envconfig"
	"github.com/MrEthical07/goGate/internal/httpapi"
	"github.com/MrEthical07/goGate/internal/pg"
	"github.com/MrEthical07/goGate/internal/pg/subjects"
	"github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/permission"
	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	settings, err := envconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(settings.LogLevel, settings.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

func run(ctx context.Context, s *envconfig.Settings, logger zerolog.Logger) error {
	figure.NewFigure("goguard", "cybermedium", true).Print()
	fmt.Println()

	if s.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	rdb, err := openRedis(ctx, s)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := pg.Open(ctx, s.DatabaseURL, pg.Options{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := pg.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := subjects.New(db)
	if err := bootstrapAdmin(ctx, s, repo, logger); err != nil {
		return err
	}

	builder := goGate.New().
		WithConfig(s.Engine).
		WithRedis(rdb).
		WithSubjectProvider(repo).
		WithPermissionStore(permission.NewPostgresStore(db)).
		WithLogger(logger).
		WithAuditSink(goGate.NewZerologSink(logger))
	if s.DeviceStore == "postgres" {
		builder = builder.WithDeviceStore(device.NewPostgresStore(db))
	}
	engine, err := builder.BuildContext(ctx)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Logger: logger,
		Ready:  readiness(rdb, db),
	}
	if s.Engine.Metrics.Enabled {
		opts.Metrics = prometheus.New(engine).Handler()
	}

	srv := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("device_store", s.DeviceStore).
			Str("limiter_policy", s.Engine.RateLimit.Policy.String()).
			Strs("trusted_proxies", s.Engine.Proxy.TrustedProxies).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Str("service", "goguard").Logger()
}

func openRedis(ctx context.Context, s *envconfig.Settings) (*redis.Client, error) {
	opts := &redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB}
	if s.RedisURL != "" {
		parsed, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		opts = parsed
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func readiness(rdb *redis.Client, db *sql.DB) func(*http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	}
}

func bootstrapAdmin(ctx context.Context, s *envconfig.Settings, repo *subjects.Repository, logger zerolog.Logger) error {
	if s.BootstrapEmail == "" || s.BootstrapPassword == "" {
		return nil
	}
	_, err := repo.GetSubjectByEmail(ctx, s.BootstrapEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, goGate.ErrSubjectNotFound) {
		return err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      s.Engine.Password.Memory,
		Time:        s.Engine.Password.Time,
		Parallelism: s.Engine.Password.Parallelism,
		SaltLength:  s.Engine.Password.SaltLength,
		KeyLength:   s.Engine.Password.KeyLength,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(s.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	id := uuid.NewString()
	if err := repo.Create(ctx, goGate.Subject{
		ID:           id,
		Email:        s.BootstrapEmail,
		PasswordHash: hash,
		Roles:        []string{s.Engine.Permission.SuperRole},
		Active:       true,
	}); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info().Str("subject_id", id).Msg("bootstrap admin created")
	return nil
}
