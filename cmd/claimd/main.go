// Command claimd runs the claim ingestion and query service.
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

	"github.com/redis/go-redis/v9"

	"github.com/openclaims/claimd/pkg/api"
	"github.com/openclaims/claimd/pkg/config"
	"github.com/openclaims/claimd/pkg/ingest"
	"github.com/openclaims/claimd/pkg/observability"
	"github.com/openclaims/claimd/pkg/report"
	"github.com/openclaims/claimd/pkg/store"
	"github.com/openclaims/claimd/pkg/verify"
	"github.com/openclaims/claimd/pkg/visibility"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("claimd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:    "claimd",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var cache visibility.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		cache = visibility.NewRedis(st, client, cfg.VisibilityDepth, 0)
		logger.Info("visibility cache", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		cache = visibility.NewMemory(st, cfg.VisibilityDepth)
		logger.Info("visibility cache", "backend", "memory")
	}

	var verifier verify.Verifier
	if cfg.InsecureVerify {
		verifier = verify.NewInsecureVerifier()
		logger.Warn("signature verification disabled")
	} else {
		verifier = verify.NewResolverVerifier(verify.NewResolver(cfg.ResolverURL))
		logger.Info("verifying against resolver", "url", cfg.ResolverURL)
	}

	svc := ingest.New(st, verifier, cache, ingest.Options{
		ServiceID:        cfg.ServiceID,
		MaxClaimsPerWeek: cfg.MaxClaimsPerWeek,
		MaxRegsPerMonth:  cfg.MaxRegistrationsPerMonth,
		Logger:           logger,
	})

	if cfg.SeedDID != "" {
		if err := svc.SeedRegistration(ctx, cfg.SeedDID); err != nil {
			return err
		}
	}
	if err := applyQuotaProfile(ctx, cfg, st, logger); err != nil {
		return err
	}

	server := api.NewServer(svc, report.New(st, cache), logger)
	limiter := api.NewIPRateLimiter(50, 100)
	handler := api.LogRequests(logger, limiter.Middleware(server.Routes()))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// applyQuotaProfile overlays per-identity quota overrides onto existing
// registrations. Overrides for identities not yet registered are skipped
// with a warning; they apply on the next restart after registration.
func applyQuotaProfile(ctx context.Context, cfg *config.Config, st *store.SQL, logger *slog.Logger) error {
	profile, err := cfg.LoadQuotaProfile()
	if err != nil {
		return err
	}
	for _, o := range profile.Overrides {
		err := st.UpdateRegistrationQuotas(ctx, o.DID, o.MaxClaimsPerWeek, o.MaxRegistrationsPerMonth)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("quota override for unregistered identity", "did", o.DID)
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("quota override applied", "did", o.DID)
	}
	return nil
}
