package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/voicegate/internal/audit"
	"github.com/tjfontaine/voicegate/internal/config"
	"github.com/tjfontaine/voicegate/internal/domain"
	"github.com/tjfontaine/voicegate/internal/parser"
	"github.com/tjfontaine/voicegate/internal/pipeline"
	"github.com/tjfontaine/voicegate/internal/sanitize"
	"github.com/tjfontaine/voicegate/internal/server"
	"github.com/tjfontaine/voicegate/internal/telemetry"
	"github.com/tjfontaine/voicegate/internal/verifier"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("voicegate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Platform.ApplicationID == "" {
		log.Fatal("platform.application_id must be configured")
	}

	roots, err := loadRoots(cfg.Platform.TrustedRootsPath)
	if err != nil {
		log.Fatalf("Failed to load trusted roots: %v", err)
	}

	hashes, err := parseAlgorithms(cfg.Platform.Algorithms)
	if err != nil {
		log.Fatalf("Failed to parse signature algorithms: %v", err)
	}

	v, err := verifier.New(verifier.Options{
		Roots:           roots,
		SigningDomain:   cfg.Platform.SigningDomain,
		ChainHost:       cfg.Platform.ChainHost,
		ChainPort:       strconv.Itoa(cfg.Platform.ChainPort),
		ChainPathPrefix: cfg.Platform.ChainPathPrefix,
		MaxChainDepth:   cfg.Platform.MaxChainDepth,
		Hashes:          hashes,
		Tolerance:       time.Duration(cfg.Platform.TimestampToleranceSeconds) * time.Second,
		Fetcher:         verifier.NewHTTPFetcher(time.Duration(cfg.Platform.FetchTimeoutSeconds) * time.Second),
	})
	if err != nil {
		log.Fatalf("Failed to configure verifier: %v", err)
	}

	p := parser.New(sanitize.NewStrict())
	pl := pipeline.New(v, p, cfg.Platform.ApplicationID, logger)

	sink, err := buildSink(cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to initialize audit sink: %v", err)
	}
	defer sink.Close()

	srv := server.New(cfg.Server.Port, logger, pl, defaultHandler(), sink)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Server shutdown complete")
}

// loadRoots reads a PEM bundle of trusted roots, or falls back to the system
// store when no path is configured.
func loadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return x509.SystemCertPool()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func parseAlgorithms(names []string) ([]crypto.Hash, error) {
	hashes := make([]crypto.Hash, 0, len(names))
	for _, name := range names {
		switch name {
		case "sha1-rsa":
			hashes = append(hashes, crypto.SHA1)
		case "sha256-rsa":
			hashes = append(hashes, crypto.SHA256)
		default:
			return nil, fmt.Errorf("unknown signature algorithm %q", name)
		}
	}
	return hashes, nil
}

func buildSink(cfg config.AuditConfig) (audit.Sink, error) {
	switch cfg.Type {
	case "sqlite":
		return audit.NewSQLiteSink(cfg.SQLite.Path)
	default:
		return audit.NewMemorySink(), nil
	}
}

// defaultHandler acknowledges every authenticated request. Applications
// replace this with their own intent dispatch.
func defaultHandler() server.Handler {
	return server.HandlerFunc(func(_ context.Context, req domain.TypedRequest) (*domain.Response, error) {
		switch req.RequestType() {
		case domain.RequestTypeSessionEnded:
			return domain.NewEmptyResponse(true), nil
		default:
			return domain.NewSpeechResponse("OK", false), nil
		}
	})
}
