package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"

	josescheme "github.com/nicknym/go-keymanager/internal/scheme/jose"
	openpgpscheme "github.com/nicknym/go-keymanager/internal/scheme/openpgp"
	fs "github.com/nicknym/go-keymanager/internal/storage/firestore"
	"github.com/nicknym/go-keymanager/internal/storage/inmemory"
	"github.com/nicknym/go-keymanager/nickserver"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

//go:embed local.yaml
var configFile []byte

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg, err := nickserver.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger.Info("Configuration loaded", "run_mode", cfg.RunMode)

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize key store", "err", err)
		os.Exit(1)
	}

	schemes := []scheme.Scheme{
		openpgpscheme.New(store, nil),
		josescheme.New(store, 0),
	}

	service := nickserver.New(cfg, store, schemes, logger)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting directory service...", "address", cfg.HTTPListenAddr)
		if startErr := service.Start(); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			errChan <- startErr
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Error("Service failed", "err", err)
		os.Exit(1)
	case sig := <-quit:
		logger.Info("OS signal received, initiating shutdown.", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if shutdownErr := service.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("Service shutdown failed", "err", shutdownErr)
		} else {
			logger.Info("Service shutdown complete")
		}
	}
}

// newStore builds the data layer: in-memory for local runs, Firestore
// otherwise.
func newStore(ctx context.Context, cfg *nickserver.Config, logger *slog.Logger) (keystore.Store, error) {
	if cfg.RunMode == "local" {
		logger.Info("Using in-memory key store")
		return inmemory.New(), nil
	}

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client for project %s: %w", cfg.ProjectID, err)
	}
	collection := cfg.FirestoreCollection
	if collection == "" {
		collection = "public-keys"
	}
	logger.Info("Using Firestore key store", "project_id", cfg.ProjectID, "collection", collection)
	return fs.New(fsClient, collection, logger), nil
}
