// Package nickserver wires the directory service: the address→public-key
// lookup endpoint the key manager resolves against, and the provider-style
// publish endpoint that signs and republishes a user's key.
package nickserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/nicknym/go-keymanager/internal/api"
	"github.com/nicknym/go-keymanager/pkg/keystore"
	"github.com/nicknym/go-keymanager/pkg/scheme"
)

// Wrapper embeds the BaseServer to inherit standard server functionality.
type Wrapper struct {
	*microservice.BaseServer
	logger *slog.Logger
}

// New creates and wires up the directory service.
func New(cfg *Config, store keystore.Store, schemes []scheme.Scheme, logger *slog.Logger) *Wrapper {
	baseServer := microservice.NewBaseServer(logger, cfg.HTTPListenAddr)

	apiHandler := &api.API{Store: store, Schemes: schemes, Logger: logger}

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	sessionMiddleware := api.NewSessionMiddleware(cfg.SessionToken, logger)

	lookupHandler := http.HandlerFunc(apiHandler.LookupHandler)
	mux.Handle("GET /keys", corsMiddleware(lookupHandler))

	publishHandler := http.HandlerFunc(apiHandler.PublishHandler)
	mux.Handle("PUT /{version}/users/{uid}", corsMiddleware(sessionMiddleware(publishHandler)))

	optionsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mux.Handle("OPTIONS /keys", corsMiddleware(optionsHandler))

	return &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}
}

// Start runs the HTTP server and reports readiness once the listener is
// active.
func (w *Wrapper) Start() error {
	errChan := make(chan error, 1)
	httpReadyChan := make(chan struct{})
	w.BaseServer.SetReadyChannel(httpReadyChan)

	go func() {
		if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("HTTP server failed", "err", err)
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-httpReadyChan:
		w.logger.Info("HTTP listener is active.")
		w.SetReady(true)
		w.logger.Info("Directory service is now ready.")

	case err := <-errChan:
		return err
	}

	return <-errChan
}
