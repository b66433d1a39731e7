// Package server constructs and starts the relay HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

// CreateServer creates an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server, waiting for active
// requests up to timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// App bundles the hub and HTTP server built from a Config.
type App struct {
	Config Config
	Hub    *relay.Hub
	HTTP   *http.Server
	log    *zap.Logger
}

// NewApp builds the hub, handlers and HTTP server. Nothing is started.
func NewApp(cfg Config, log *zap.Logger) *App {
	cfg = Sanitize(cfg)
	opts := cfg.HubOptions()
	opts.Logger = log.Named("hub")
	hub := relay.NewHub(opts)

	origins := NewOriginPolicy(cfg.AllowedOrigins, log)
	handler := NewHandler(hub, origins, log.Named("http"))

	return &App{
		Config: cfg,
		Hub:    hub,
		HTTP:   CreateServer(cfg.Port, SetupRoutes(handler)),
		log:    log,
	}
}

// Run starts the hub and serves HTTP until ctx is cancelled or the listener
// fails, then shuts both down.
func (a *App) Run(ctx context.Context) error {
	go a.Hub.Run()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", a.HTTP.Addr))
		if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown requested")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("serve http: %w", err)
		}
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops accepting HTTP requests, then closes every relay connection.
func (a *App) Shutdown() error {
	timeout := a.Config.ShutdownTimeout

	var errs []error
	if err := ShutdownServer(a.HTTP, timeout); err != nil {
		errs = append(errs, err)
	}
	if err := a.Hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown hub: %w", err))
	}
	if len(errs) == 0 {
		a.log.Info("shutdown complete")
	}
	return errors.Join(errs...)
}
