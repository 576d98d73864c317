package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/target/reclaim/config"
	httpx "github.com/target/reclaim/internal/http"
)

// NewHTTPServer builds the API server without starting it.
func NewHTTPServer(cfg config.HTTPConfig, svcs ServiceContainer, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(routerServices(svcs, cfg, logger)),
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// routerServices adapts the container to the router. Nil services stay nil interfaces.
func routerServices(svcs ServiceContainer, cfg config.HTTPConfig, logger *slog.Logger) httpx.RouterServices {
	out := httpx.RouterServices{
		APIToken: cfg.APIToken,
		Logger:   logger,
		Metrics:  svcs.Observability.MetricsHandler,
	}
	if svcs.Entities != nil {
		out.Entities = svcs.Entities
	}
	if svcs.Lifecycle != nil {
		out.Lifecycle = svcs.Lifecycle
	}
	if svcs.Jobs != nil {
		out.Jobs = svcs.Jobs
	}
	if svcs.Store != nil {
		out.Ready = svcs.Store
	}
	if out.APIToken == "" {
		logger.Warn("HTTP_API_TOKEN is empty; /api routes are unauthenticated")
	}
	return out
}

// serveHTTP listens on srv.Addr and serves until ctx ends, then drains in-flight requests
// for up to drain.
func serveHTTP(ctx context.Context, srv *http.Server, drain time.Duration, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return serveListener(ctx, srv, ln, drain, logger)
}

func serveListener(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration, logger *slog.Logger) error {
	if drain <= 0 {
		drain = 15 * time.Second
	}
	served := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", ln.Addr().String())
		served <- srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
