package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/adapters/finalizerunner"
	"github.com/target/reclaim/internal/adapters/reaper"
)

// shutdownGrace is how long Run waits for components after the stop signal before giving up.
const shutdownGrace = 30 * time.Second

// RunOptions is what Run needs to start the enabled services.
type RunOptions struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

// component is one long-running part of the process. run blocks until ctx ends or the
// component fails.
type component struct {
	mode config.ServiceMode
	run  func(ctx context.Context) error
}

// Run starts every enabled component and blocks until ctx ends, SIGINT or SIGTERM
// arrives, or a component fails. The first failure stops the rest and is returned.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("run: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enabled, err := opts.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var selected []component
	for _, c := range opts.components(logger) {
		if enabled[c.mode] {
			selected = append(selected, c)
		}
	}
	err = supervise(ctx, selected, shutdownGrace, logger)
	if opts.Services.Jobs != nil {
		opts.Services.Jobs.StopAllListeners()
	}
	return err
}

func (o RunOptions) components(logger *slog.Logger) []component {
	svcs := o.Services
	return []component{
		{
			mode: config.ServiceModeHTTP,
			run: func(ctx context.Context) error {
				srv := NewHTTPServer(o.Config.HTTP, svcs, logger)
				return serveHTTP(ctx, srv, o.Config.HTTP.ShutdownTimeout, logger)
			},
		},
		{
			mode: config.ServiceModeFinalizer,
			run: func(ctx context.Context) error {
				fc := o.Config.Finalizer
				runner, err := finalizerunner.NewRunner(finalizerunner.RunnerOptions{
					Jobs:        svcs.Jobs,
					Handler:     svcs.Finalize,
					Logger:      logger,
					Metrics:     svcs.Observability.MetricsSink,
					Lease:       fc.JobLease,
					Concurrency: fc.Concurrency,
				})
				if err != nil {
					return err
				}
				return runner.Run(ctx)
			},
		},
		{
			mode: config.ServiceModeReaper,
			run: func(ctx context.Context) error {
				runner, err := reaper.NewRunner(reaper.RunnerOptions{
					DB:          o.DB,
					Store:       svcs.Store,
					Eraser:      svcs.Lifecycle,
					Jobs:        svcs.Jobs,
					Config:      o.Config.Reaper,
					JobPriority: o.Config.Finalizer.JobPriority,
					Lock:        svcs.Cache,
					Logger:      logger,
					Metrics:     svcs.Observability.MetricsSink,
				})
				if err != nil {
					return err
				}
				return runner.Run(ctx)
			},
		},
	}
}

// supervise runs components in an errgroup. A component returning context.Canceled after
// the group was stopped counts as a clean exit. Once ctx ends the components get grace to
// return.
func supervise(ctx context.Context, components []component, grace time.Duration, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			logger.Info("service started", "service", c.mode)
			err := c.run(gctx)
			if err == nil || (errors.Is(err, context.Canceled) && gctx.Err() != nil) {
				logger.Info("service stopped", "service", c.mode)
				return nil
			}
			logger.Error("service failed", "service", c.mode, "error", err)
			return fmt.Errorf("%s: %w", c.mode, err)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
		logger.Info("shutting down", "cause", context.Cause(gctx))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("services did not stop within %s", grace)
	}
}
