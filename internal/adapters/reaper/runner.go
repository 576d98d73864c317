// Package reaper wires the housekeeping loop: scheduled erases, orphaned finalizations and
// finalize job retention.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/reclaim/config"
	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/data"
	"github.com/target/reclaim/internal/observability/statsd"
	"github.com/target/reclaim/internal/service"
)

// Runner runs the reaper loop, or a single pass of it.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	// DB backs the job retention queries when Repo is nil.
	DB     *sql.DB
	Repo   core.ReaperRepository
	Store  core.EntityStore
	Eraser service.Eraser
	Jobs   service.FinalizeScheduler
	Config config.ReaperConfig

	// JobPriority is used for finalize jobs the reaper re-enqueues.
	JobPriority int
	// Lock, when set, makes concurrent instances share one tick.
	Lock    core.CacheRepository
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner validates opts and builds the reaper service.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.JobRepoOptions{})
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:        repo,
		Store:       opts.Store,
		Eraser:      opts.Eraser,
		Jobs:        opts.Jobs,
		Config:      opts.Config,
		JobPriority: opts.JobPriority,
		Lock:        opts.Lock,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: svc, logger: opts.Logger.With("component", "reaper_runner")}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection or reaper repository is required")
	}
	if opts.Store == nil {
		return errors.New("entity store is required")
	}
	if opts.Eraser == nil {
		return errors.New("eraser is required")
	}
	if opts.Jobs == nil {
		return errors.New("finalize scheduler is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the reaper loop and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single reaper tick.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.Tick(ctx)
}
