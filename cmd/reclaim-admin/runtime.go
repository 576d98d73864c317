package main

import (
	"context"
	"errors"

	"github.com/target/reclaim/internal/adapters/reaper"
	"github.com/target/reclaim/internal/bootstrap"
	"github.com/target/reclaim/internal/domain/lifecycle"
	"github.com/target/reclaim/internal/domain/model"
	"github.com/target/reclaim/internal/service"
)

// jobQueue is the slice of the job service the CLI reads.
type jobQueue interface {
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	HasActiveFinalize(ctx context.Context, ref lifecycle.Ref) (bool, error)
}

// runtime is the wired service graph one command runs against.
type runtime struct {
	Lifecycle *service.LifecycleService
	Jobs      jobQueue
	// Reap runs a single reaper tick.
	Reap  func(ctx context.Context) error
	close func() error
}

func (r *runtime) Close() error {
	if r == nil || r.close == nil {
		return nil
	}
	return r.close()
}

// openRuntime connects the configured infrastructure and builds the services without starting
// any background loop.
func openRuntime(ctx context.Context, a *app) (*runtime, error) {
	infra, err := bootstrap.OpenInfrastructure(ctx, bootstrap.InfraOptions{Config: &a.cfg, Logger: a.logger})
	if err != nil {
		return nil, err
	}

	svcs, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &a.cfg,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Store:       infra.Store,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, errors.Join(err, infra.Close())
	}

	reap, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:          infra.DB,
		Store:       svcs.Store,
		Eraser:      svcs.Lifecycle,
		Jobs:        svcs.Jobs,
		Config:      a.cfg.Reaper,
		JobPriority: a.cfg.Finalizer.JobPriority,
		Lock:        svcs.Cache,
		Logger:      a.logger,
		Metrics:     svcs.Observability.MetricsSink,
	})
	if err != nil {
		return nil, errors.Join(err, infra.Close())
	}

	return &runtime{
		Lifecycle: svcs.Lifecycle,
		Jobs:      svcs.Jobs,
		Reap:      reap.RunOnce,
		close: func() error {
			svcs.Jobs.StopAllListeners()
			return errors.Join(svcs.Observability.Close(), infra.Close())
		},
	}, nil
}
