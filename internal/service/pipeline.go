package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/reclaim/internal/domain/lifecycle"
)

// FinalizerPipelineOptions groups dependencies for FinalizerPipeline.
type FinalizerPipelineOptions struct {
	Resolver *DependencyResolver // Required: runs dependency-check descriptors
	Logger   *slog.Logger        // Optional: structured logger
}

// FinalizerPipeline runs a type's finalizers in order and stops at the first result that
// is not Continue.
type FinalizerPipeline struct {
	resolver *DependencyResolver
	logger   *slog.Logger
}

// NewFinalizerPipeline constructs a FinalizerPipeline.
func NewFinalizerPipeline(opts FinalizerPipelineOptions) *FinalizerPipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizerPipeline{resolver: opts.Resolver, logger: logger.With("component", "finalizer_pipeline")}
}

// Run executes every finalizer of def against e. Finalizers run outside any transaction and
// may persist partial progress themselves. A panic is reported as Fatal.
func (p *FinalizerPipeline) Run(ctx context.Context, def *lifecycle.TypeDefinition, e *lifecycle.Entity) lifecycle.Result {
	for _, fd := range def.Finalizers() {
		if err := ctx.Err(); err != nil {
			return lifecycle.Retry(fmt.Sprintf("finalization interrupted: %v", err))
		}
		res := p.runOne(ctx, fd, e)
		if res.Proceed() {
			continue
		}
		res.Finalizer = fd.Name
		p.logger.DebugContext(ctx, "finalizer stopped pipeline",
			"entity", e.Key(), "finalizer", fd.Name, "outcome", res.Outcome, "reason", res.Reason)
		return res
	}
	return lifecycle.Continue()
}

func (p *FinalizerPipeline) runOne(ctx context.Context, fd lifecycle.FinalizerDescriptor, e *lifecycle.Entity) (res lifecycle.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = lifecycle.Fatal(fmt.Errorf("finalizer %s panicked: %v", fd.Name, r))
		}
	}()
	if fd.Dependency != nil {
		return p.resolver.Check(ctx, e, *fd.Dependency)
	}
	return fd.Fn(ctx, e)
}
