package testutil

import (
	"context"
	"sync"

	"github.com/target/reclaim/internal/core"
	"github.com/target/reclaim/internal/domain/lifecycle"
)

// EnqueuedJob is one recorded EnqueueFinalize call.
type EnqueuedJob struct {
	Ref  lifecycle.Ref
	Opts core.EnqueueOptions
}

// RecordingEnqueuer is a core.FinalizeEnqueuer that remembers every call.
type RecordingEnqueuer struct {
	mu   sync.Mutex
	jobs []EnqueuedJob

	// Err, when set, is returned from every call; the call is still recorded.
	Err error
}

func (r *RecordingEnqueuer) EnqueueFinalize(_ context.Context, ref lifecycle.Ref, opts core.EnqueueOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, EnqueuedJob{Ref: ref, Opts: opts})
	return r.Err
}

// Jobs returns the recorded calls in order.
func (r *RecordingEnqueuer) Jobs() []EnqueuedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EnqueuedJob(nil), r.jobs...)
}

// Refs returns the refs of the recorded calls in order.
func (r *RecordingEnqueuer) Refs() []lifecycle.Ref {
	jobs := r.Jobs()
	refs := make([]lifecycle.Ref, len(jobs))
	for i, j := range jobs {
		refs[i] = j.Ref
	}
	return refs
}

// Count returns how many calls were recorded for ref.
func (r *RecordingEnqueuer) Count(ref lifecycle.Ref) int {
	n := 0
	for _, j := range r.Jobs() {
		if j.Ref == ref {
			n++
		}
	}
	return n
}

// Reset forgets all recorded calls.
func (r *RecordingEnqueuer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = nil
}

var _ core.FinalizeEnqueuer = (*RecordingEnqueuer)(nil)
