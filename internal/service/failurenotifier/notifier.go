// Package failurenotifier delivers fatal finalize failures to the configured alerting
// sinks (Slack, PagerDuty).
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/reclaim/internal/observability/notify"
)

// SinkRegistration names a sink for log lines.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures a Service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// DedupWindow drops a second failure for the same entity that arrives within the
	// window. Zero sends every failure.
	DedupWindow time.Duration
	Now         func() time.Time
}

// Service sends each failure to every sink concurrently. A sink that errors is logged
// and does not affect the others.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	recent *recentSet
}

// NewService drops registrations without a sink and builds the Service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		logger: logger.With("component", "failure_notifier"),
		recent: newRecentSet(opts.DedupWindow, opts.Now),
	}
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool { return len(s.sinks) > 0 }

// NotifyJobFailure delivers payload to all sinks and returns when every delivery has
// finished. An empty Severity is sent as critical.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if !s.Enabled() {
		return
	}
	entity := payload.EntityKey()
	if s.recent.seen(entity) {
		s.logger.DebugContext(ctx, "failure already reported for entity", "entity", entity, "job_id", payload.JobID)
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var g errgroup.Group
	for _, reg := range s.sinks {
		g.Go(func() error {
			if err := reg.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name, "entity", entity, "job_id", payload.JobID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// recentSet remembers keys for a window. A zero window remembers nothing.
type recentSet struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	seenAt map[string]time.Time
}

func newRecentSet(window time.Duration, now func() time.Time) *recentSet {
	if now == nil {
		now = time.Now
	}
	return &recentSet{window: window, now: now, seenAt: map[string]time.Time{}}
}

// seen reports whether key was recorded within the window, recording it when it was not.
// Expired keys are pruned on each call.
func (r *recentSet) seen(key string) bool {
	if r.window <= 0 || key == "" {
		return false
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.seenAt {
		if now.Sub(at) >= r.window {
			delete(r.seenAt, k)
		}
	}
	if _, ok := r.seenAt[key]; ok {
		return true
	}
	r.seenAt[key] = now
	return false
}
