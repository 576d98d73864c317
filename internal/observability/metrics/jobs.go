// Package metrics names and tags the StatsD metrics emitted by the finalize workers and
// the reaper. Every Emit function is a no-op on a nil sink.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/reclaim/internal/observability/errors"
	"github.com/target/reclaim/internal/observability/statsd"
)

// Result tag values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Result picks the result tag for work that touched n items and ended with err.
func Result(n int64, err error) string {
	switch {
	case err != nil:
		return ResultError
	case n == 0:
		return ResultNoop
	default:
		return ResultSuccess
	}
}

func withErrorClass(tags map[string]string, err error) map[string]string {
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
	return tags
}

// JobMetric is one job queue transition (reserve, complete, retry, fail).
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle counts a queue transition and times it when Duration is set.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"job_type": in.JobType, "transition": in.Transition, "result": in.Result}
	if in.Result == ResultError {
		tags = withErrorClass(tags, in.Err)
	}
	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// FinalizeMetric describes one finalize attempt.
type FinalizeMetric struct {
	EntityType string
	// Outcome is one of discarded, destroyed, aborted, retry, fatal.
	Outcome  string
	Attempt  int
	Duration time.Duration
	Err      error
}

// EmitFinalizeOutcome counts finalize attempts per entity type and outcome. Attempt is
// reported as a gauge so long retry chains stand out.
func EmitFinalizeOutcome(sink statsd.Sink, in FinalizeMetric) {
	if sink == nil {
		return
	}
	tags := withErrorClass(map[string]string{"entity_type": in.EntityType, "outcome": in.Outcome}, in.Err)
	sink.Count("finalize.outcome", 1, tags)
	if in.Duration > 0 {
		sink.Timing("finalize.duration", in.Duration, CloneTags(tags))
	}
	if in.Attempt > 0 {
		sink.Gauge("finalize.attempt", float64(in.Attempt), map[string]string{"entity_type": in.EntityType})
	}
}

// ReaperStep is the result of one reaper step within a tick.
type ReaperStep struct {
	Operation string
	Count     int64
	Err       error
}

// EmitReaperTick reports a whole reaper tick: one summary count and timing, one count per
// step and, when every step succeeded, the last success time.
func EmitReaperTick(sink statsd.Sink, steps []ReaperStep, elapsed time.Duration, at time.Time) {
	if sink == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, st := range steps {
		total += st.Count
		if firstErr == nil {
			firstErr = st.Err
		}
		tags := withErrorClass(map[string]string{
			"operation": st.Operation,
			"result":    Result(st.Count, st.Err),
		}, st.Err)
		sink.Count("reaper.cleanup_operation", 1, tags)
		if st.Err == nil && st.Count > 0 {
			sink.Count("reaper.items_processed", st.Count, CloneTags(tags))
		}
	}

	tags := withErrorClass(map[string]string{"result": Result(total, firstErr)}, firstErr)
	sink.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		sink.Timing("reaper.cleanup_duration", elapsed, CloneTags(tags))
	}
	if firstErr == nil {
		sink.Gauge("reaper.last_success_epoch", float64(at.Unix()), nil)
	}
}

// CloneTags returns a shallow copy of src, or nil when src is empty.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
