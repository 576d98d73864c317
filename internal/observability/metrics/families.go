package metrics

import "github.com/target/reclaim/internal/observability/prom"

// Families declares every metric this package emits, for sinks that need the label set
// ahead of time.
func Families() []prom.Family {
	jobLabels := []string{"job_type", "transition", "result", "error_class"}
	finalizeLabels := []string{"entity_type", "outcome", "error_class"}
	stepLabels := []string{"operation", "result", "error_class"}
	tickLabels := []string{"result", "error_class"}

	return []prom.Family{
		{Name: "job.transition", Kind: prom.Counter, Labels: jobLabels,
			Help: "Job queue transitions by type, transition and result."},
		{Name: "job.duration", Kind: prom.Timing, Labels: jobLabels,
			Help: "Time from reservation to settlement."},
		{Name: "finalize.outcome", Kind: prom.Counter, Labels: finalizeLabels,
			Help: "Finalize attempts by entity type and outcome."},
		{Name: "finalize.duration", Kind: prom.Timing, Labels: finalizeLabels,
			Help: "Duration of one finalize attempt."},
		{Name: "finalize.attempt", Kind: prom.Gauge, Labels: []string{"entity_type"},
			Help: "Attempt number of the latest finalize per entity type."},
		{Name: "reaper.cleanup_operation", Kind: prom.Counter, Labels: stepLabels,
			Help: "Reaper step runs by operation and result."},
		{Name: "reaper.items_processed", Kind: prom.Counter, Labels: stepLabels,
			Help: "Rows erased, re-enqueued or pruned by reaper steps."},
		{Name: "reaper.cleanup", Kind: prom.Counter, Labels: tickLabels,
			Help: "Reaper ticks by result."},
		{Name: "reaper.cleanup_duration", Kind: prom.Timing, Labels: tickLabels,
			Help: "Duration of a reaper tick."},
		{Name: "reaper.last_success_epoch", Kind: prom.Gauge,
			Help: "Unix time of the last reaper tick where every step succeeded."},
	}
}
