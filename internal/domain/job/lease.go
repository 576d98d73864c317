// Package job holds queue-side policy for finalize jobs: leases, wakeups and retry scheduling.
package job

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeaseSource records how a lease length was chosen.
type LeaseSource string

const (
	// LeaseSourceExplicit means the caller asked for a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault means the request was zero and the default applied.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped means the request was out of range and was pinned to a bound.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy turns requested lease durations into whole seconds for the queue.
type LeasePolicy struct {
	fallback time.Duration
}

// NewLeasePolicy returns a policy that falls back to defaultLease.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{fallback: defaultLease}, nil
}

// Default returns the fallback lease.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.fallback
}

// HeartbeatInterval is how often a worker should extend a lease of the given length.
func (p *LeasePolicy) HeartbeatInterval(lease time.Duration) time.Duration {
	if lease <= 0 {
		lease = p.Default()
	}
	interval := lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// LeaseDecision is the resolved lease for one reservation or heartbeat.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the fallback lease applied.
func (d LeaseDecision) UsedDefault() bool { return d.Source == LeaseSourceDefault }

// Clamped reports whether the request was pinned to a bound.
func (d LeaseDecision) Clamped() bool { return d.Source == LeaseSourceClamped }

// Duration returns the decision as a time.Duration.
func (d LeaseDecision) Duration() time.Duration {
	return time.Duration(d.Seconds) * time.Second
}

// Resolve normalises a requested lease. Zero selects the default; anything below one
// second is clamped to one second.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request, Source: LeaseSourceDefault}
	if p == nil {
		return decision
	}

	target := request
	if request == 0 {
		target = p.fallback
	} else {
		decision.Source = LeaseSourceExplicit
	}

	seconds, clamped := wholeSeconds(target)
	decision.Seconds = seconds
	if clamped {
		decision.Source = LeaseSourceClamped
	}
	return decision
}

func wholeSeconds(d time.Duration) (int, bool) {
	s := int64(d / time.Second)
	switch {
	case s < 1:
		return 1, true
	case s > int64(math.MaxInt32):
		return math.MaxInt32, true
	default:
		return int(s), false
	}
}
