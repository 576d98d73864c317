package job

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

const (
	// DefaultRetryBaseWait is the fixed delay before a retryable finalize attempt runs again.
	DefaultRetryBaseWait = 10 * time.Second
	// DefaultRetryJitter is the upper bound of the random delay added to the base wait.
	DefaultRetryJitter = 5 * time.Second
	// DefaultRetryPriority ranks retried finalize jobs above fresh work.
	DefaultRetryPriority = 80
	// DefaultJobPriority is the priority of a first finalize attempt.
	DefaultJobPriority = 50
)

// ErrInvalidRetryPolicy is returned for negative durations or out-of-range priorities.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// JitterFunc returns a duration in [0, limit).
type JitterFunc func(limit time.Duration) time.Duration

// RetryPolicy schedules retryable finalize attempts: a fixed base wait plus jitter,
// unlimited attempts, elevated priority. The wait does not grow with the attempt count.
type RetryPolicy struct {
	BaseWait  time.Duration
	MaxJitter time.Duration
	Priority  int
	Jitter    JitterFunc
}

// RetryDecision is the schedule for one retry.
type RetryDecision struct {
	Attempt  int
	Delay    time.Duration
	Priority int
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseWait:  DefaultRetryBaseWait,
		MaxJitter: DefaultRetryJitter,
		Priority:  DefaultRetryPriority,
	}
}

// Validate rejects unusable settings.
func (p RetryPolicy) Validate() error {
	if p.BaseWait < 0 || p.MaxJitter < 0 {
		return ErrInvalidRetryPolicy
	}
	if p.Priority < 0 || p.Priority > 100 {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Next returns the schedule for the retry that follows attempt (the count of attempts so far).
func (p RetryPolicy) Next(attempt int) RetryDecision {
	jitter := p.Jitter
	if jitter == nil {
		jitter = CryptoJitter
	}
	delay := p.BaseWait
	if p.MaxJitter > 0 {
		delay += jitter(p.MaxJitter)
	}
	return RetryDecision{Attempt: attempt + 1, Delay: delay, Priority: p.Priority}
}

// CryptoJitter draws a uniform duration in [0, limit) from crypto/rand.
// It returns zero when the random source fails.
func CryptoJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	n := binary.BigEndian.Uint64(buf[:]) % uint64(limit)
	return time.Duration(int64(n)) // #nosec G115 - bounded by limit
}
