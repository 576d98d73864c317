package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/target/reclaim/internal/domain/model"
)

// ErrWaiterRequired is returned when a notifier is built without a Waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the queue signals that a job of the given type was added.
type Waiter interface {
	WaitForNotification(ctx context.Context, jobType model.JobType) error
}

// Notifier lets workers sleep until new jobs arrive instead of polling.
type Notifier interface {
	Subscribe(jobType model.JobType) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure NewNotifier.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds a single wait so the listener wakes workers periodically. Default 1m.
	WaitWindow time.Duration
	// Backoff is the pause after a failed wait. Default 250ms.
	Backoff time.Duration
}

// topic is the listener and subscriber set for one job type.
type topic struct {
	stop context.CancelFunc
	subs map[chan struct{}]struct{}
}

// DefaultNotifier shares one listener per job type across all subscribers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	topics map[model.JobType]*topic
}

// NewNotifier builds a DefaultNotifier.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		topics:     make(map[model.JobType]*topic),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = time.Minute
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe returns a buffered wakeup channel and a function that releases it.
// The listener for a job type starts with its first subscriber and stops with its last.
func (n *DefaultNotifier) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[jobType]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &topic{stop: cancel, subs: make(map[chan struct{}]struct{})}
		n.topics[jobType] = t
		go n.listen(ctx, jobType)
	}

	ch := make(chan struct{}, 1)
	t.subs[ch] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() { n.unsubscribe(jobType, ch) })
	}
	return release, ch
}

func (n *DefaultNotifier) unsubscribe(jobType model.JobType, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[jobType]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	drainAndClose(ch)
	if len(t.subs) == 0 {
		t.stop()
		delete(n.topics, jobType)
	}
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for jobType, t := range n.topics {
		t.stop()
		for ch := range t.subs {
			drainAndClose(ch)
		}
		delete(n.topics, jobType)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, jobType model.JobType) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, jobType)
		cancel()

		n.wake(jobType)

		if err == nil || ctx.Err() != nil {
			continue
		}
		pause := time.NewTimer(n.backoff)
		select {
		case <-ctx.Done():
			pause.Stop()
			return
		case <-pause.C:
		}
	}
}

func (n *DefaultNotifier) wake(jobType model.JobType) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[jobType]
	if !ok {
		return
	}
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose empties the buffer before closing so receivers see the close at once.
func drainAndClose(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
	close(ch)
}

var _ Notifier = (*DefaultNotifier)(nil)
