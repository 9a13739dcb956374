// Package notify is the mutation notifier: the bridge between job mutations
// and the sequence counters that stream sessions poll.
//
// Every state-mutating operation calls JobMutated or OwnerMutated exactly once
// per logical mutation. The bumps are fire-and-forget: they run on a
// background goroutine with their own timeout, errors are swallowed and
// logged, and the calling mutation is never delayed or failed by notification
// delivery.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldline/fieldline/seqcounter"
)

// DefaultTimeout bounds a single background bump.
const DefaultTimeout = 5 * time.Second

// Notifier bumps sequence counters in the background.
type Notifier struct {
	counters *seqcounter.Store
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithTimeout sets the per-bump timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// New creates a Notifier over the given counter store.
func New(counters *seqcounter.Store, opts ...Option) *Notifier {
	n := &Notifier{
		counters: counters,
		logger:   slog.Default(),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// JobMutated signals that a job's mutable fields changed. It bumps the job
// counter and the owner counter, so both the per-job viewers and the owner's
// job-list stream observe the change. Never blocks, never returns an error.
func (n *Notifier) JobMutated(jobID, ownerID string) {
	n.bump(seqcounter.JobKey(jobID), seqcounter.OwnerKey(ownerID))
}

// OwnerMutated signals an owner-scoped change that is not tied to one job's
// content (e.g. a job was created or deleted). Never blocks.
func (n *Notifier) OwnerMutated(ownerID string) {
	n.bump(seqcounter.OwnerKey(ownerID))
}

// Wait blocks until all in-flight bumps complete. Used by tests and by
// graceful shutdown so counters land before the process exits.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) bump(keys ...string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// Detached from the caller's context: the mutation that triggered the
		// bump may have completed its request long before this runs.
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		for _, key := range keys {
			if err := n.counters.Increment(ctx, key); err != nil {
				n.logger.Warn("notify: counter bump failed", "key", key, "error", err)
			}
		}
	}()
}
