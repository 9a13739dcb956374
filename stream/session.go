package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// session is the per-connection state machine shared by the job and owner
// streams. It owns exactly two periodic activities: the poll ticker and the
// keep-alive ticker. Both live in one loop goroutine and stop together when
// the connection context is cancelled, so no timer can fire after close.
//
// Change detection is deliberately not event-driven: server instances do not
// share memory, so the only authoritative signal is the shared sequence
// counter, polled at a fixed interval.
type session struct {
	key       string        // counter key (job:<id> or owner:<id>)
	counters  CounterReader // shared cross-process counter store
	w         *eventWriter
	push      func(ctx context.Context) error // recompute and write one update event
	pollEvery time.Duration
	keepAlive time.Duration
	log       *slog.Logger
	hub       *Hub

	// lastSeq is the last counter value whose update was successfully pushed.
	// Written only by the single in-flight poll, read by the next one.
	lastSeq atomic.Int64

	// inFlight guards against overlapping polls. A tick that fires while a
	// prior poll is still outstanding is skipped, not queued: the next tick
	// observes the latest counter anyway (latest wins).
	inFlight atomic.Bool

	wg sync.WaitGroup
}

// run blocks until ctx is cancelled (client disconnect or server shutdown).
// On return, both tickers are stopped, the writer is closed, and any
// in-flight poll has finished — the session is fully unobservable afterwards.
func (s *session) run(ctx context.Context) {
	poll := time.NewTicker(s.pollEvery)
	keep := time.NewTicker(s.keepAlive)

	defer func() {
		poll.Stop()
		keep.Stop()
		// Close the writer before waiting: an in-flight poll that has not yet
		// written finds the writer closed and its push becomes a no-op.
		s.w.Close()
		s.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-poll.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.hub.skippedTicks.Add(1)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.inFlight.Store(false)
				s.poll(ctx)
			}()

		case <-keep.C:
			// Only when the connection has been idle: a stream that pushed
			// data recently needs no extra traffic.
			if time.Since(s.w.LastWrite()) < s.keepAlive {
				continue
			}
			if err := s.w.Comment("keep-alive"); err != nil && err != errClosed {
				s.log.Debug("stream: keep-alive write failed", "key", s.key, "error", err)
			}
		}
	}
}

// poll performs one change check. Errors are per-tick: logged, never fatal to
// the session. A counter-store failure reads as "no change yet".
func (s *session) poll(ctx context.Context) {
	cur, err := s.counters.Read(ctx, s.key)
	if err != nil {
		s.hub.pollErrors.Add(1)
		s.log.Warn("stream: counter read failed, treating as no change", "key", s.key, "error", err)
		return
	}
	if cur <= s.lastSeq.Load() {
		return
	}

	if err := s.push(ctx); err != nil {
		if err == errClosed {
			return
		}
		s.hub.pollErrors.Add(1)
		// lastSeq not advanced: the update is retried on the next tick.
		s.log.Warn("stream: push failed, will retry next tick", "key", s.key, "error", err)
		return
	}
	s.lastSeq.Store(cur)
	s.hub.pushes.Add(1)
}
