// Package stream implements Fieldline's live update fan-out: long-lived SSE
// connections over which viewers observe job mutations without polling the
// API themselves.
//
// Two endpoints exist. The job stream authorizes anonymous viewers by
// capability token and pushes full snapshots. The owner stream authorizes an
// authenticated manager and pushes lightweight "something changed" markers —
// an owner may have many jobs, so that channel trades push richness for a
// follow-up list fetch by the client.
//
// Sessions detect change by polling the shared sequence counter store, which
// is the only signal that crosses server processes: a mutation handled by
// instance A must reach a viewer connected to instance B.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/fieldline/auth"
	"github.com/fieldline/fieldline/seqcounter"
	"github.com/fieldline/fieldline/snapshot"
	"github.com/fieldline/fieldline/store"
)

// JobSource loads authoritative job records. Implemented by *store.Store.
type JobSource interface {
	GetJobByID(ctx context.Context, id string) (*store.Job, error)
}

// CounterReader reads sequence counters. Implemented by *seqcounter.Store.
type CounterReader interface {
	Read(ctx context.Context, key string) (int64, error)
}

// Config tunes the per-session timers.
type Config struct {
	// PollInterval is the counter check frequency. Default: 1s.
	PollInterval time.Duration
	// KeepAliveInterval is the idle comment frequency. Default: 15s.
	KeepAliveInterval time.Duration
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
}

// Hub creates stream sessions and aggregates their counters.
type Hub struct {
	jobs     JobSource
	counters CounterReader
	cfg      Config
	log      *slog.Logger

	active       atomic.Int64
	pushes       atomic.Int64
	skippedTicks atomic.Int64
	pollErrors   atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// NewHub creates a Hub over the job source and counter store.
func NewHub(jobs JobSource, counters CounterReader, cfg Config, opts ...Option) *Hub {
	cfg.defaults()
	h := &Hub{
		jobs:     jobs,
		counters: counters,
		cfg:      cfg,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Stats are point-in-time counters across all sessions of this instance.
type Stats struct {
	ActiveSessions int64 `json:"active_sessions"`
	Pushes         int64 `json:"pushes"`
	SkippedTicks   int64 `json:"skipped_ticks"`
	PollErrors     int64 `json:"poll_errors"`
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		ActiveSessions: h.active.Load(),
		Pushes:         h.pushes.Load(),
		SkippedTicks:   h.skippedTicks.Load(),
		PollErrors:     h.pollErrors.Load(),
	}
}

// ServeJob handles GET /api/stream/jobs/{jobID}?role=&token=.
//
// Authorization happens before any event is written: unknown job is a 404,
// wrong role or token a 401; both terminate the connection with no stream
// body, so the client knows to stop retrying that token.
func (h *Hub) ServeJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	role, err := store.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid role")
		return
	}
	token := r.URL.Query().Get("token")

	job, err := h.jobs.GetJobByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error("stream: job load failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Two-variant tagged check: the role selects which token field must
	// match exactly.
	if token == "" || job.Token(role) != token {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	ew, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s := &session{
		key:       seqcounter.JobKey(jobID),
		counters:  h.counters,
		w:         ew,
		pollEvery: h.cfg.PollInterval,
		keepAlive: h.cfg.KeepAliveInterval,
		log:       h.log,
		hub:       h,
	}
	s.push = func(ctx context.Context) error {
		job, err := h.jobs.GetJobByID(ctx, jobID)
		if err != nil {
			return err
		}
		return ew.Event("job.updated", snapshot.Project(job))
	}

	// Initial sequence is read before the first push; a mutation landing
	// between the read and the push is caught by the first poll tick.
	if seq, err := h.counters.Read(ctx, s.key); err == nil {
		s.lastSeq.Store(seq)
	} else {
		h.log.Warn("stream: initial counter read failed", "key", s.key, "error", err)
	}

	if err := ew.Event("connected", snapshot.Project(job)); err != nil {
		h.log.Debug("stream: initial push failed", "job_id", jobID, "error", err)
		return
	}

	h.active.Add(1)
	defer h.active.Add(-1)
	h.log.Info("stream: job session opened", "job_id", jobID, "role", role)
	s.run(ctx)
	h.log.Info("stream: job session closed", "job_id", jobID, "role", role)
}

// ownerChanged is the lightweight owner stream payload: no job detail, the
// client refetches its own list.
type ownerChanged struct {
	Changed bool `json:"changed"`
}

// ServeOwner handles GET /api/stream/owner under an authenticated manager
// session. The stream is scoped to the manager's own owner identifier.
func (h *Hub) ServeOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.GetClaims(ctx)
	if claims == nil || claims.ManagerID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ownerID := claims.ManagerID

	ew, err := newEventWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s := &session{
		key:       seqcounter.OwnerKey(ownerID),
		counters:  h.counters,
		w:         ew,
		pollEvery: h.cfg.PollInterval,
		keepAlive: h.cfg.KeepAliveInterval,
		log:       h.log,
		hub:       h,
	}
	s.push = func(context.Context) error {
		return ew.Event("owner.updated", ownerChanged{Changed: true})
	}

	if seq, err := h.counters.Read(ctx, s.key); err == nil {
		s.lastSeq.Store(seq)
	} else {
		h.log.Warn("stream: initial counter read failed", "key", s.key, "error", err)
	}

	if err := ew.Event("connected", map[string]string{"owner_id": ownerID}); err != nil {
		h.log.Debug("stream: initial push failed", "owner_id", ownerID, "error", err)
		return
	}

	h.active.Add(1)
	defer h.active.Add(-1)
	h.log.Info("stream: owner session opened", "owner_id", ownerID)
	s.run(ctx)
	h.log.Info("stream: owner session closed", "owner_id", ownerID)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
