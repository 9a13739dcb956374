package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// errClosed is returned by writes after Close. A closed stream must be fully
// unobservable — no late event may reach the socket.
var errClosed = errors.New("stream: writer closed")

// eventWriter serializes SSE frames onto one connection. Writes may come from
// the session loop and an in-flight poll goroutine, so every write holds the
// mutex, and Close wins over any write that has not yet acquired it.
type eventWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	f      http.Flusher
	closed bool
	last   time.Time
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("stream: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering so events reach the client per-flush.
	w.Header().Set("X-Accel-Buffering", "no")
	return &eventWriter{w: w, f: f, last: time.Now()}, nil
}

// Event writes a named SSE event with a JSON payload and flushes.
func (ew *eventWriter) Event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream: marshal %s event: %w", name, err)
	}

	ew.mu.Lock()
	defer ew.mu.Unlock()
	if ew.closed {
		return errClosed
	}
	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("stream: write %s event: %w", name, err)
	}
	ew.f.Flush()
	ew.last = time.Now()
	return nil
}

// Comment writes an SSE comment line. Clients ignore it; intermediary proxies
// see traffic and keep the idle connection open.
func (ew *eventWriter) Comment(text string) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	if ew.closed {
		return errClosed
	}
	if _, err := fmt.Fprintf(ew.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("stream: write comment: %w", err)
	}
	ew.f.Flush()
	ew.last = time.Now()
	return nil
}

// LastWrite reports when the connection last carried any bytes.
func (ew *eventWriter) LastWrite() time.Time {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.last
}

// Close marks the writer closed. Subsequent writes are no-ops returning
// errClosed. Idempotent.
func (ew *eventWriter) Close() {
	ew.mu.Lock()
	ew.closed = true
	ew.mu.Unlock()
}
