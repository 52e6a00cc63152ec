// Package activity is the observability sink for the routing pipeline: a
// sanitizer, a bounded in-memory event buffer, and a websocket broadcast
// hub. Events are content-free by contract; the sanitizer enforces it.
package activity

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the in-memory feed buffer.
const DefaultCapacity = 256

const maxFieldLen = 200

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|authorization|password)\s*[:=]\s*\S+(?:\s+\S+)?`)

// Event is one feed entry. Metadata carries identifiers and stage names,
// never user content.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Narrative string            `json:"narrative"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// Sink receives pipeline events. Emit never blocks the caller.
type Sink interface {
	Emit(eventType, narrative string, metadata map[string]string)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(string, string, map[string]string) {}

// Feed is the process-wide event feed: a fixed-capacity ring buffer plus an
// optional live broadcaster.
type Feed struct {
	logger *slog.Logger
	hub    *Hub

	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

// NewFeed creates a feed with the given capacity (DefaultCapacity when <= 0).
// hub may be nil when no live stream is wired.
func NewFeed(log *slog.Logger, capacity int, hub *Hub) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		logger: log.With(slog.String("service", "activity_feed")),
		hub:    hub,
		events: make([]Event, capacity),
	}
}

// Emit sanitizes and records one event, overwriting the oldest entry once
// the buffer is full, then broadcasts it without blocking.
func (f *Feed) Emit(eventType, narrative string, metadata map[string]string) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      sanitize(eventType),
		Narrative: sanitize(narrative),
		At:        time.Now().UTC(),
	}
	if len(metadata) > 0 {
		evt.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			evt.Metadata[sanitize(k)] = sanitize(v)
		}
	}

	f.mu.Lock()
	f.events[f.next] = evt
	f.next++
	if f.next == len(f.events) {
		f.next = 0
		f.filled = true
	}
	f.mu.Unlock()

	if f.hub != nil {
		f.hub.Broadcast(evt)
	}
}

// Snapshot returns the buffered events, oldest first.
func (f *Feed) Snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.filled {
		out := make([]Event, f.next)
		copy(out, f.events[:f.next])
		return out
	}
	out := make([]Event, 0, len(f.events))
	out = append(out, f.events[f.next:]...)
	out = append(out, f.events[:f.next]...)
	return out
}

// sanitize strips newlines, redacts secret-shaped substrings, and truncates
// oversized values.
func sanitize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = secretPattern.ReplaceAllString(s, "$1=[redacted]")
	if len(s) > maxFieldLen {
		s = s[:maxFieldLen] + "…"
	}
	return s
}
