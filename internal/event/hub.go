// Package event provides an in-process hub for owner-scoped sync run events.
package event

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Type identifies the event category.
type Type string

const (
	TypeRunStarted  Type = "run_started"
	TypeRunFinished Type = "run_finished"
)

// Event is the payload delivered to subscribers of one owner.
type Event struct {
	Type     Type            `json:"type"`
	OwnerID  string          `json:"owner_id"`
	ConfigID string          `json:"config_id,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Filter narrows an owner's stream to one sync config or one run.
// Empty fields match everything.
type Filter struct {
	ConfigID string
	RunID    string
}

func (f Filter) Match(ev Event) bool {
	if f.ConfigID != "" && f.ConfigID != ev.ConfigID {
		return false
	}
	if f.RunID != "" && f.RunID != ev.RunID {
		return false
	}
	return true
}

// Final reports whether ev is the last event a run-scoped stream will see.
func (f Filter) Final(ev Event) bool {
	return f.RunID != "" && ev.RunID == f.RunID && ev.Type == TypeRunFinished
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscriber subscribes to owner-scoped events.
type Subscriber interface {
	Subscribe(ownerID string, filter Filter, buffer int) (string, <-chan Event, func())
}

type stream struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-process pub/sub dispatcher keyed by owner ID.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]stream
}

func NewHub() *Hub {
	return &Hub{
		streams: map[string]map[string]stream{},
	}
}

// Publish delivers one event to every subscriber of the owner whose filter
// matches. Slow subscribers miss the event instead of blocking the run.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	ownerID := strings.TrimSpace(event.OwnerID)
	if ownerID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.streams[ownerID] {
		if !s.filter.Match(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

// Subscribe registers one subscriber under an owner ID.
// It returns a stream ID, read-only event channel, and a cancel function.
func (h *Hub) Subscribe(ownerID string, filter Filter, buffer int) (string, <-chan Event, func()) {
	ownerID = strings.TrimSpace(ownerID)
	if h == nil || ownerID == "" {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[ownerID]
	if !ok {
		streams = map[string]stream{}
		h.streams[ownerID] = streams
	}
	streams[streamID] = stream{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.streams[ownerID]
			if streams == nil {
				return
			}
			if current, ok := streams[streamID]; ok {
				delete(streams, streamID)
				close(current.ch)
			}
			if len(streams) == 0 {
				delete(h.streams, ownerID)
			}
		})
	}
	return streamID, ch, cancel
}

// Subscribers returns the number of open streams for an owner.
func (h *Hub) Subscribers(ownerID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[strings.TrimSpace(ownerID)])
}
