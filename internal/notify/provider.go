// Package notify fans out store and session events to observers.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies an event.
type Kind string

const (
	StoreConnected    Kind = "store_connected"
	StoreDisconnected Kind = "store_disconnected"
	StoreError        Kind = "store_error"
	LoginSuccess      Kind = "login_success"
	LoginFailed       Kind = "login_failed"
	RegisterSuccess   Kind = "register_success"
	RegisterFailed    Kind = "register_failed"
	SessionWarning    Kind = "session_warning"
	SessionTimeout    Kind = "session_timeout"
	Logout            Kind = "logout"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind             Kind      `json:"kind"`
	Message          string    `json:"message,omitempty"`
	Username         string    `json:"username,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	IsAdmin          bool      `json:"is_admin,omitempty"`
	RemainingSeconds int       `json:"remaining_seconds,omitempty"`
	Time             time.Time `json:"time"`
}

// Listener receives events. Notify is called synchronously by the emitter
// and must not block.
type Listener interface {
	Notify(e Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }

// Provider forwards events to an external channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Hub broadcasts events to subscribed listeners. A nil *Hub drops events.
type Hub struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (h *Hub) Subscribe(l Listener) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.listeners[id] = l
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Emit delivers e to every listener, stamping the time if unset.
func (h *Hub) Emit(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	ls := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		ls = append(ls, l)
	}
	h.mu.RUnlock()
	for _, l := range ls {
		l.Notify(e)
	}
}

// LogListener writes every event to the default slog logger.
type LogListener struct{}

func (LogListener) Notify(e Event) {
	attrs := []any{"kind", e.Kind}
	if e.Message != "" {
		attrs = append(attrs, "message", e.Message)
	}
	if e.Username != "" {
		attrs = append(attrs, "username", e.Username)
	}
	switch e.Kind {
	case StoreError, LoginFailed, RegisterFailed:
		slog.Warn("event", attrs...)
	case SessionWarning:
		slog.Info("event", append(attrs, "remaining_seconds", e.RemainingSeconds)...)
	case LoginSuccess:
		slog.Info("event", append(attrs, "is_admin", e.IsAdmin)...)
	default:
		slog.Info("event", attrs...)
	}
}
