// Package notify carries operational events (orders placed, liquidations,
// scan results, collaborator failures) to whoever is listening: the log,
// and any connected websocket clients through the Hub.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one notification.
type Event struct {
	Level     Level     `json:"level"`
	Kind      string    `json:"kind"` // order_placed, position_closed, scan_result, ...
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives events. Implementations must not block the caller.
type Notifier interface {
	Notify(ev Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ev Event) {
	var e *zerolog.Event
	switch ev.Level {
	case LevelError:
		e = log.Error()
	case LevelWarn:
		e = log.Warn()
	default:
		e = log.Info()
	}
	if ev.Symbol != "" {
		e = e.Str("symbol", ev.Symbol)
	}
	e.Str("kind", ev.Kind).Msg(ev.Message)
}

// Hub fans events out to subscribers over buffered channels. A slow
// subscriber drops events rather than blocking the trading loops.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	also Notifier
}

// NewHub creates a hub that forwards every event to next (usually the log
// notifier) in addition to subscribers.
func NewHub(next Notifier) *Hub {
	return &Hub{
		subs: make(map[chan Event]struct{}),
		also: next,
	}
}

// Subscribe registers a new listener. Call the returned cancel func to
// detach.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Notify forwards the event to the wrapped notifier and all subscribers.
func (h *Hub) Notify(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if h.also != nil {
		h.also.Notify(ev)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default: // drop rather than block
		}
	}
}
