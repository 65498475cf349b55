package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

const (
	defaultHistory   = 4096
	defaultRetention = 5 * time.Minute
	subscriberDepth  = 256
)

// Deliverable is the part of a cell the hub attaches to.
type Deliverable interface {
	ID() schema.CellID
	OnMessage(fn func(schema.ServerMessage)) error
}

// Hub owns the delivery target of every cell started over HTTP and fans the
// messages out to SSE subscribers.
type Hub struct {
	mu          sync.Mutex
	cells       map[schema.CellID]*cellHub
	historySize int
	retention   time.Duration
	log         pslog.Logger
}

type cellHub struct {
	history  []schema.ServerMessage
	subs     map[chan schema.ServerMessage]struct{}
	finished bool
}

// NewHub constructs a hub with the given per-cell history size.
func NewHub(historySize int, retention time.Duration, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = defaultHistory
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		cells:       make(map[schema.CellID]*cellHub),
		historySize: historySize,
		retention:   retention,
		log:         logger,
	}
}

// Attach claims the cell's delivery target.
func (h *Hub) Attach(cell Deliverable) error {
	id := cell.ID()
	h.mu.Lock()
	if _, exists := h.cells[id]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: cell %s already attached", schema.ErrInvalidRequest, id)
	}
	h.cells[id] = &cellHub{subs: make(map[chan schema.ServerMessage]struct{})}
	h.mu.Unlock()
	if err := cell.OnMessage(func(msg schema.ServerMessage) { h.publish(id, msg) }); err != nil {
		h.mu.Lock()
		delete(h.cells, id)
		h.mu.Unlock()
		return err
	}
	h.log.With("cell", id).Debug("hub attached")
	return nil
}

// Subscribe returns the retained messages with seq > after and a channel for
// the rest. The channel is closed after the terminal message, or early when
// the subscriber falls behind; clients reconnect with Last-Event-ID.
func (h *Hub) Subscribe(id schema.CellID, after uint64) ([]schema.ServerMessage, <-chan schema.ServerMessage, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hub := h.cells[id]
	if hub == nil {
		return nil, nil, nil, schema.ErrCellNotFound
	}
	replay := make([]schema.ServerMessage, 0, len(hub.history))
	for _, msg := range hub.history {
		if msg.Seq > after {
			replay = append(replay, msg)
		}
	}
	sub := make(chan schema.ServerMessage, subscriberDepth)
	if hub.finished {
		close(sub)
		return replay, sub, func() {}, nil
	}
	hub.subs[sub] = struct{}{}
	h.log.With("cell", id).Debug("hub subscribe", "after", after, "replay", len(replay), "subs", len(hub.subs))
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := hub.subs[sub]; ok {
				delete(hub.subs, sub)
				close(sub)
			}
		})
	}
	return replay, sub, cancel, nil
}

// Known reports whether the hub still holds the cell.
func (h *Hub) Known(id schema.CellID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cells[id]
	return ok
}

func (h *Hub) publish(id schema.CellID, msg schema.ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hub := h.cells[id]
	if hub == nil || hub.finished {
		return
	}
	hub.history = append(hub.history, msg)
	if len(hub.history) > h.historySize {
		hub.history = hub.history[len(hub.history)-h.historySize:]
	}
	for sub := range hub.subs {
		select {
		case sub <- msg:
		default:
			delete(hub.subs, sub)
			close(sub)
			h.log.With("cell", id).Warn("hub subscriber too slow; closed", "seq", msg.Seq)
		}
	}
	if !msg.Terminal() {
		return
	}
	hub.finished = true
	for sub := range hub.subs {
		delete(hub.subs, sub)
		close(sub)
	}
	time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		if h.cells[id] == hub {
			delete(h.cells, id)
		}
		h.mu.Unlock()
	})
}
