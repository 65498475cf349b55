// Package eventbus fans cell lifecycle events out to live subscribers. It
// satisfies core.Observer so it can be attached next to the history recorder.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventStarted is published when a cell is registered.
	EventStarted EventType = "started"
	// EventMessage carries a delivered outbound message.
	EventMessage EventType = "message"
	// EventFinished is published after the terminal message.
	EventFinished EventType = "finished"
)

// Event is one lifecycle notification.
type Event struct {
	Type     EventType             `json:"type"`
	CellID   schema.CellID         `json:"cell_id"`
	Snapshot *schema.CellSnapshot  `json:"snapshot,omitempty"`
	Message  *schema.ServerMessage `json:"message,omitempty"`
}

// Bus fanouts events to subscribers. Subscribers filter by cell id, or
// receive every cell with an empty id.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.CellID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.CellID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel. An empty
// cellID subscribes to all cells.
func (b *Bus) Subscribe(cellID schema.CellID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	cellSubs := b.subs[cellID]
	if cellSubs == nil {
		cellSubs = make(map[chan Event]struct{})
		b.subs[cellID] = cellSubs
	}
	cellSubs[ch] = struct{}{}
	count := len(cellSubs)
	b.mu.Unlock()
	b.log.With("cell", cellID).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[cellID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, cellID)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("cell", cellID).Debug("eventbus unsubscribe")
		})
	}
}

// CellStarted publishes a started event.
func (b *Bus) CellStarted(snapshot schema.CellSnapshot) {
	b.publish(Event{Type: EventStarted, CellID: snapshot.Props.ID, Snapshot: &snapshot})
}

// CellMessage publishes a message event.
func (b *Bus) CellMessage(msg schema.ServerMessage) {
	b.publish(Event{Type: EventMessage, CellID: msg.CellID, Message: &msg})
}

// CellFinished publishes a finished event.
func (b *Bus) CellFinished(snapshot schema.CellSnapshot) {
	b.publish(Event{Type: EventFinished, CellID: snapshot.Props.ID, Snapshot: &snapshot})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[event.CellID])+len(b.subs[""]))
	for sub := range b.subs[event.CellID] {
		subs = append(subs, sub)
	}
	if event.CellID != "" {
		for sub := range b.subs[""] {
			subs = append(subs, sub)
		}
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("cell", event.CellID).Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
