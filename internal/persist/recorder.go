package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// DefaultQueueDepth is the default number of buffered history events.
const DefaultQueueDepth = 1024

type eventKind int

const (
	eventStarted eventKind = iota
	eventMessage
	eventFinished
)

type event struct {
	kind eventKind
	at   time.Time
	snap schema.CellSnapshot
	msg  schema.ServerMessage
}

// Recorder writes engine events to a Store from a single goroutine. Events
// are queued without blocking; when the queue is full they are dropped.
type Recorder struct {
	store *Store
	log   pslog.Logger

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
}

// NewRecorder starts a recorder with the given queue depth.
func NewRecorder(store *Store, depth int, logger pslog.Logger) *Recorder {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	r := &Recorder{
		store:  store,
		log:    logger,
		events: make(chan event, depth),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// CellStarted queues a start event.
func (r *Recorder) CellStarted(snap schema.CellSnapshot) {
	r.enqueue(event{kind: eventStarted, at: time.Now(), snap: snap})
}

// CellMessage queues an outbound message.
func (r *Recorder) CellMessage(msg schema.ServerMessage) {
	if msg.Type != schema.MessageOutput && msg.Type != schema.MessageError {
		return
	}
	r.enqueue(event{kind: eventMessage, msg: msg})
}

// CellFinished queues a finish event.
func (r *Recorder) CellFinished(snap schema.CellSnapshot) {
	r.enqueue(event{kind: eventFinished, at: time.Now(), snap: snap})
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(ev event) {
	if r.closed.Load() {
		return
	}
	select {
	case r.events <- ev:
	default:
		n := r.dropped.Add(1)
		if r.log != nil && (n == 1 || n%100 == 0) {
			r.log.Warn("history queue full; dropping events", "dropped", n)
		}
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-r.quit:
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev event) {
	ctx := context.Background()
	switch ev.kind {
	case eventStarted:
		_ = r.store.StartCell(ctx, ev.snap, ev.at)
	case eventMessage:
		_ = r.store.AppendMessage(ctx, ev.msg)
	case eventFinished:
		_ = r.store.FinishCell(ctx, ev.snap, ev.at)
	}
}

// Close stops accepting events and waits for queued ones to be written or
// ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.quit)
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
