package core

import (
	"context"
	"io"
	"sync"

	"pkt.systems/cellx/schema"
)

// queue is an unbounded FIFO with a wake-up channel for select loops.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{}, 1)}
}

func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue[T]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// tryPop returns the oldest item without blocking.
func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// pop blocks until an item is available. It returns io.EOF once the queue
// is closed and drained.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, io.EOF
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.wake:
		}
	}
}

// Communication is the per-cell channel pair. Outbound messages flow from
// the engine to one consumer; inbound messages flow from any number of
// frontend producers to the cell worker. Both directions are unbounded and
// preserve arrival order.
type Communication struct {
	cellID schema.CellID

	emitMu sync.Mutex
	seq    uint64
	out    *queue[schema.ServerMessage]
	in     *queue[schema.FrontendMessage]
}

// NewCommunication constructs an open channel pair for a cell.
func NewCommunication(cellID schema.CellID) *Communication {
	return &Communication{
		cellID: cellID,
		out:    newQueue[schema.ServerMessage](),
		in:     newQueue[schema.FrontendMessage](),
	}
}

// Emit stamps and enqueues an outbound message. The first terminal message
// closes the outbound direction; later emits are dropped and reported false.
func (c *Communication) Emit(msg schema.ServerMessage) (schema.ServerMessage, bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.out.isClosed() {
		return msg, false
	}
	c.seq++
	msg.Seq = c.seq
	msg.CellID = c.cellID
	c.out.push(msg)
	if msg.Terminal() {
		c.out.close()
	}
	return msg, true
}

// Next returns the next outbound message, blocking until one is available.
// It returns io.EOF after the terminal message has been consumed.
func (c *Communication) Next(ctx context.Context) (schema.ServerMessage, error) {
	return c.out.pop(ctx)
}

// Send enqueues an inbound message. It returns a CellError wrapping
// schema.ErrChannelClosed once the cell stopped accepting input.
func (c *Communication) Send(msg schema.FrontendMessage) error {
	if !c.in.push(msg) {
		return &CellError{Kind: ErrorChannelClosed, Op: "send", Err: schema.ErrChannelClosed}
	}
	return nil
}

// Sender returns the inbound producer handle held by frontend bridges.
func (c *Communication) Sender() InboundSender {
	return InboundSender{comm: c}
}

// CloseInbound stops accepting frontend messages. Pending ones are discarded.
func (c *Communication) CloseInbound() {
	c.in.close()
	for {
		if _, ok := c.in.tryPop(); !ok {
			return
		}
	}
}

func (c *Communication) inboundReady() <-chan struct{} {
	return c.in.wake
}

func (c *Communication) nextInbound() (schema.FrontendMessage, bool) {
	return c.in.tryPop()
}

// InboundSender is a copyable producer for a cell's inbound direction.
type InboundSender struct {
	comm *Communication
}

// Send enqueues a frontend message for the cell.
func (s InboundSender) Send(msg schema.FrontendMessage) error {
	if s.comm == nil {
		return &CellError{Kind: ErrorChannelClosed, Op: "send", Err: schema.ErrChannelClosed}
	}
	return s.comm.Send(msg)
}
