package core

import "pkt.systems/cellx/schema"

// Observer passively receives cell lifecycle events and outbound messages.
// Implementations must return promptly and never block the caller.
type Observer interface {
	CellStarted(snapshot schema.CellSnapshot)
	CellMessage(msg schema.ServerMessage)
	CellFinished(snapshot schema.CellSnapshot)
}

type nopObserver struct{}

func (nopObserver) CellStarted(schema.CellSnapshot)  {}
func (nopObserver) CellMessage(schema.ServerMessage) {}
func (nopObserver) CellFinished(schema.CellSnapshot) {}
