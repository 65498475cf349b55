package core

import (
	"github.com/google/uuid"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// EngineDeps captures optional dependencies for the engine.
type EngineDeps struct {
	Index    ExecutableIndex
	Observer Observer
	Logger   pslog.Logger
	// NewID generates cell ids; defaults to random UUIDs.
	NewID func() schema.CellID
}

func newCellID() schema.CellID {
	return schema.CellID(uuid.NewString())
}
