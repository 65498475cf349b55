package cellx

import (
	"pkt.systems/cellx/core"
	"pkt.systems/cellx/schema"
)

type observerFanout struct {
	observers []core.Observer
}

func newObserverFanout(observers ...core.Observer) core.Observer {
	out := make([]core.Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			out = append(out, obs)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return observerFanout{observers: out}
	}
}

func (f observerFanout) CellStarted(snapshot schema.CellSnapshot) {
	for _, obs := range f.observers {
		obs.CellStarted(snapshot)
	}
}

func (f observerFanout) CellMessage(msg schema.ServerMessage) {
	for _, obs := range f.observers {
		obs.CellMessage(msg)
	}
}

func (f observerFanout) CellFinished(snapshot schema.CellSnapshot) {
	for _, obs := range f.observers {
		obs.CellFinished(snapshot)
	}
}
