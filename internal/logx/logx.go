package logx

import (
	"context"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	cellKey contextKey = iota
	bridgeKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithCell annotates the logger with the cell id if present.
func WithCell(ctx context.Context, cellID schema.CellID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if cellID != "" {
		if current, ok := ctx.Value(cellKey).(schema.CellID); ok && current == cellID {
			return log
		}
		log = log.With("cell", cellID)
	}
	return log
}

// WithBridge annotates the logger with the frontend bridge name.
func WithBridge(ctx context.Context, bridge string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if bridge != "" {
		if current, ok := ctx.Value(bridgeKey).(string); ok && current == bridge {
			return log
		}
		log = log.With("bridge", bridge)
	}
	return log
}

// WithCommand annotates the logger with the classified kind and token.
func WithCommand(log pslog.Logger, kind, token string) pslog.Logger {
	if kind != "" {
		log = log.With("kind", kind)
	}
	if token != "" {
		log = log.With("command", token)
	}
	return log
}

// ContextWithCell stores the cell marker on the context for log de-duplication.
func ContextWithCell(ctx context.Context, cellID schema.CellID) context.Context {
	if ctx == nil || cellID == "" {
		return ctx
	}
	return context.WithValue(ctx, cellKey, cellID)
}

// ContextWithBridge stores the bridge marker on the context for log de-duplication.
func ContextWithBridge(ctx context.Context, bridge string) context.Context {
	if ctx == nil || bridge == "" {
		return ctx
	}
	return context.WithValue(ctx, bridgeKey, bridge)
}

// ContextWithCellLogger attaches the logger and cell marker to the context.
func ContextWithCellLogger(ctx context.Context, log pslog.Logger, cellID schema.CellID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithCell(ctx, cellID)
}
