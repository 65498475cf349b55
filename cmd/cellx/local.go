package main

import (
	"context"
	"fmt"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/appconfig"
	"pkt.systems/cellx/internal/execindex"
	"pkt.systems/cellx/internal/persist"
	"pkt.systems/pslog"
)

// localEngine is an in-process engine with its index and optional history.
type localEngine struct {
	engine   *core.Engine
	index    *execindex.Index
	store    *persist.Store
	recorder *persist.Recorder
}

func openLocalEngine(ctx context.Context, cfg appconfig.Config, record bool) (*localEngine, error) {
	logger := pslog.Ctx(ctx)
	index := execindex.New(cfg.Index.Path)
	if err := index.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("exec index: %w", err)
	}
	local := &localEngine{index: index}
	var observer core.Observer
	if record && !cfg.Logging.DisableHistory && cfg.History.DBPath != "" {
		store, err := persist.OpenWithLogger(cfg.History.DBPath, logger)
		if err != nil {
			return nil, err
		}
		local.store = store
		local.recorder = persist.NewRecorder(store, cfg.History.QueueDepth, logger)
		observer = local.recorder
	}
	engine, err := core.NewEngine(cfg.EngineSettings(), core.EngineDeps{
		Index:    index,
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		_ = local.Close(ctx)
		return nil, err
	}
	local.engine = engine
	return local, nil
}

func (l *localEngine) Close(ctx context.Context) error {
	var firstErr error
	if l.engine != nil {
		if err := l.engine.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if l.recorder != nil {
		if err := l.recorder.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.store != nil {
		if err := l.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
