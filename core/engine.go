package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pkt.systems/cellx/internal/command"
	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// Engine runs cells. Each cell executes on its own goroutine; cells share
// only the read-only executable index.
type Engine struct {
	cfg      schema.EngineConfig
	index    ExecutableIndex
	observer Observer
	exec     *Executor
	logger   pslog.Logger
	newID    func() schema.CellID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	cells  map[schema.CellID]*Cell
	closed bool
}

// NewEngine constructs a cell engine.
func NewEngine(cfg schema.EngineConfig, deps EngineDeps) (*Engine, error) {
	normalized, err := schema.NormalizeEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	observer := deps.Observer
	if observer == nil || normalized.DisableHistory {
		observer = nopObserver{}
	}
	newID := deps.NewID
	if newID == nil {
		newID = newCellID
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      normalized,
		index:    deps.Index,
		observer: observer,
		exec:     NewExecutor(normalized.ReadChunkBytes),
		logger:   deps.Logger,
		newID:    newID,
		ctx:      ctx,
		cancel:   cancel,
		cells:    make(map[schema.CellID]*Cell),
	}, nil
}

// Run creates a cell and starts its worker. The returned cell is the handle
// used to send frontend messages and attach a delivery target; it keeps
// undelivered output after the worker exits, while the registry does not.
// Run returns without waiting for classification or execution.
func (e *Engine) Run(ctx context.Context, props schema.CellProps) (*Cell, error) {
	props = props.Clone()
	if props.ID == "" {
		props.ID = e.newID()
	} else if err := schema.ValidateCellID(props.ID); err != nil {
		return nil, err
	}
	if len(props.Args) == 0 {
		parsed, err := command.Props(props.ID, props.Input, props.CurrentDir)
		if err != nil {
			return nil, err
		}
		props = parsed
	} else if props.Input == "" {
		props.Input = strings.Join(props.Args, " ")
	}
	dir, err := schema.NormalizeWorkingDir(props.CurrentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: working dir: %v", schema.ErrInvalidRequest, err)
	}
	props.CurrentDir = dir

	base := e.logger
	if base == nil {
		base = pslog.Ctx(ctx)
	}
	log := base.With("cell", props.ID)

	cell := &Cell{
		props:    props,
		comm:     NewCommunication(props.ID),
		cfg:      e.cfg,
		index:    e.index,
		exec:     e.exec,
		observer: e.observer,
		log:      log,
		state:    schema.CellCreated,
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, schema.ErrEngineClosed
	}
	if _, exists := e.cells[props.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: duplicate cell id %s", schema.ErrInvalidRequest, props.ID)
	}
	e.cells[props.ID] = cell
	e.wg.Add(1)
	e.mu.Unlock()

	log.Info("cell start", "dir", props.CurrentDir, "args", len(props.Args))
	log.Trace("cell input", "input", props.Input)
	e.observer.CellStarted(cell.Snapshot())

	workerCtx := logx.ContextWithCellLogger(e.ctx, log, props.ID)
	go func() {
		defer e.wg.Done()
		defer e.release(cell)
		cell.run(workerCtx)
	}()
	return cell, nil
}

// release drops a finished cell from the registry. Delivery goes through the
// *Cell returned by Run, so output queued after this point is not lost.
func (e *Engine) release(cell *Cell) {
	e.mu.Lock()
	if current, ok := e.cells[cell.ID()]; ok && current == cell {
		delete(e.cells, cell.ID())
	}
	e.mu.Unlock()
}

// Lookup returns a running cell by id.
func (e *Engine) Lookup(id schema.CellID) (*Cell, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cell, ok := e.cells[id]
	if !ok {
		return nil, schema.ErrCellNotFound
	}
	return cell, nil
}

// Send forwards a frontend message to a running cell.
func (e *Engine) Send(id schema.CellID, msg schema.FrontendMessage) error {
	cell, err := e.Lookup(id)
	if err != nil {
		return err
	}
	return cell.Send(msg)
}

// List returns snapshots of the cells still running, ordered by id.
func (e *Engine) List() []schema.CellSnapshot {
	e.mu.Lock()
	cells := make([]*Cell, 0, len(e.cells))
	for _, cell := range e.cells {
		cells = append(cells, cell)
	}
	e.mu.Unlock()
	out := make([]schema.CellSnapshot, 0, len(cells))
	for _, cell := range cells {
		out = append(out, cell.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Props.ID < out[j].Props.ID })
	return out
}

// Close stops accepting cells, interrupts running ones and waits for their
// workers to exit or ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
