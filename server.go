package cellx

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/httpapi"
	"pkt.systems/cellx/internal/cellgrpc"
	"pkt.systems/cellx/internal/eventbus"
	"pkt.systems/cellx/internal/execindex"
	"pkt.systems/cellx/internal/persist"
	"pkt.systems/cellx/internal/suggest"
	"pkt.systems/cellx/schema"
	"pkt.systems/cellx/sshserver"
	"pkt.systems/pslog"
)

// Server composes the engine with the HTTP, SSH, and gRPC bridges.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Engine() *core.Engine
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Engine           schema.EngineConfig
	Index            IndexConfig
	HTTP             httpapi.Config
	SSH              sshserver.Config
	GRPC             cellgrpc.Config
	History          HistoryConfig
	ShellHistoryPath string
}

// IndexConfig controls the executable index.
type IndexConfig struct {
	// Dirs overrides $PATH when non-empty.
	Dirs            []string
	Watch           bool
	RefreshInterval time.Duration
}

// HistoryConfig controls the sqlite history store.
type HistoryConfig struct {
	DBPath     string
	QueueDepth int
	// Retention prunes cells older than this when the server is built.
	Retention time.Duration
	Disabled  bool
}

// ServerDeps are optional prebuilt collaborators.
type ServerDeps struct {
	Logger pslog.Logger
	// Index is used instead of scanning IndexConfig.Dirs.
	Index *execindex.Index
	// Store is used instead of opening HistoryConfig.DBPath. The caller
	// keeps ownership.
	Store *persist.Store
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	enableSSH  bool
	enableGRPC bool
}

// WithHTTP enables the HTTP/SSE bridge.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithSSH enables the SSH bridge.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithGRPC enables the gRPC bridge on a Unix socket.
func WithGRPC() ServerOption {
	return func(o *serverOptions) { o.enableGRPC = true }
}

// New constructs a composable cellx server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableSSH && !options.enableGRPC {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &compositeServer{cfg: cfg, options: options, logger: logger}

	s.index = deps.Index
	if s.index == nil {
		s.index = execindex.New(cfg.Index.Dirs)
		if err := s.index.Refresh(pslog.ContextWithLogger(context.Background(), logger)); err != nil {
			return nil, err
		}
	}

	s.store = deps.Store
	if s.store == nil && !cfg.History.Disabled && cfg.History.DBPath != "" {
		store, err := persist.OpenWithLogger(cfg.History.DBPath, logger)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.ownsStore = true
	}
	if s.store != nil && cfg.History.Retention > 0 {
		if _, err := s.store.Prune(context.Background(), time.Now().Add(-cfg.History.Retention)); err != nil {
			logger.Warn("history prune failed", "err", err)
		}
	}
	var recorder core.Observer
	if s.store != nil && !cfg.History.Disabled {
		s.recorder = persist.NewRecorder(s.store, cfg.History.QueueDepth, logger)
		recorder = s.recorder
	}
	var bus core.Observer
	if options.enableHTTP {
		s.bus = eventbus.New(logger)
		bus = s.bus
	}

	engine, err := core.NewEngine(cfg.Engine, core.EngineDeps{
		Index:    s.index,
		Observer: newObserverFanout(recorder, bus),
		Logger:   logger,
	})
	if err != nil {
		s.closeHistory(context.Background())
		return nil, err
	}
	s.engine = engine

	var history suggest.HistorySource
	if s.store != nil {
		history = s.store
	}
	suggester := suggest.New(suggest.Config{
		ShellHistoryPath: cfg.ShellHistoryPath,
		Internal:         core.InternalActions(),
	}, history, s.index)

	if options.enableHTTP {
		httpDeps := httpapi.Deps{
			Engine:    engine,
			Suggester: suggester,
			Events:    s.bus,
			Hub:       httpapi.NewHub(cfg.HTTP.History, cfg.HTTP.Retention, logger),
		}
		if s.store != nil {
			httpDeps.History = s.store
		}
		httpSrv, err := httpapi.NewServer(cfg.HTTP, httpDeps)
		if err != nil {
			s.closeHistory(context.Background())
			return nil, err
		}
		s.httpSrv = httpSrv
	}
	if options.enableSSH {
		s.sshSrv = &sshserver.Server{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Prompt:             cfg.SSH.Prompt,
			Engine:             engine,
			Suggester:          suggester,
		}
	}
	if options.enableGRPC {
		s.grpcSrv = cellgrpc.NewServer(cfg.GRPC, engine, suggester)
	}
	return s, nil
}

type compositeServer struct {
	cfg       ServerConfig
	options   serverOptions
	logger    pslog.Logger
	engine    *core.Engine
	index     *execindex.Index
	store     *persist.Store
	ownsStore bool
	recorder  *persist.Recorder
	bus       *eventbus.Bus
	httpSrv   *httpapi.Server
	sshSrv    *sshserver.Server
	grpcSrv   *cellgrpc.Server

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started bool
	closed  sync.Once
}

func (s *compositeServer) Engine() *core.Engine {
	return s.engine
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	ctx = pslog.ContextWithLogger(ctx, s.logger)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true
	runCtx := s.ctx
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"ssh", s.options.enableSSH,
		"grpc", s.options.enableGRPC,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"ssh_addr", s.cfg.SSH.Addr,
		"grpc_socket", s.cfg.GRPC.SocketPath,
		"executables", s.index.Len(),
		"history", s.recorder != nil,
	)

	group, groupCtx := errgroup.WithContext(runCtx)
	if s.httpSrv != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.sshSrv != nil {
		group.Go(func() error {
			if err := s.sshSrv.ListenAndServe(groupCtx); err != nil {
				log.Error("ssh server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.grpcSrv != nil {
		group.Go(func() error {
			if err := s.grpcSrv.ListenAndServe(groupCtx); err != nil {
				log.Error("grpc server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.cfg.Index.Watch {
		group.Go(func() error {
			err := s.index.Watch(groupCtx, execindex.WatchConfig{Interval: s.cfg.Index.RefreshInterval})
			if err != nil && groupCtx.Err() == nil {
				// The index keeps serving its last snapshot.
				log.Warn("exec index watch stopped", "err", err)
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("server stopped", "err", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
		return err
	}
	return nil
}

// Stop interrupts every live cell, stops the bridges, and flushes history.
func (s *compositeServer) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	s.mu.Unlock()
	log := s.logger
	log.Info("server stop requested")

	var stopErr error
	if err := s.engine.Close(ctx); err != nil {
		log.Warn("server engine close failed", "err", err)
		stopErr = err
	} else {
		log.Info("server engine closed")
	}
	if cancel != nil {
		cancel()
	}
	if started && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("server stop timed out", "err", ctx.Err())
			return ctx.Err()
		}
	}
	if err := s.closeHistory(ctx); err != nil && stopErr == nil {
		stopErr = err
	}
	log.Info("server stopped")
	return stopErr
}

func (s *compositeServer) closeHistory(ctx context.Context) error {
	var err error
	s.closed.Do(func() {
		if s.recorder != nil {
			if cerr := s.recorder.Close(ctx); cerr != nil {
				s.logger.Warn("history recorder close failed", "err", cerr)
				err = cerr
			}
			if dropped := s.recorder.Dropped(); dropped > 0 {
				s.logger.Warn("history events dropped", "count", dropped)
			}
		}
		if s.ownsStore && s.store != nil {
			if cerr := s.store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
