package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/cellx/core"
	"pkt.systems/cellx/internal/eventbus"
	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// Engine is the subset of the cell engine the HTTP bridge drives.
type Engine interface {
	Run(ctx context.Context, props schema.CellProps) (*core.Cell, error)
	Lookup(id schema.CellID) (*core.Cell, error)
	Send(id schema.CellID, msg schema.FrontendMessage) error
	List() []schema.CellSnapshot
}

// Suggester ranks completion candidates.
type Suggester interface {
	Suggest(ctx context.Context, req schema.SuggestRequest) ([]schema.Suggestion, error)
}

// HistoryReader reads recorded cells.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]schema.HistoryEntry, error)
	Output(ctx context.Context, id schema.CellID) ([]schema.ServerMessage, error)
}

// Deps are the collaborators of the HTTP bridge. Only Engine is required.
type Deps struct {
	Engine    Engine
	Suggester Suggester
	History   HistoryReader
	Events    *eventbus.Bus
	Hub       *Hub
}

// Server serves the HTTP/SSE frontend bridge.
type Server struct {
	cfg       Config
	engine    Engine
	suggester Suggester
	history   HistoryReader
	events    *eventbus.Bus
	hub       *Hub
	basePath  string
}

// NewServer constructs an HTTP bridge.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(cfg.History, cfg.Retention, nil)
	}
	return &Server{
		cfg:       cfg,
		engine:    deps.Engine,
		suggester: deps.Suggester,
		history:   deps.History,
		events:    deps.Events,
		hub:       hub,
		basePath:  normalizeBasePath(cfg.BasePath),
	}, nil
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cells", s.handleRun)
	mux.HandleFunc("GET /api/cells", s.handleList)
	mux.HandleFunc("GET /api/cells/{id}", s.handleCell)
	mux.HandleFunc("POST /api/cells/{id}/input", s.handleInput)
	mux.HandleFunc("POST /api/cells/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("POST /api/cells/{id}/resize", s.handleResize)
	mux.HandleFunc("GET /api/cells/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/suggestions", s.handleSuggestions)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}/output", s.handleHistoryOutput)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		ID         schema.CellID `json:"id"`
		Input      string        `json:"input"`
		Args       []string      `json:"args"`
		CurrentDir string        `json:"current_dir"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http run decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cell, err := s.engine.Run(r.Context(), schema.CellProps{
		ID:         payload.ID,
		Input:      payload.Input,
		Args:       payload.Args,
		CurrentDir: payload.CurrentDir,
	})
	if err != nil {
		log.Warn("http run failed", "err", err)
		writeError(w, statusForError(err), err)
		return
	}
	if err := s.hub.Attach(cell); err != nil {
		log.Error("http run attach failed", "cell", cell.ID(), "err", err)
		_ = cell.Send(schema.Interrupt())
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.With("cell", cell.ID()).Info("http cell started")
	writeJSON(w, http.StatusCreated, schema.RunCellResponse{ID: cell.ID(), Props: cell.Props()})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cells": s.engine.List()})
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	cell, err := s.engine.Lookup(schema.CellID(r.PathValue("id")))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cell.Snapshot())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.send(w, r, schema.Input([]byte(payload.Data)))
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.send(w, r, schema.Interrupt())
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Cols <= 0 || payload.Rows <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cols and rows must be positive", schema.ErrInvalidRequest))
		return
	}
	s.send(w, r, schema.Resize(payload.Cols, payload.Rows))
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, msg schema.FrontendMessage) {
	id := schema.CellID(r.PathValue("id"))
	log := logx.WithCell(r.Context(), id)
	if err := s.engine.Send(id, msg); err != nil {
		log.Debug("http send failed", "type", msg.Type, "err", err)
		writeError(w, statusForError(err), err)
		return
	}
	log.Trace("http send", "type", msg.Type, "bytes", len(msg.Data))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	id := schema.CellID(r.PathValue("id"))
	log := logx.WithCell(r.Context(), id)
	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseUint(r.URL.Query().Get("after"))
	}
	replay, ch, unsubscribe, err := s.hub.Subscribe(id, lastID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	for _, msg := range replay {
		_ = writeSSEvent(w, msg.Seq, msg)
	}
	flusher.Flush()

	log.Info("http stream opened", "last_id", lastID, "replay", len(replay))
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed by client")
			return
		case msg, ok := <-ch:
			if !ok {
				log.Info("http stream closed")
				return
			}
			_ = writeSSEvent(w, msg.Seq, msg)
			flusher.Flush()
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event stream disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	ch, unsubscribe := s.events.Subscribe(schema.CellID(r.URL.Query().Get("cell")))
	defer unsubscribe()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, 0, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		writeJSON(w, http.StatusOK, schema.SuggestResponse{Suggestions: []schema.Suggestion{}})
		return
	}
	query := r.URL.Query()
	dir := query.Get("dir")
	if dir != "" {
		normalized, err := schema.NormalizeWorkingDir(dir)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dir = normalized
	}
	suggestions, err := s.suggester.Suggest(r.Context(), schema.SuggestRequest{
		Input:      query.Get("input"),
		CurrentDir: dir,
		Limit:      parseInt(query.Get("limit"), 0),
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if suggestions == nil {
		suggestions = []schema.Suggestion{}
	}
	writeJSON(w, http.StatusOK, schema.SuggestResponse{Suggestions: suggestions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	entries, err := s.history.Recent(r.Context(), parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		pslog.Ctx(r.Context()).Warn("http history failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cells": entries})
}

func (s *Server) handleHistoryOutput(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	messages, err := s.history.Output(r.Context(), schema.CellID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, schema.ErrCellNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrChannelClosed), errors.Is(err, core.ErrDeliveryClaimed):
		return http.StatusConflict
	case errors.Is(err, schema.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrEmptyCommand), errors.Is(err, schema.ErrInvalidCellID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, seq uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
