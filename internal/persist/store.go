package persist

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cells (
	id          TEXT PRIMARY KEY,
	input       TEXT NOT NULL,
	dir         TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS cells_started_at ON cells(started_at);

CREATE TABLE IF NOT EXISTS output (
	cell_id TEXT NOT NULL REFERENCES cells(id) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	stream  TEXT NOT NULL,
	data    BLOB NOT NULL,
	PRIMARY KEY (cell_id, seq)
);
`

// Store persists cell history in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	log  pslog.Logger
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	return OpenWithLogger(path, nil)
}

// OpenWithLogger opens the history database with logging.
func OpenWithLogger(path string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if logger != nil {
		logger = logger.With("history_db", path)
	}
	s := &Store{db: db, path: path, log: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		if logger != nil {
			logger.Warn("history open failed", "err", err)
		}
		return nil, err
	}
	if logger != nil {
		logger.Debug("history open ok")
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaV1); err != nil {
		return err
	}
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version != schemaVersion {
		return errors.New("unsupported history schema version")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartCell records a new cell.
func (s *Store) StartCell(ctx context.Context, snap schema.CellSnapshot, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cells (id, input, dir, kind, state, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(snap.Props.ID), snap.Props.Input, snap.Props.CurrentDir, snap.Kind, string(snap.State), startedAt.UnixMilli(),
	)
	if err != nil && s.log != nil {
		s.log.Warn("history write failed", "op", "start", "cell", snap.Props.ID, "err", err)
	}
	return err
}

// AppendMessage records output chunks and error descriptions. Other
// message types are not stored.
func (s *Store) AppendMessage(ctx context.Context, msg schema.ServerMessage) error {
	var err error
	switch msg.Type {
	case schema.MessageOutput:
		_, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO output (cell_id, seq, stream, data) VALUES (?, ?, ?, ?)`,
			string(msg.CellID), int64(msg.Seq), string(msg.Stream), msg.Data,
		)
	case schema.MessageError:
		_, err = s.db.ExecContext(ctx, `UPDATE cells SET error = ? WHERE id = ?`, msg.Message, string(msg.CellID))
	default:
		return nil
	}
	if err != nil && s.log != nil {
		s.log.Warn("history write failed", "op", "message", "cell", msg.CellID, "err", err)
	}
	return err
}

// FinishCell records the terminal state of a cell.
func (s *Store) FinishCell(ctx context.Context, snap schema.CellSnapshot, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cells SET kind = ?, state = ?, exit_code = ?, finished_at = ? WHERE id = ?`,
		snap.Kind, string(snap.State), snap.ExitCode, finishedAt.UnixMilli(), string(snap.Props.ID),
	)
	if err != nil && s.log != nil {
		s.log.Warn("history write failed", "op", "finish", "cell", snap.Props.ID, "err", err)
	}
	return err
}

// Recent returns up to limit cells, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]schema.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input, dir, kind, state, exit_code, error, started_at, finished_at
		 FROM cells ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schema.HistoryEntry
	for rows.Next() {
		var entry schema.HistoryEntry
		var id, state string
		if err := rows.Scan(&id, &entry.Input, &entry.CurrentDir, &entry.Kind, &state, &entry.ExitCode, &entry.Error, &entry.StartedAt, &entry.FinishedAt); err != nil {
			return nil, err
		}
		entry.ID = schema.CellID(id)
		entry.State = schema.CellState(state)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecentInputs returns distinct command lines, most recently used first.
func (s *Store) RecentInputs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT input FROM cells GROUP BY input ORDER BY MAX(started_at) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var input string
		if err := rows.Scan(&input); err != nil {
			return nil, err
		}
		out = append(out, input)
	}
	return out, rows.Err()
}

// Output returns the recorded output chunks of a cell in emission order.
func (s *Store) Output(ctx context.Context, id schema.CellID) ([]schema.ServerMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, stream, data FROM output WHERE cell_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schema.ServerMessage
	for rows.Next() {
		var seq int64
		var stream string
		var data []byte
		if err := rows.Scan(&seq, &stream, &data); err != nil {
			return nil, err
		}
		msg := schema.OutputChunk(data, schema.StreamKind(stream))
		msg.CellID = id
		msg.Seq = uint64(seq)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Prune deletes cells started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && s.log != nil && n > 0 {
		s.log.Info("history pruned", "cells", n)
	}
	return n, err
}
