// Package execindex maintains a snapshot of executables discoverable on the
// search path. Readers never block on a rebuild.
package execindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

// Snapshot is an immutable view of the index.
type Snapshot struct {
	paths map[string]string
	Built time.Time
}

// Index maps executable names to their first location on the search path.
type Index struct {
	dirs []string
	snap atomic.Pointer[Snapshot]

	refreshMu sync.Mutex
}

// New constructs an index over dirs. When dirs is empty, $PATH is read on
// every refresh. The index starts empty until Refresh is called.
func New(dirs []string) *Index {
	idx := &Index{dirs: append([]string(nil), dirs...)}
	idx.snap.Store(&Snapshot{paths: map[string]string{}})
	return idx
}

// Dirs returns the directories scanned on the next refresh, in order.
func (i *Index) Dirs() []string {
	if len(i.dirs) > 0 {
		return append([]string(nil), i.dirs...)
	}
	return filepath.SplitList(os.Getenv("PATH"))
}

// Snapshot returns the current snapshot.
func (i *Index) Snapshot() *Snapshot {
	return i.snap.Load()
}

// Contains reports whether name is a known executable.
func (i *Index) Contains(name string) bool {
	_, ok := i.Lookup(name)
	return ok
}

// Lookup returns the path of the first executable named name.
func (i *Index) Lookup(name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, '/') {
		return "", false
	}
	path, ok := i.snap.Load().paths[name]
	return path, ok
}

// Names returns all executable names, sorted.
func (i *Index) Names() []string {
	return i.snap.Load().Names()
}

// Len returns the number of indexed executables.
func (i *Index) Len() int {
	return len(i.snap.Load().paths)
}

// Names returns the snapshot's executable names, sorted.
func (s *Snapshot) Names() []string {
	out := make([]string, 0, len(s.paths))
	for name := range s.paths {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Refresh rescans the search path and swaps in a new snapshot.
func (i *Index) Refresh(ctx context.Context) error {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()
	log := pslog.Ctx(ctx)
	started := time.Now()
	paths := make(map[string]string)
	for _, dir := range i.Dirs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Trace("exec index skip dir", "dir", dir, "err", err)
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if _, seen := paths[name]; seen {
				continue
			}
			full := filepath.Join(dir, name)
			if isExecutable(full) {
				paths[name] = full
			}
		}
	}
	i.snap.Store(&Snapshot{paths: paths, Built: time.Now()})
	log.Debug("exec index refreshed", "executables", len(paths), "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// WatchConfig tunes Watch.
type WatchConfig struct {
	// Debounce is how long directory events must settle before a rescan.
	Debounce time.Duration
	// Interval forces a periodic rescan when positive.
	Interval time.Duration
}

// Watch refreshes the index when search path directories change and on the
// optional interval. It blocks until ctx is done.
func (i *Index) Watch(ctx context.Context, cfg WatchConfig) error {
	log := pslog.Ctx(ctx)
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	watched := 0
	for _, dir := range i.Dirs() {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Debug("exec index watch skipped", "dir", dir, "err", err)
			continue
		}
		watched++
	}
	log.Info("exec index watching", "dirs", watched, "interval", cfg.Interval)

	var interval <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		interval = ticker.C
	}
	debounce := time.NewTicker(cfg.Debounce / 4)
	defer debounce.Stop()
	var dirtySince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("exec index watcher closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			log.Trace("exec index event", "path", event.Name, "op", event.Op.String())
			dirtySince = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("exec index watcher closed")
			}
			log.Warn("exec index watch error", "err", err)
		case <-debounce.C:
			if dirtySince.IsZero() || time.Since(dirtySince) < cfg.Debounce {
				continue
			}
			dirtySince = time.Time{}
			if err := i.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("exec index refresh failed", "err", err)
			}
		case <-interval:
			if err := i.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("exec index refresh failed", "err", err)
			}
		}
	}
}
