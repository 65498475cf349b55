// Package suggest ranks completion candidates for a partially typed command
// line from history, the executable index, the working directory and the
// internal actions.
package suggest

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"

	"pkt.systems/cellx/internal/command"
	"pkt.systems/cellx/schema"
	"pkt.systems/pslog"
)

// DefaultLimit is the default number of suggestions returned.
const DefaultLimit = 20

// exactBonus lifts a candidate that equals the typed token.
const exactBonus = 100

// HistorySource returns recent command lines, newest first.
type HistorySource interface {
	RecentInputs(ctx context.Context, limit int) ([]string, error)
}

// NameSource lists executable names.
type NameSource interface {
	Names() []string
}

// Config controls the suggestion sources.
type Config struct {
	// ShellHistoryPath is read line by line as extra history. Empty disables it.
	ShellHistoryPath string
	// HistoryLimit bounds how many stored inputs are considered.
	HistoryLimit int
	// Internal lists internal action names offered as commands.
	Internal []string
}

// Engine produces ranked suggestions.
type Engine struct {
	cfg     Config
	history HistorySource
	names   NameSource
}

// New constructs a suggestion engine. history and names may be nil.
func New(cfg Config, history HistorySource, names NameSource) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	return &Engine{cfg: cfg, history: history, names: names}
}

// DefaultShellHistoryPath returns ~/.bash_history, or "" without a home dir.
func DefaultShellHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bash_history")
}

type candidate struct {
	text   string
	source schema.SuggestionSource
	score  int
}

// Suggest returns candidates for req.Input, best first. History entries are
// matched against the whole input; executables, internal actions and
// directories are offered only while the first token is being typed.
func (e *Engine) Suggest(ctx context.Context, req schema.SuggestRequest) ([]schema.Suggestion, error) {
	log := pslog.Ctx(ctx)
	input := strings.TrimLeft(req.Input, " \t")
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	token, more := command.FirstToken(input)

	merged := map[string]*candidate{}
	add := func(c candidate) {
		key := string(c.source) + "\x00" + c.text
		if existing, ok := merged[key]; ok {
			existing.score++
			return
		}
		merged[key] = &c
	}

	for _, c := range e.historyCandidates(ctx, input) {
		add(c)
	}
	if !more {
		for _, c := range matchNames(token, e.cfg.Internal, schema.SuggestionInternal) {
			add(c)
		}
		if e.names != nil {
			for _, c := range matchNames(token, e.names.Names(), schema.SuggestionExecutable) {
				add(c)
			}
		}
		dirs, err := directoryNames(req.CurrentDir)
		if err != nil {
			log.Debug("suggest dir scan failed", "dir", req.CurrentDir, "err", err)
		}
		for _, c := range matchNames(token, dirs, schema.SuggestionDirectory) {
			add(c)
		}
	}

	out := make([]candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, *c)
	}
	pattern := input
	if !more {
		pattern = token
	}
	rank(out, pattern)
	if len(out) > limit {
		out = out[:limit]
	}
	suggestions := make([]schema.Suggestion, 0, len(out))
	for _, c := range out {
		suggestions = append(suggestions, schema.Suggestion{Text: c.text, Source: c.source, Score: c.score})
	}
	log.Trace("suggest ranked", "input_len", len(input), "candidates", len(merged), "returned", len(suggestions))
	return suggestions, nil
}

func (e *Engine) historyCandidates(ctx context.Context, input string) []candidate {
	log := pslog.Ctx(ctx)
	var lines []string
	if e.history != nil {
		stored, err := e.history.RecentInputs(ctx, e.cfg.HistoryLimit)
		if err != nil {
			log.Warn("suggest history read failed", "err", err)
		}
		lines = append(lines, stored...)
	}
	if e.cfg.ShellHistoryPath != "" {
		shell, err := readLines(e.cfg.ShellHistoryPath)
		if err != nil && !os.IsNotExist(err) {
			log.Debug("suggest shell history read failed", "path", e.cfg.ShellHistoryPath, "err", err)
		}
		lines = append(lines, shell...)
	}
	if len(lines) == 0 {
		return nil
	}
	var out []candidate
	for _, match := range fuzzy.Find(input, lines) {
		out = append(out, candidate{text: match.Str, source: schema.SuggestionHistory, score: match.Score})
	}
	return out
}

func matchNames(token string, names []string, source schema.SuggestionSource) []candidate {
	if token == "" || len(names) == 0 {
		return nil
	}
	var out []candidate
	for _, match := range fuzzy.Find(token, names) {
		score := match.Score
		if match.Str == token {
			score += exactBonus
		}
		out = append(out, candidate{text: match.Str, source: source, score: score})
	}
	return out
}

func directoryNames(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// rank orders by score, then edit distance to pattern, then text.
func rank(cands []candidate, pattern string) {
	dist := make(map[string]int, len(cands))
	for _, c := range cands {
		if _, ok := dist[c.text]; !ok {
			dist[c.text] = levenshtein.ComputeDistance(pattern, c.text)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if di, dj := dist[cands[i].text], dist[cands[j].text]; di != dj {
			return di < dj
		}
		if cands[i].text != cands[j].text {
			return cands[i].text < cands[j].text
		}
		return cands[i].source < cands[j].source
	})
}
