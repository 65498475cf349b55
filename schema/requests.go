package schema

// Cell lifecycle.

// RunCellRequest describes a request to start a cell from a raw command line.
type RunCellRequest struct {
	Input      string   `json:"input"`
	Args       []string `json:"args,omitempty"`
	CurrentDir string   `json:"current_dir,omitempty"`
}

// RunCellResponse reports the started cell.
type RunCellResponse struct {
	ID    CellID    `json:"id"`
	Props CellProps `json:"props"`
}

// SendRequest carries a frontend message for a running cell.
type SendRequest struct {
	ID      CellID          `json:"id"`
	Message FrontendMessage `json:"message"`
}

// CellSnapshot captures the observable state of a cell.
type CellSnapshot struct {
	Props    CellProps `json:"props"`
	Kind     string    `json:"kind,omitempty"`
	State    CellState `json:"state"`
	ExitCode int       `json:"exit_code"`
}

// Suggestions.

// SuggestRequest asks for completions of the current input.
type SuggestRequest struct {
	Input      string `json:"input"`
	CurrentDir string `json:"current_dir,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// SuggestionSource identifies where a candidate came from.
type SuggestionSource string

const (
	SuggestionHistory    SuggestionSource = "history"
	SuggestionExecutable SuggestionSource = "executable"
	SuggestionDirectory  SuggestionSource = "directory"
	SuggestionInternal   SuggestionSource = "internal"
)

// Suggestion is one ranked completion candidate.
type Suggestion struct {
	Text   string           `json:"text"`
	Source SuggestionSource `json:"source"`
	Score  int              `json:"score"`
}

// SuggestResponse returns ranked candidates, best first.
type SuggestResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// History.

// HistoryEntry is one recorded cell.
type HistoryEntry struct {
	ID         CellID    `json:"id"`
	Input      string    `json:"input"`
	CurrentDir string    `json:"current_dir"`
	Kind       string    `json:"kind"`
	State      CellState `json:"state"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	StartedAt  int64     `json:"started_at"`
	FinishedAt int64     `json:"finished_at,omitempty"`
}
