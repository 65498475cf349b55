package schema

// CellID identifies a cell.
type CellID string

// CellProps describes one cell invocation. It is immutable once the cell exists.
type CellProps struct {
	ID    CellID `json:"id"`
	Input string `json:"input"`
	// Args holds the tokenized command line; Args[0] is the command token.
	// When empty, the engine tokenizes Input.
	Args       []string `json:"args,omitempty"`
	CurrentDir string   `json:"current_dir"`
}

// Token returns the command token, or "" when no args are present.
func (p CellProps) Token() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

// Trailing returns the arguments following the command token.
func (p CellProps) Trailing() []string {
	if len(p.Args) <= 1 {
		return nil
	}
	out := make([]string, len(p.Args)-1)
	copy(out, p.Args[1:])
	return out
}

// Clone returns a deep copy of the props.
func (p CellProps) Clone() CellProps {
	if p.Args != nil {
		p.Args = append([]string(nil), p.Args...)
	}
	return p
}

// StreamKind indicates which process stream produced output.
type StreamKind string

const (
	// StreamStdout indicates output captured from stdout.
	StreamStdout StreamKind = "stdout"
	// StreamStderr indicates output captured from stderr.
	StreamStderr StreamKind = "stderr"
)

// CellState is the lifecycle state of a cell.
type CellState string

const (
	CellCreated     CellState = "created"
	CellClassifying CellState = "classifying"
	CellRunning     CellState = "running"
	CellCompleted   CellState = "completed"
	CellCancelled   CellState = "cancelled"
	CellFailed      CellState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s CellState) Terminal() bool {
	switch s {
	case CellCompleted, CellCancelled, CellFailed:
		return true
	default:
		return false
	}
}
