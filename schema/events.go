package schema

// ServerMessageType identifies an outbound message variant.
type ServerMessageType string

const (
	// MessageOutput carries a chunk of process output.
	MessageOutput ServerMessageType = "output"
	// MessageStatus reports a lifecycle state change.
	MessageStatus ServerMessageType = "status"
	// MessageCompleted reports normal completion with an exit code.
	MessageCompleted ServerMessageType = "completed"
	// MessageError reports an unrecoverable failure.
	MessageError ServerMessageType = "error"
)

// ServerMessage is the outbound protocol message delivered to a frontend.
// Seq increases by one for every message emitted by a cell, starting at 1.
type ServerMessage struct {
	Type     ServerMessageType `json:"type"`
	CellID   CellID            `json:"cell_id"`
	Seq      uint64            `json:"seq"`
	Data     []byte            `json:"data,omitempty"`
	Stream   StreamKind        `json:"stream,omitempty"`
	State    CellState         `json:"state,omitempty"`
	Dir      string            `json:"dir,omitempty"`
	ExitCode int               `json:"exit_code"`
	Kind     string            `json:"kind,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// OutputChunk builds an output message.
func OutputChunk(data []byte, stream StreamKind) ServerMessage {
	return ServerMessage{Type: MessageOutput, Data: data, Stream: stream}
}

// StatusChanged builds a status message.
func StatusChanged(state CellState) ServerMessage {
	return ServerMessage{Type: MessageStatus, State: state}
}

// Completed builds a completion message.
func Completed(exitCode int) ServerMessage {
	return ServerMessage{Type: MessageCompleted, State: CellCompleted, ExitCode: exitCode}
}

// ErrorMessage builds an error message. kind is the stable error classification.
func ErrorMessage(kind, description string) ServerMessage {
	return ServerMessage{Type: MessageError, State: CellFailed, Kind: kind, Message: description}
}

// Terminal reports whether the message ends the cell's outbound stream.
func (m ServerMessage) Terminal() bool {
	switch m.Type {
	case MessageCompleted, MessageError:
		return true
	case MessageStatus:
		return m.State.Terminal()
	default:
		return false
	}
}

// FrontendMessageType identifies an inbound message variant.
type FrontendMessageType string

const (
	// FrontendInput forwards data to the running process.
	FrontendInput FrontendMessageType = "input"
	// FrontendInterrupt requests cancellation.
	FrontendInterrupt FrontendMessageType = "interrupt"
	// FrontendResize reports a new terminal size.
	FrontendResize FrontendMessageType = "resize"
)

// FrontendMessage is the inbound protocol message sent by a frontend.
type FrontendMessage struct {
	Type FrontendMessageType `json:"type"`
	Data []byte              `json:"data,omitempty"`
	Cols int                 `json:"cols,omitempty"`
	Rows int                 `json:"rows,omitempty"`
}

// Input builds an input message.
func Input(data []byte) FrontendMessage {
	return FrontendMessage{Type: FrontendInput, Data: data}
}

// Interrupt builds an interrupt message.
func Interrupt() FrontendMessage {
	return FrontendMessage{Type: FrontendInterrupt}
}

// Resize builds a resize message.
func Resize(cols, rows int) FrontendMessage {
	return FrontendMessage{Type: FrontendResize, Cols: cols, Rows: rows}
}
