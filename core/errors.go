package core

import (
	"errors"
	"fmt"
)

// CellErrorKind classifies cell failures for frontends and history.
type CellErrorKind string

const (
	// ErrorClassificationAmbiguous is reserved for classifiers without a
	// first-match rule; Classify never produces it.
	ErrorClassificationAmbiguous CellErrorKind = "classification_ambiguous"
	// ErrorNotFoundCommand indicates the token matched no path, action or executable.
	ErrorNotFoundCommand CellErrorKind = "not_found"
	// ErrorSpawnFailure indicates the process could not be started.
	ErrorSpawnFailure CellErrorKind = "spawn_failure"
	// ErrorStreamIO indicates reading or writing a process stream failed.
	ErrorStreamIO CellErrorKind = "stream_io"
	// ErrorChannelClosed indicates the cell no longer accepts input.
	ErrorChannelClosed CellErrorKind = "channel_closed"
	// ErrorTimeout indicates a bounded phase did not finish in time.
	ErrorTimeout CellErrorKind = "timeout"
	// ErrorInternal indicates a recovered panic in the cell worker.
	ErrorInternal CellErrorKind = "internal"
)

// CellError wraps cell failures with a stable classification.
type CellError struct {
	Kind    CellErrorKind
	Op      string
	Message string
	Err     error
}

// NewCellError constructs a classified cell error.
func NewCellError(kind CellErrorKind, op string, err error) *CellError {
	return &CellError{Kind: kind, Op: op, Err: err}
}

func (e *CellError) Error() string {
	if e == nil {
		return "cell error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("cell %s failed", e.Op)
	}
	return "cell error"
}

func (e *CellError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKindOf returns the classification of err, or ErrorInternal.
func ErrorKindOf(err error) CellErrorKind {
	var cellErr *CellError
	if errors.As(err, &cellErr) && cellErr != nil {
		return cellErr.Kind
	}
	return ErrorInternal
}
