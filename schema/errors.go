package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyCommand indicates the command line had no tokens.
	ErrEmptyCommand = errors.New("empty command")
	// ErrCellNotFound indicates a requested cell could not be found.
	ErrCellNotFound = errors.New("cell not found")
	// ErrChannelClosed indicates the cell no longer accepts input.
	ErrChannelClosed = errors.New("cell no longer accepting input")
	// ErrEngineClosed indicates the engine has shut down.
	ErrEngineClosed = errors.New("engine closed")
	// ErrInvalidCellID indicates a malformed cell identifier.
	ErrInvalidCellID = errors.New("invalid cell id")
)
