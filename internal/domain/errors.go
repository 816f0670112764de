package domain

import "errors"

// Storage error taxonomy. Callers match these with errors.Is; every layer
// wraps them with context.
var (
	// ErrUnavailable means an engine could not be opened or reached.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrAuthRequired means a remote operation was attempted without a session.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNotFound means the update or delete target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord means malformed input was rejected before a write.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrTransientIO means a network or database call failed but a retry may succeed.
	ErrTransientIO = errors.New("transient i/o failure")
)

// IsRecoverable reports whether err is a failure a caller may retry or
// degrade around (an unreachable engine or a transient I/O error).
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTransientIO)
}

// UserMessage renders err as an actionable message for a reviewer.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "You are not signed in to the shared hub. Run `threadmark login` and try again."
	case errors.Is(err, ErrUnavailable):
		return "Storage is unreachable right now. Check the hub URL or run `threadmark diagnose run`, then retry."
	case errors.Is(err, ErrTransientIO):
		return "The storage call failed but may succeed if retried."
	case errors.Is(err, ErrNotFound):
		return "The thread no longer exists."
	case errors.Is(err, ErrInvalidRecord):
		return "The record was rejected as malformed: " + err.Error()
	default:
		return err.Error()
	}
}
