package bulk

import (
	"errors"
	"fmt"
)

// Sentinel errors describing why a bulk request failed.
var (
	// ErrTransport is returned when the bulk endpoint could not be reached or
	// answered with a non-success status.
	ErrTransport = errors.New("bulk transport failed")

	// ErrIndexing is returned when a bulk response parsed successfully but
	// reported item-level failures.
	ErrIndexing = errors.New("bulk indexing failed")

	// ErrRefresh is returned when the post-drain index refresh failed.
	ErrRefresh = errors.New("index refresh failed")

	// ErrInterrupted is returned once termination has been requested.
	ErrInterrupted = errors.New("bulk request interrupted")

	// ErrQueueClosed is returned when a command is pushed after the queue
	// was closed. It indicates a producer bug.
	ErrQueueClosed = errors.New("command queue closed")

	// ErrUnsupportedCommand is returned when the encoder is handed a command
	// kind it cannot express on the wire.
	ErrUnsupportedCommand = errors.New("unsupported bulk command")

	// ErrWorkerPanic is returned when a worker goroutine panicked.
	ErrWorkerPanic = errors.New("bulk worker panicked")

	// ErrFinished is returned when a finished bulk request is used again.
	ErrFinished = errors.New("bulk request already finished")
)

// Error is a bulk pipeline error carrying the failed operation and, for
// responses from the remote engine, the status code and item-level reasons.
type Error struct {
	Op      string   // Operation that failed (e.g. "Bulk", "Refresh", "Worker")
	Err     error    // Underlying error, usually one of the sentinels above
	Msg     string   // Optional human-readable detail
	Status  int      // HTTP status code if the engine answered
	Reasons []string // Item-level failure reasons, if any
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// panicError converts a recovered panic value into an ErrWorkerPanic error.
func panicError(op string, r any) error {
	var msg string
	switch v := r.(type) {
	case string:
		msg = v
	case error:
		msg = v.Error()
	default:
		msg = fmt.Sprintf("%v", v)
	}
	return &Error{Op: op, Err: ErrWorkerPanic, Msg: msg}
}
