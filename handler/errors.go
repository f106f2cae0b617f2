package handler

import (
	"errors"

	"github.com/ridge/harbor/tnet"
)

// Errors returned by containers
var (
	ErrStarted    = errors.New("handler is started")
	ErrNotStopped = errors.New("handler is not stopped")
	ErrLoop       = errors.New("handler loop")
	ErrBadTail    = errors.New("bad tail of inserted wrapper chain")
)

type fatalError struct {
	err error
}

func (f fatalError) Error() string {
	return f.err.Error()
}

func (f fatalError) Unwrap() error {
	return f.err
}

// Fatal marks an error as fatal: a Collection stops calling the remaining
// handlers and returns it immediately. Returns nil if err is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal returns true for errors marked with Fatal and for I/O errors
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f) || tnet.IsIOError(err)
}
