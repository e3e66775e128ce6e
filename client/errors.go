package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies why a request to the engine failed
type ErrorKind string

const (
	// ErrorKindRejected means the engine answered with a non-200 status
	ErrorKindRejected ErrorKind = "rejected"
	// ErrorKindUnreachable means the request never got an answer
	ErrorKindUnreachable ErrorKind = "unreachable"
	// ErrorKindMalformed means the engine answered 200 with a body that is not JSON
	ErrorKindMalformed ErrorKind = "malformed"
	// ErrorKindTimeout means the request deadline expired
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindCanceled means the caller gave up
	ErrorKindCanceled ErrorKind = "canceled"
)

var (
	ErrTimeout     = errors.New("engine request timed out")
	ErrInterrupted = errors.New("prompt execution interrupted")
)

// SubmissionError is returned for every failed call to the engine
type SubmissionError struct {
	Kind       ErrorKind
	StatusCode int
	// Body is the response body as returned by the engine, if any
	Body string
	// Message is the engine's own error message, when it sent one
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	switch e.Kind {
	case ErrorKindRejected:
		if e.Message != "" {
			return fmt.Sprintf("engine rejected prompt (%d): %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("engine rejected prompt (%d)", e.StatusCode)
	case ErrorKindMalformed:
		return "engine returned a malformed acknowledgement"
	case ErrorKindTimeout:
		return ErrTimeout.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %v", e.Kind, e.Err)
	}
	return "engine " + string(e.Kind)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == ErrorKindTimeout
}

// transportError classifies a failure to complete a request
func transportError(err error) *SubmissionError {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &SubmissionError{Kind: ErrorKindTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &SubmissionError{Kind: ErrorKindCanceled, Err: err}
	case errors.As(err, &nerr) && nerr.Timeout():
		return &SubmissionError{Kind: ErrorKindTimeout, Err: err}
	}
	return &SubmissionError{Kind: ErrorKindUnreachable, Err: err}
}
