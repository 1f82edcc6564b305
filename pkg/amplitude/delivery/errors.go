package delivery

import (
	"errors"
	"fmt"
)

// Sentinel errors for worker lifecycle.
var (
	// ErrAlreadyStarted indicates Start was called on a running worker.
	ErrAlreadyStarted = errors.New("delivery: worker already started")

	// ErrWorkerStopped indicates Start was called after Stop.
	ErrWorkerStopped = errors.New("delivery: worker stopped")
)

// PanicError captures a panic raised by a transport call.
// The worker recovers it and treats the call as a server error.
type PanicError struct {
	// Kind is the call that panicked ("events" or "identify").
	Kind string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s delivery panicked: %v", e.Kind, e.Value)
}

// FatalError records a panic that escaped the delivery loop.
// Once set, the worker has terminated and does not restart.
type FatalError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("delivery worker terminated: %v", e.Value)
}

// Unwrap returns Value when it is an error.
func (e *FatalError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
