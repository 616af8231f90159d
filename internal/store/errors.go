package store

import (
	"errors"
	"fmt"
)

// ErrNotFoundNoSeed indicates a requested store does not exist and no
// chunks were supplied to create it. Recoverable by supplying chunks.
var ErrNotFoundNoSeed = errors.New("store does not exist and no chunks were supplied")

// LoadError indicates a store's persisted artifacts are present but
// could not be read. This is never folded into "does not exist": the
// recovery paths differ (rebuild or alert vs. create).
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load store %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// WriteError is the failure of one target of a dual write.
type WriteError struct {
	Store string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write store %q: %v", e.Store, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// AggregateWriteError is raised only when both targets of a dual write
// failed. It carries both underlying causes.
type AggregateWriteError struct {
	Individual *WriteError
	Combined   *WriteError
}

func (e *AggregateWriteError) Error() string {
	return fmt.Sprintf("all write targets failed: %v; %v", e.Individual, e.Combined)
}

// Unwrap exposes both causes to errors.Is/As.
func (e *AggregateWriteError) Unwrap() []error {
	return []error{e.Individual, e.Combined}
}
