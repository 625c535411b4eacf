package statistics

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyClient is returned by Update for an empty client name.
	ErrEmptyClient = errors.New("statistics: empty client name")
	// ErrNoRunRecord is returned by Update when the report carries no
	// Statistics element.
	ErrNoRunRecord = errors.New("statistics: report has no run record")
	// ErrInvalidRecord is returned by Update when the client name or the
	// run record cannot be stored in the statistics file. Nothing is changed.
	ErrInvalidRecord = errors.New("statistics: invalid run record")
	// ErrDuplicateNode marks a client with more than one node in the store.
	// It is only logged; updates for such clients are skipped.
	ErrDuplicateNode = errors.New("statistics: duplicate node entry")
)

// LoadError describes why a statistics file could not be read or parsed.
// New handles it locally by starting from an empty tree.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load statistics from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError is returned when the tree could not be written back.
// The store stays dirty so a later WriteBack retries.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write statistics to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
