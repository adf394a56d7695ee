package tiercache

import (
	"fmt"
	"strings"
)

// ItemError records one failed pattern/tag/key inside a bulk invalidation.
type ItemError struct {
	Item string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("invalidate %q: %v", e.Item, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// InvalidationError aggregates per-item failures of a bulk invalidation.
// The operation it describes still completed for every other item; callers
// get a partial-success count alongside this error.
type InvalidationError struct {
	Failures []ItemError
}

func (e *InvalidationError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalidation failures:", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString(" [")
		b.WriteString(f.Error())
		b.WriteString("]")
	}
	return b.String()
}

func (e *InvalidationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = e.Failures[i]
	}
	return errs
}

// invalidationError returns nil when no failures were accumulated.
func invalidationError(failures []ItemError) error {
	if len(failures) == 0 {
		return nil
	}
	return &InvalidationError{Failures: failures}
}
