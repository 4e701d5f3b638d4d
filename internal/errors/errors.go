// Package errors defines the typed error taxonomy used across the sync engine.
package errors

import (
	"fmt"

	faster "github.com/go-faster/errors"
)

// Category classifies a failure for retry and reporting purposes.
type Category string

const (
	CategoryTransport     Category = "transport"
	CategoryTimeout       Category = "timeout"
	CategoryAuth          Category = "auth"
	CategoryNotFound      Category = "not_found"
	CategoryValidation    Category = "validation"
	CategoryBusinessLogic Category = "business_logic"
	CategorySystem        Category = "system"
)

// Retriable reports whether the Upstream Client should retry a call that failed
// with this category.
func (c Category) Retriable() bool {
	return c == CategoryTransport || c == CategoryTimeout
}

// SyncError wraps an underlying error with the operation that produced it and its
// category, so callers can dispatch on category with errors.As instead of string
// matching.
type SyncError struct {
	Category Category
	Op       string
	Err      error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// New builds a SyncError, wrapping err with go-faster/errors so the stack frame at
// the call site is preserved.
func New(op string, category Category, err error) *SyncError {
	if err == nil {
		return &SyncError{Op: op, Category: category}
	}
	return &SyncError{Op: op, Category: category, Err: faster.Wrap(err, op)}
}

// CategoryOf extracts the Category of err if it is (or wraps) a *SyncError, and
// returns CategorySystem otherwise — an uncategorized error is treated as fatal
// rather than silently retried.
func CategoryOf(err error) Category {
	var se *SyncError
	if faster.As(err, &se) {
		return se.Category
	}
	return CategorySystem
}

// NotFound reports whether err categorizes as CategoryNotFound — the signal the
// Entity Syncer uses to tombstone a parent instead of treating the call as failed.
func NotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}
