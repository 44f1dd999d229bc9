package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/snapfind/snapfind/internal/fetch"
	"github.com/snapfind/snapfind/internal/storage"
)

// TransientError marks a failure as transient so the orchestrator's outer
// retry loop will re-run the item's pipeline.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient classifies an item failure: network/timeout/storage-throttling
// failures are retried with backoff; validation and decode failures never are.
func IsTransient(err error) bool {

	// the per-item deadline expiring is a retryable timeout failure
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if storage.IsRetryable(err) {
		return true
	}

	// exhausted fetch hints are a remote availability problem; the endpoints
	// flake, so the outer retry gets a chance at them
	var unavailable *fetch.AllSourcesUnavailableError
	if errors.As(err, &unavailable) {
		return true
	}

	var transient *TransientError
	return errors.As(err, &transient)
}

// SystemicError aborts a whole batch before item processing: if setup fails,
// no item could possibly succeed and per-item retries would be wasted work.
type SystemicError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *SystemicError) Error() string {
	return fmt.Sprintf("batch setup failed during %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *SystemicError) Unwrap() error {
	return e.Err
}

// DuplicateGuard answers whether a candidate filename already exists in a
// batch destination. It is built once per batch from a single listing of the
// namespace and is read-only afterwards, so it is safe to share across the
// batch's workers.
type DuplicateGuard struct {
	existing map[string]struct{}
}

// NewDuplicateGuard builds a guard from the object keys existing under the
// batch's image prefix. Existing names pass through the same normalization as
// candidates, so historical keys with unsanitized names still match.
func NewDuplicateGuard(existingKeys []string) *DuplicateGuard {

	existing := make(map[string]struct{}, len(existingKeys))
	for _, key := range existingKeys {
		existing[normalizeName(baseName(key))] = struct{}{}
	}

	return &DuplicateGuard{existing: existing}
}

// IsDuplicate reports whether the candidate filename's normalized form is
// already present in the destination.
func (g *DuplicateGuard) IsDuplicate(fileName string) bool {
	_, ok := g.existing[normalizeName(fileName)]
	return ok
}

// normalizeName maps a filename to its stored form: sanitized, with the
// extension forced to the output encoding.
func normalizeName(fileName string) string {
	return storage.ForceJpgExt(storage.SanitizeFileName(fileName))
}

// baseName returns the final path segment of an object key.
func baseName(key string) string {

	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}

	return key
}

// ProgressReporter observes batch progress. The orchestrator invokes it after
// each item reaches a terminal outcome; completed counts are monotonically
// non-decreasing but may arrive out of source order.
type ProgressReporter interface {
	OnItemComplete(completed, total int, itemName string)
}

// ProgressFunc adapts a function to the ProgressReporter interface.
type ProgressFunc func(completed, total int, itemName string)

// OnItemComplete implements ProgressReporter.
func (f ProgressFunc) OnItemComplete(completed, total int, itemName string) {
	f(completed, total, itemName)
}
