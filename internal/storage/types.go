package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ObjectStorage is the interface for the object store that holds processed event images.
// Implementations must be safe for concurrent use by a batch of pipeline workers.
type ObjectStorage interface {

	// PutObject durably persists the object under the given key with public-read
	// visibility and a long-lived cache directive, returning its public url.
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)

	// ListKeys lists all existing object keys under the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// PublicUrl returns the deterministic public url for the given key.
	PublicUrl(key string) string
}

// Error is the storage failure type. Retryable distinguishes throttling/network
// failures from malformed-request failures which will never succeed on retry.
type Error struct {
	Op        string
	Key       string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s failed for key '%s': %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a storage error classified as transient.
func IsRetryable(err error) bool {

	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}

	return false
}

var (
	trailingParenRegex  = regexp.MustCompile(`\(\d+\)$`)
	invalidCharRegex    = regexp.MustCompile(`[^a-zA-Z0-9_.\-:]`)
	underscoreRunRegex  = regexp.MustCompile(`_{2,}`)
	edgeUnderscoreRegex = regexp.MustCompile(`^_|_$`)
)

// SanitizeFileName transforms a user-supplied filename into a storage-key-safe
// name: invalid characters become '_', runs collapse, leading/trailing '_' are
// trimmed, and a trailing parenthesized disambiguation suffix like '(2)' is
// preserved verbatim. The transform is idempotent.
func SanitizeFileName(name string) string {

	// peel off a trailing (N) suffix so it survives the character replacement
	suffix := trailingParenRegex.FindString(name)
	stem := trailingParenRegex.ReplaceAllString(name, "")

	sanitized := invalidCharRegex.ReplaceAllString(stem, "_")
	sanitized = underscoreRunRegex.ReplaceAllString(sanitized, "_")
	sanitized = edgeUnderscoreRegex.ReplaceAllString(sanitized, "")

	return sanitized + suffix
}

// ForceJpgExt replaces the filename's extension with .jpg, appending it if the
// name has none. The pipeline always encodes output as jpeg, so stored names
// carry the output encoding regardless of the source format. A trailing (N)
// disambiguation suffix stays ahead of the extension.
func ForceJpgExt(name string) string {

	suffix := trailingParenRegex.FindString(name)
	stem := strings.TrimSuffix(name, suffix)
	ext := filepath.Ext(stem)

	return strings.TrimSuffix(stem, ext) + suffix + ".jpg"
}

// ObjectKey builds the deterministic storage key for an event image.
func ObjectKey(eventId, fileName string) string {
	return fmt.Sprintf("events/shared/%s/images/%s", eventId, fileName)
}

// ImagePrefix returns the listing prefix under which all of an event's images live.
func ImagePrefix(eventId string) string {
	return fmt.Sprintf("events/shared/%s/images/", eventId)
}
