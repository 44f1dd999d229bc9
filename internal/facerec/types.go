package facerec

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Indexer is the interface for the per-event face-recognition collections.
// Individual indexing failures are reported, never escalated: a stored asset
// remains usable even when face search for it is degraded.
type Indexer interface {

	// EnsureCollection idempotently creates the event's collection;
	// "already exists" is success.
	EnsureCollection(ctx context.Context, eventId string) error

	// IndexAsset submits one stored asset for face detection and indexing.
	IndexAsset(ctx context.Context, eventId, objectKey, externalId string) error

	// IndexBatch indexes stored assets in fixed-size chunks with an
	// inter-chunk delay, retrying rate-limited items with backoff. It returns
	// a success/failure partition and only errors for systemic setup failure.
	IndexBatch(ctx context.Context, eventId string, keys []string, onProgress func(completed, total int)) (*BatchIndexResult, error)
}

// IndexFailure is one asset that could not be indexed.
type IndexFailure struct {
	ObjectKey string
	Err       error
}

// BatchIndexResult is the partition of a bulk indexing run.
type BatchIndexResult struct {
	Indexed []string
	Failed  []IndexFailure
}

// CollectionId derives the face collection id for an event.
func CollectionId(eventId string) string {
	return fmt.Sprintf("event-%s", eventId)
}

// rate-limit error code signatures from the recognition service
var rateLimitCodes = map[string]struct{}{
	"ThrottlingException":                    {},
	"ProvisionedThroughputExceededException": {},
	"LimitExceededException":                 {},
	"TooManyRequestsException":               {},
}

// isRateLimited reports whether err carries a rate-limit error signature.
func isRateLimited(err error) bool {

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	_, ok := rateLimitCodes[apiErr.ErrorCode()]
	return ok
}
