package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/snapfind/snapfind/internal/util"
)

// CacheControl is the cache directive applied to every stored image: processed
// assets are immutable once written, so clients may cache them for a year.
const CacheControl = "max-age=31536000"

// s3Api is the narrow slice of the s3 client the adapter uses.
// It exists so tests can substitute a double for the real client.
type s3Api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// NewS3 creates an ObjectStorage backed by the given s3 client and bucket,
// returning a pointer to the concrete implementation.
func NewS3(api s3Api, bucket string) ObjectStorage {
	return &s3Store{
		api:    api,
		bucket: bucket,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageStorage)).
			With(slog.String(util.ComponentKey, util.ComponentObjectStore)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ ObjectStorage = (*s3Store)(nil)

// s3Store is the concrete implementation of the ObjectStorage interface over s3.
type s3Store struct {
	api    s3Api
	bucket string

	logger *slog.Logger
}

// PutObject is the concrete implementation of the interface method which
// persists the object with public-read visibility and a long-lived cache
// directive, returning the deterministic public url.
func (s *s3Store) PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error) {

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ACL:          s3types.ObjectCannedACLPublicRead,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(CacheControl),
	})
	if err != nil {
		return "", &Error{Op: "put", Key: key, Retryable: isRetryableApiErr(err), Err: err}
	}

	return s.PublicUrl(key), nil
}

// ListKeys is the concrete implementation of the interface method which lists
// all existing object keys under the given prefix, paging until exhausted.
func (s *s3Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {

	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &Error{Op: "list", Key: prefix, Retryable: isRetryableApiErr(err), Err: err}
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// PublicUrl is the concrete implementation of the interface method which
// returns the deterministic public url for the given key.
func (s *s3Store) PublicUrl(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// retryableApiCodes are the api error codes classified as transient.
var retryableApiCodes = map[string]struct{}{
	"SlowDown":                 {},
	"InternalError":            {},
	"ServiceUnavailable":       {},
	"RequestTimeout":           {},
	"Throttling":               {},
	"ThrottlingException":      {},
	"TooManyRequestsException": {},
}

// isRetryableApiErr classifies an s3 call failure: throttling and service
// errors are retryable, malformed-request errors are fatal, and anything that
// is not an api error at all is a network failure, which is retryable.
func isRetryableApiErr(err error) bool {

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return true // connection reset, timeout, dns, etc.
	}

	_, ok := retryableApiCodes[apiErr.ErrorCode()]
	return ok
}
