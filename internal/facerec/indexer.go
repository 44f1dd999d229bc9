package facerec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/util"
)

// MaxFacesPerImage is the detection bound per indexed asset; event photos are
// group shots, so the bound is generous.
const MaxFacesPerImage int32 = 10

// rekognitionApi is the narrow slice of the recognition client the indexer
// uses. It exists so tests can substitute a double for the real client.
type rekognitionApi interface {
	CreateCollection(ctx context.Context, params *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
	IndexFaces(ctx context.Context, params *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
}

// NewIndexer creates a new face indexer over the given recognition client and
// storage bucket, returning a pointer to the concrete implementation.
func NewIndexer(api rekognitionApi, bucket string, cfg config.FaceIndex) Indexer {
	return &faceIndexer{
		api:    api,
		bucket: bucket,
		cfg:    cfg,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageFacerec)).
			With(slog.String(util.ComponentKey, util.ComponentFaceIndexer)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Indexer = (*faceIndexer)(nil)

// faceIndexer is the concrete implementation of the Indexer interface.
type faceIndexer struct {
	api    rekognitionApi
	bucket string
	cfg    config.FaceIndex

	logger *slog.Logger
}

// EnsureCollection is the concrete implementation of the interface method
// which idempotently creates the event's collection.
func (f *faceIndexer) EnsureCollection(ctx context.Context, eventId string) error {

	_, err := f.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(CollectionId(eventId)),
	})
	if err != nil {

		// an existing collection is the expected steady state, not an error
		var exists *rektypes.ResourceAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}

		return fmt.Errorf("failed to create face collection for event '%s': %w", eventId, err)
	}

	f.logger.Info(fmt.Sprintf("created face collection '%s'", CollectionId(eventId)))

	return nil
}

// IndexAsset is the concrete implementation of the interface method which
// submits one stored asset for face detection and indexing.
func (f *faceIndexer) IndexAsset(ctx context.Context, eventId, objectKey, externalId string) error {

	_, err := f.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:        aws.String(CollectionId(eventId)),
		ExternalImageId:     aws.String(externalId),
		MaxFaces:            aws.Int32(MaxFacesPerImage),
		QualityFilter:       rektypes.QualityFilterAuto,
		DetectionAttributes: []rektypes.Attribute{rektypes.AttributeAll},
		Image: &rektypes.Image{
			S3Object: &rektypes.S3Object{
				Bucket: aws.String(f.bucket),
				Name:   aws.String(objectKey),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to index faces for object '%s': %w", objectKey, err)
	}

	return nil
}

// IndexBatch is the concrete implementation of the interface method which
// indexes stored assets in fixed-size chunks with rate-limit backoff.
func (f *faceIndexer) IndexBatch(ctx context.Context, eventId string, keys []string, onProgress func(completed, total int)) (*BatchIndexResult, error) {

	// collection setup failing means no item could possibly succeed
	if err := f.EnsureCollection(ctx, eventId); err != nil {
		return nil, err
	}

	result := &BatchIndexResult{}
	total := len(keys)

	for start := 0; start < total; start += f.cfg.ChunkSize {

		end := start + f.cfg.ChunkSize
		if end > total {
			end = total
		}

		for _, key := range keys[start:end] {

			if err := f.indexWithRetry(ctx, eventId, key); err != nil {
				f.logger.Error(fmt.Sprintf("face indexing failed for object '%s': %v", key, err))
				result.Failed = append(result.Failed, IndexFailure{ObjectKey: key, Err: err})
			} else {
				result.Indexed = append(result.Indexed, key)
			}

			if onProgress != nil {
				onProgress(len(result.Indexed)+len(result.Failed), total)
			}
		}

		// pause between chunks to respect the recognition service's throughput limit
		if end < total {
			select {
			case <-time.After(f.cfg.ChunkDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	f.logger.Info(fmt.Sprintf("bulk indexing for event '%s' complete: %d indexed, %d failed", eventId, len(result.Indexed), len(result.Failed)))

	return result, nil
}

// indexWithRetry indexes one asset, retrying only on rate-limit signatures,
// with exponential backoff and jitter up to the configured attempt cap.
func (f *faceIndexer) indexWithRetry(ctx context.Context, eventId, key string) error {

	policy := newRetryPolicy(f.cfg.BaseDelay, f.cfg.MaxDelay, f.cfg.Jitter)

	return backoff.Retry(func() error {

		err := f.IndexAsset(ctx, eventId, key, externalId(key))
		if err == nil {
			return nil
		}

		if !isRateLimited(err) {
			return backoff.Permanent(err)
		}

		f.logger.Warn(fmt.Sprintf("rate limited indexing object '%s', backing off", key))

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.cfg.MaxAttempts-1)), ctx))
}

// externalId derives the recognition external image id from the object key:
// the stored filename, whose sanitized character set is exactly the set the
// recognition service accepts for external ids.
func externalId(objectKey string) string {

	for i := len(objectKey) - 1; i >= 0; i-- {
		if objectKey[i] == '/' {
			return objectKey[i+1:]
		}
	}

	return objectKey
}

// retryPolicy backs off exponentially with additive jitter: each delay is the
// current exponential interval plus a uniform draw from [0, jitter), so a
// retry never fires before the full interval has elapsed.
type retryPolicy struct {
	exponential *backoff.ExponentialBackOff
	jitter      time.Duration
}

func newRetryPolicy(base, max, jitter time.Duration) *retryPolicy {

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = base
	exponential.MaxInterval = max
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0

	return &retryPolicy{exponential: exponential, jitter: jitter}
}

func (p *retryPolicy) NextBackOff() time.Duration {

	next := p.exponential.NextBackOff()
	if next == backoff.Stop || p.jitter <= 0 {
		return next
	}

	return next + time.Duration(rand.Int64N(int64(p.jitter)))
}

func (p *retryPolicy) Reset() {
	p.exponential.Reset()
}
