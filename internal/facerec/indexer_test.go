package facerec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/snapfind/snapfind/internal/config"
)

// fakeRekognition is a test double for the recognition client.
type fakeRekognition struct {
	createErr   error
	createCalls int

	indexCalls []string // object keys in call order
	indexTimes []time.Time
	indexErrs  map[string][]error
}

func (f *fakeRekognition) CreateCollection(ctx context.Context, params *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error) {

	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}

	return &rekognition.CreateCollectionOutput{}, nil
}

func (f *fakeRekognition) IndexFaces(ctx context.Context, params *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error) {

	key := *params.Image.S3Object.Name
	f.indexCalls = append(f.indexCalls, key)
	f.indexTimes = append(f.indexTimes, time.Now())

	if errs := f.indexErrs[key]; len(errs) > 0 {
		err := errs[0]
		f.indexErrs[key] = errs[1:]
		return nil, err
	}

	return &rekognition.IndexFacesOutput{}, nil
}

// fastConfig keeps test retries and chunk delays near-instant.
func fastConfig() config.FaceIndex {
	return config.FaceIndex{
		ChunkSize:   2,
		ChunkDelay:  time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      time.Millisecond,
	}
}

func TestCollectionId(t *testing.T) {

	if id := CollectionId("910245"); id != "event-910245" {
		t.Errorf("expected collection id 'event-910245', got '%s'", id)
	}
}

func TestEnsureCollectionAlreadyExists(t *testing.T) {

	fake := &fakeRekognition{createErr: &rektypes.ResourceAlreadyExistsException{}}
	indexer := NewIndexer(fake, "snapfind-media", fastConfig())

	if err := indexer.EnsureCollection(context.Background(), "evt-1"); err != nil {
		t.Errorf("expected existing collection to be treated as success, got %v", err)
	}
}

func TestEnsureCollectionFailure(t *testing.T) {

	fake := &fakeRekognition{createErr: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}}
	indexer := NewIndexer(fake, "snapfind-media", fastConfig())

	if err := indexer.EnsureCollection(context.Background(), "evt-1"); err == nil {
		t.Errorf("expected collection creation failure to surface")
	}
}

func TestIndexBatchChunksAndPartitions(t *testing.T) {

	throttle := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	fatal := &smithy.GenericAPIError{Code: "InvalidParameterException", Message: "bad"}

	keys := []string{
		"events/shared/evt-1/images/a.jpg",
		"events/shared/evt-1/images/b.jpg",
		"events/shared/evt-1/images/c.jpg",
	}

	fake := &fakeRekognition{
		indexErrs: map[string][]error{
			// b recovers after one rate-limited attempt, c never will
			keys[1]: {throttle},
			keys[2]: {fatal},
		},
	}
	indexer := NewIndexer(fake, "snapfind-media", fastConfig())

	var progress int
	result, err := indexer.IndexBatch(context.Background(), "evt-1", keys, func(completed, total int) {
		progress = completed
		if total != 3 {
			t.Errorf("expected progress total 3, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("expected batch to complete, got %v", err)
	}

	if len(result.Indexed) != 2 {
		t.Errorf("expected 2 indexed keys, got %d", len(result.Indexed))
	}

	if len(result.Failed) != 1 || result.Failed[0].ObjectKey != keys[2] {
		t.Errorf("expected only '%s' to fail, got %+v", keys[2], result.Failed)
	}

	if progress != 3 {
		t.Errorf("expected final progress 3, got %d", progress)
	}

	// b: 2 attempts (throttled then ok); c: 1 attempt (permanent failure)
	attempts := map[string]int{}
	for _, k := range fake.indexCalls {
		attempts[k]++
	}

	if attempts[keys[1]] != 2 {
		t.Errorf("expected 2 attempts for rate-limited key, got %d", attempts[keys[1]])
	}

	if attempts[keys[2]] != 1 {
		t.Errorf("expected 1 attempt for permanently failing key, got %d", attempts[keys[2]])
	}
}

func TestIndexBatchRetryExhaustion(t *testing.T) {

	throttle := &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}

	key := "events/shared/evt-1/images/a.jpg"
	fake := &fakeRekognition{
		indexErrs: map[string][]error{
			key: {throttle, throttle, throttle, throttle, throttle},
		},
	}
	indexer := NewIndexer(fake, "snapfind-media", fastConfig())

	result, err := indexer.IndexBatch(context.Background(), "evt-1", []string{key}, nil)
	if err != nil {
		t.Fatalf("expected batch to complete, got %v", err)
	}

	if len(result.Failed) != 1 {
		t.Fatalf("expected the key to fail after retry exhaustion, got %+v", result)
	}

	// MaxAttempts bounds the attempt count exactly
	if len(fake.indexCalls) != fastConfig().MaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", fastConfig().MaxAttempts, len(fake.indexCalls))
	}
}

func TestIndexBatchSetupFailure(t *testing.T) {

	fake := &fakeRekognition{createErr: errors.New("collection service down")}
	indexer := NewIndexer(fake, "snapfind-media", fastConfig())

	_, err := indexer.IndexBatch(context.Background(), "evt-1", []string{"k"}, nil)
	if err == nil {
		t.Errorf("expected setup failure to abort the batch")
	}

	if len(fake.indexCalls) != 0 {
		t.Errorf("expected no index attempts after setup failure, got %d", len(fake.indexCalls))
	}
}

func TestRetryPolicyDelayEnvelope(t *testing.T) {

	base := 100 * time.Millisecond
	max := 400 * time.Millisecond
	jitter := 50 * time.Millisecond

	policy := newRetryPolicy(base, max, jitter)

	// exponential floor with the cap, plus strictly additive jitter
	floors := []time.Duration{base, 2 * base, 4 * base, max, max}
	for i, floor := range floors {
		got := policy.NextBackOff()
		if got < floor {
			t.Errorf("delay %d: expected at least %v, got %v", i+1, floor, got)
		}
		if got >= floor+jitter {
			t.Errorf("delay %d: expected under %v, got %v", i+1, floor+jitter, got)
		}
	}

	policy.Reset()
	if got := policy.NextBackOff(); got < base || got >= base+jitter {
		t.Errorf("expected reset to restart at the base interval, got %v", got)
	}
}

func TestIndexBatchRetryGapFloor(t *testing.T) {

	throttle := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}

	key := "events/shared/evt-1/images/a.jpg"
	fake := &fakeRekognition{
		indexErrs: map[string][]error{
			key: {throttle, throttle, throttle},
		},
	}

	cfg := fastConfig()
	cfg.BaseDelay = 60 * time.Millisecond
	cfg.MaxDelay = 240 * time.Millisecond
	cfg.Jitter = 60 * time.Millisecond
	indexer := NewIndexer(fake, "snapfind-media", cfg)

	if _, err := indexer.IndexBatch(context.Background(), "evt-1", []string{key}, nil); err != nil {
		t.Fatalf("expected batch to complete, got %v", err)
	}

	if len(fake.indexTimes) != cfg.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxAttempts, len(fake.indexTimes))
	}

	// a rate-limited retry never fires before the exponential interval
	for i := 1; i < len(fake.indexTimes); i++ {
		floor := time.Duration(1<<(i-1)) * cfg.BaseDelay
		if gap := fake.indexTimes[i].Sub(fake.indexTimes[i-1]); gap < floor {
			t.Errorf("retry %d: expected a gap of at least %v, got %v", i, floor, gap)
		}
	}
}

func TestExternalId(t *testing.T) {

	if id := externalId("events/shared/evt-1/images/wedding_photo.jpg"); id != "wedding_photo.jpg" {
		t.Errorf("expected external id 'wedding_photo.jpg', got '%s'", id)
	}

	if id := externalId("bare.jpg"); id != "bare.jpg" {
		t.Errorf("expected external id 'bare.jpg', got '%s'", id)
	}
}
