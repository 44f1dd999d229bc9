package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/facerec"
	"github.com/snapfind/snapfind/internal/fetch"
	"github.com/snapfind/snapfind/internal/metadata"
	"github.com/snapfind/snapfind/internal/source"
	"github.com/snapfind/snapfind/internal/storage"
	"github.com/snapfind/snapfind/internal/transform"
	"github.com/snapfind/snapfind/internal/util"
	"github.com/snapfind/snapfind/pkg/api"
)

// Orchestrator is the interface for the end-to-end batch ingestion pipeline.
type Orchestrator interface {

	// Run processes the source items for an event with bounded concurrency
	// and returns the aggregated batch result. It errors only for systemic
	// setup failure; individual item outcomes are captured in the result.
	Run(ctx context.Context, eventId string, items []source.SourceItem, reporter ProgressReporter) (*api.BatchResult, error)
}

// NewOrchestrator creates a new batch orchestrator wiring the pipeline stages
// together, returning a pointer to the concrete implementation.
func NewOrchestrator(
	fetcher fetch.Fetcher,
	transformer transform.Transformer,
	store storage.ObjectStorage,
	indexer facerec.Indexer,
	branding metadata.Branding,
	logos metadata.LogoFetcher,
	stats metadata.Store,
	cfg config.Pipeline,
) Orchestrator {

	return &batchOrchestrator{
		fetcher:     fetcher,
		transformer: transformer,
		store:       store,
		indexer:     indexer,
		branding:    branding,
		logos:       logos,
		stats:       stats,
		cfg:         cfg,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackagePipeline)).
			With(slog.String(util.ComponentKey, util.ComponentOrchestrator)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Orchestrator = (*batchOrchestrator)(nil)

// batchOrchestrator is the concrete implementation of the Orchestrator interface.
type batchOrchestrator struct {
	fetcher     fetch.Fetcher
	transformer transform.Transformer
	store       storage.ObjectStorage
	indexer     facerec.Indexer
	branding    metadata.Branding
	logos       metadata.LogoFetcher
	stats       metadata.Store
	cfg         config.Pipeline

	logger *slog.Logger
}

// Run is the concrete implementation of the interface method which drives the
// pipeline over the batch's source items.
func (o *batchOrchestrator) Run(ctx context.Context, eventId string, items []source.SourceItem, reporter ProgressReporter) (*api.BatchResult, error) {

	batchId := uuid.NewString()
	log := o.logger.With(slog.String("batch_id", batchId), slog.String("event_id", eventId))

	result := &api.BatchResult{
		BatchId: batchId,
		EventId: eventId,
		Total:   len(items),
		Results: make([]api.ItemResult, len(items)),
	}

	if len(items) == 0 {
		result.Results = []api.ItemResult{}
		return result, nil
	}

	// resolve the branding context once, before any item processing
	spec := o.resolveTransformSpec(ctx, eventId, log)

	// resolve the existing-name set once -> one listing for the whole batch
	existing, err := o.store.ListKeys(ctx, storage.ImagePrefix(eventId))
	if err != nil {
		return nil, &SystemicError{Stage: "duplicate precheck", Err: err}
	}
	guard := NewDuplicateGuard(existing)

	// collection setup failing means face indexing could not work for any item
	if err := o.indexer.EnsureCollection(ctx, eventId); err != nil {
		return nil, &SystemicError{Stage: "face collection setup", Err: err}
	}

	log.Info(fmt.Sprintf("starting batch of %d item(s), %d existing object(s) in namespace", len(items), len(existing)))

	var (
		completed atomic.Int64
		group     errgroup.Group
	)
	group.SetLimit(o.cfg.MaxConcurrent)

	for i := range items {

		group.Go(func() error {

			item := items[i]
			outcome := o.processWithRetry(ctx, eventId, item, guard, spec, log)
			result.Results[i] = outcome

			done := int(completed.Add(1))
			if reporter != nil {
				reporter.OnItemComplete(done, len(items), outcome.FileName)
			}

			return nil // item failures are captured in the result, never propagated
		})
	}

	_ = group.Wait()

	for _, r := range result.Results {
		switch r.Status {
		case api.ItemSuccess:
			result.Successful++
			result.TotalOriginalBytes += r.OriginalSize
			result.TotalProcessedBytes += r.ProcessedSize
		case api.ItemSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	log.Info(fmt.Sprintf("batch complete: %d successful, %d failed, %d skipped of %d", result.Successful, result.Failed, result.Skipped, result.Total))

	// hand the aggregates to the event statistics; a stats failure never
	// fails a batch whose assets are already stored
	if result.Successful > 0 {
		if err := o.stats.UpdateEventStats(ctx, eventId, metadata.StatsDelta{
			PhotoCount:      result.Successful,
			OriginalBytes:   result.TotalOriginalBytes,
			CompressedBytes: result.TotalProcessedBytes,
		}); err != nil {
			log.Error(fmt.Sprintf("failed to update event statistics: %v", err))
		}
	}

	return result, nil
}

// resolveTransformSpec builds the batch's transform spec from the branding
// context. Logo fetch failures degrade to processing without a watermark.
func (o *batchOrchestrator) resolveTransformSpec(ctx context.Context, eventId string, log *slog.Logger) transform.TransformSpec {

	branding := o.branding.Resolve(ctx, eventId)
	if !branding.Enabled || branding.LogoRef == "" {
		return transform.DefaultSpec(nil)
	}

	logoBytes, err := o.logos.Fetch(ctx, branding.LogoRef)
	if err != nil {
		log.Warn(fmt.Sprintf("failed to fetch branding logo, processing without watermark: %v", err))
		return transform.DefaultSpec(nil)
	}

	return transform.DefaultSpec(&transform.WatermarkSpec{LogoBytes: logoBytes})
}

// processWithRetry wraps one item's pipeline run in the outer retry loop:
// transient failures back off exponentially with jitter up to the attempt
// cap; validation and decode failures surface immediately.
func (o *batchOrchestrator) processWithRetry(ctx context.Context, eventId string, item source.SourceItem, guard *DuplicateGuard, spec transform.TransformSpec, log *slog.Logger) api.ItemResult {

	policy := newRetryPolicy(o.cfg.BaseDelay, o.cfg.MaxDelay, o.cfg.Jitter)

	var (
		outcome api.ItemResult
		attempt int
	)

	err := backoff.Retry(func() error {

		attempt++

		var err error
		outcome, err = o.processItem(ctx, eventId, item, guard, spec, attempt)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return backoff.Permanent(err)
		}

		log.Warn(fmt.Sprintf("attempt %d/%d failed for item '%s': %v", attempt, o.cfg.MaxAttempts, item.Id, err))

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.cfg.MaxAttempts-1)), ctx))

	if err != nil {
		log.Error(fmt.Sprintf("item '%s' failed after %d attempt(s): %v", item.Id, attempt, err))
		return api.ItemResult{
			Status:   api.ItemFailed,
			SourceId: item.Id,
			FileName: normalizeName(item.SuggestedName),
			Error:    err.Error(),
		}
	}

	return outcome
}

// processItem runs one item through the pipeline stages sequentially under
// the per-item deadline: fetch, transform, duplicate check, store, and
// best-effort face indexing.
func (o *batchOrchestrator) processItem(parent context.Context, eventId string, item source.SourceItem, guard *DuplicateGuard, spec transform.TransformSpec, attempt int) (api.ItemResult, error) {

	// later attempts get a longer deadline; timeouts on large files are the
	// main reason an attempt ends up here again
	ctx, cancel := context.WithTimeout(parent, o.itemTimeout(attempt))
	defer cancel()

	fileName := normalizeName(item.SuggestedName)

	asset, err := o.fetcher.Fetch(ctx, item)
	if err != nil {
		return api.ItemResult{}, err
	}

	processed, err := o.transformer.Transform(asset, spec)
	if err != nil {
		return api.ItemResult{}, err
	}

	// already present in the namespace -> nothing to write, not an error
	if guard.IsDuplicate(item.SuggestedName) {
		return api.ItemResult{
			Status:   api.ItemSkipped,
			SourceId: item.Id,
			FileName: fileName,
		}, nil
	}

	key := storage.ObjectKey(eventId, fileName)

	publicUrl, err := o.store.PutObject(ctx, key, processed.Bytes, processed.ContentType)
	if err != nil {
		return api.ItemResult{}, err
	}

	// face indexing is best effort: the asset is stored and usable, only
	// search-by-face is degraded if this fails
	if err := o.indexer.IndexAsset(ctx, eventId, key, fileName); err != nil {
		o.logger.Error(fmt.Sprintf("face indexing failed for object '%s': %v", key, err))
	}

	return api.ItemResult{
		Status:        api.ItemSuccess,
		SourceId:      item.Id,
		FileName:      fileName,
		ObjectKey:     key,
		PublicUrl:     publicUrl,
		OriginalSize:  processed.OriginalSize,
		ProcessedSize: processed.ProcessedSize,
	}, nil
}

// itemTimeout returns the per-item deadline, scaled up on later attempts and
// capped at three times the base.
func (o *batchOrchestrator) itemTimeout(attempt int) time.Duration {

	multiplier := attempt
	if multiplier > 3 {
		multiplier = 3
	}

	return o.cfg.ItemTimeout * time.Duration(multiplier)
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
