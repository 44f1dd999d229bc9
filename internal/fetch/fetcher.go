package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/snapfind/snapfind/internal/source"
	"github.com/snapfind/snapfind/internal/util"
)

// FetchTimeout bounds a single hint attempt; remote files can be large.
const FetchTimeout = 60 * time.Second

// htmlSniffLen is how many leading bytes are inspected for an HTML error page
// masquerading as a successful download.
const htmlSniffLen = 100

// FetchedAsset is the raw payload retrieved for one source item. It is owned
// by the pipeline stage that produced it and never persisted.
type FetchedAsset struct {
	SourceId    string
	Bytes       []byte
	ContentType string
}

// AllSourcesUnavailableError is returned when every fetch hint for an item
// has been tried and rejected. It is not retryable at this layer; transient
// retry is the orchestrator's job.
type AllSourcesUnavailableError struct {
	SourceId       string
	AttemptedHints []string
}

// Error implements the error interface.
func (e *AllSourcesUnavailableError) Error() string {
	return fmt.Sprintf("all %d source url(s) failed for item '%s'; the file may not be publicly accessible", len(e.AttemptedHints), e.SourceId)
}

// Fetcher is the interface for retrieving the raw bytes of one source item.
type Fetcher interface {

	// Fetch retrieves the item's bytes, trying each fetch hint in order and
	// accepting the first response that is an actual image. Local items
	// short-circuit to their in-memory bytes.
	Fetch(ctx context.Context, item source.SourceItem) (*FetchedAsset, error)
}

// NewFetcher creates a new content fetcher, returning a pointer to the
// concrete implementation.
func NewFetcher(client *http.Client) Fetcher {
	return &contentFetcher{
		client: client,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageFetch)).
			With(slog.String(util.ComponentKey, util.ComponentFetcher)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Fetcher = (*contentFetcher)(nil)

// contentFetcher is the concrete implementation of the Fetcher interface.
type contentFetcher struct {
	client *http.Client

	logger *slog.Logger
}

// Fetch is the concrete implementation of the interface method which retrieves
// the item's bytes via its fetch hints.
func (f *contentFetcher) Fetch(ctx context.Context, item source.SourceItem) (*FetchedAsset, error) {

	// direct uploads already carry their bytes
	if item.Local() {

		if !strings.HasPrefix(item.ContentType, "image/") {
			return nil, fmt.Errorf("item '%s' declared non-image content type: %s", item.Id, item.ContentType)
		}

		return &FetchedAsset{
			SourceId:    item.Id,
			Bytes:       item.Data,
			ContentType: item.ContentType,
		}, nil
	}

	for i, hint := range item.FetchHints {

		asset, err := f.tryHint(ctx, item.Id, hint)
		if err != nil {
			f.logger.Warn(fmt.Sprintf("fetch url %d/%d failed for item '%s': %v", i+1, len(item.FetchHints), item.Id, err))
			continue
		}

		f.logger.Info(fmt.Sprintf("fetched item '%s' via url %d/%d: %d bytes, %s", item.Id, i+1, len(item.FetchHints), len(asset.Bytes), asset.ContentType))

		return asset, nil
	}

	return nil, &AllSourcesUnavailableError{SourceId: item.Id, AttemptedHints: item.FetchHints}
}

// tryHint performs one GET against a single hint url and validates that the
// payload is actually image content.
func (f *contentFetcher) tryHint(ctx context.Context, sourceId, hint string) (*FetchedAsset, error) {

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	setBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("non-image content type: %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %v", err)
	}

	// some endpoints return a 200 html interstitial with an image content type
	if looksLikeHtml(body) {
		return nil, fmt.Errorf("payload looks like an html page, not an image")
	}

	return &FetchedAsset{
		SourceId:    sourceId,
		Bytes:       body,
		ContentType: contentType,
	}, nil
}

// setBrowserHeaders applies a realistic browser-like header set; the download
// endpoints refuse or redirect bare clients.
func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Referer", "https://drive.google.com/")
	req.Header.Set("Cache-Control", "no-cache")
}

// looksLikeHtml sniffs the first bytes of the payload for an html tag marker.
func looksLikeHtml(body []byte) bool {

	n := len(body)
	if n > htmlSniffLen {
		n = htmlSniffLen
	}

	head := strings.ToLower(string(body[:n]))

	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype")
}
