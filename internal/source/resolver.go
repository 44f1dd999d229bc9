package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapfind/snapfind/internal/util"
)

// DefaultFolderBaseUrl is the listing endpoint for shared drive folders.
const DefaultFolderBaseUrl = "https://drive.google.com/drive/folders"

// Resolver is the interface for turning a user-supplied shareable link into an
// ordered, deduplicated list of retrievable source items.
type Resolver interface {

	// Resolve classifies the link as a single file or a folder and returns the
	// source items it refers to, in first-seen order with duplicates removed.
	// A folder whose listing yields no identifiers resolves to an empty list.
	Resolve(ctx context.Context, link string) ([]SourceItem, error)
}

// NewResolver creates a new link resolver, returning a pointer to the
// concrete implementation. folderBaseUrl is the folder listing endpoint,
// DefaultFolderBaseUrl outside of tests.
func NewResolver(client *http.Client, folderBaseUrl string) Resolver {
	return &driveResolver{
		client:        client,
		folderBaseUrl: folderBaseUrl,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageSource)).
			With(slog.String(util.ComponentKey, util.ComponentSourceResolver)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Resolver = (*driveResolver)(nil)

// driveResolver is the concrete implementation of the Resolver interface.
type driveResolver struct {
	client        *http.Client
	folderBaseUrl string

	logger *slog.Logger
}

// Resolve is the concrete implementation of the interface method which
// classifies the link and returns the source items it refers to.
func (r *driveResolver) Resolve(ctx context.Context, link string) ([]SourceItem, error) {

	// single file link -> a collection of size one
	if m := fileLinkRegex.FindStringSubmatch(link); m != nil {
		return []SourceItem{newRemoteItem(m[1])}, nil
	}

	// folder link -> scrape the listing for item identifiers
	if m := folderLinkRegex.FindStringSubmatch(link); m != nil {

		ids, err := r.scrapeFolder(ctx, m[1])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder '%s': %w", m[1], err)
		}

		items := make([]SourceItem, 0, len(ids))
		for _, id := range ids {
			items = append(items, newRemoteItem(id))
		}

		r.logger.Info(fmt.Sprintf("resolved folder '%s' to %d source item(s)", m[1], len(items)))

		return items, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidReference, link)
}

// scrapeFolder fetches the folder's listing page and scans it for item
// identifiers, falling back through three strategies: anchor hrefs, data-id
// attributes, and embedded viewer-data script blocks.
func (r *driveResolver) scrapeFolder(ctx context.Context, folderId string) ([]string, error) {

	folderUrl := fmt.Sprintf("%s/%s", r.folderBaseUrl, folderId)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, folderUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build folder listing request: %v", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch folder listing: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("folder listing returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse folder listing: %v", err)
	}

	// ordered set semantics: first-seen order, duplicates dropped
	var (
		ids  []string
		seen = make(map[string]struct{})
	)
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	// primary strategy: anchors whose href embeds a file reference
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			if m := fileLinkRegex.FindStringSubmatch(href); m != nil {
				add(m[1])
			}
		}
	})

	// fallback: elements carrying the identifier directly in a data attribute
	if len(ids) == 0 {
		doc.Find("[data-id]").Each(func(_ int, sel *goquery.Selection) {
			if id, ok := sel.Attr("data-id"); ok && itemIdRegex.MatchString(id) {
				add(id)
			}
		})
	}

	// last resort: viewer data embedded in script blocks
	if len(ids) == 0 {
		doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
			for _, m := range scriptFileIdRegex.FindAllStringSubmatch(sel.Text(), -1) {
				add(m[1])
			}
		})
	}

	if len(ids) == 0 {
		r.logger.Warn(fmt.Sprintf("no item identifiers found in folder listing for '%s'", folderId))
	}

	return ids, nil
}

// browserUserAgent mirrors a real browser so the folder listing endpoint
// serves the full page rather than an interstitial.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// newRemoteItem builds a remote source item for a drive file id. The suggested
// name carries the id and a millisecond timestamp, matching the naming of the
// stored assets this pipeline has always produced.
func newRemoteItem(id string) SourceItem {
	return SourceItem{
		Id:            id,
		SuggestedName: fmt.Sprintf("drive-%s-%d.jpg", id, time.Now().UnixMilli()),
		FetchHints:    fetchHints(id),
	}
}
