package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/snapfind/snapfind/internal/config"
	"github.com/snapfind/snapfind/internal/util"
)

// NewBranding creates a new branding resolver over the metadata store and the
// configured override table, returning a pointer to the concrete implementation.
func NewBranding(store Store, overrides map[string]string) Branding {
	return &brandingService{
		store:     store,
		overrides: overrides,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageMetadata)).
			With(slog.String(util.ComponentKey, util.ComponentBranding)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Branding = (*brandingService)(nil)

// brandingService is the concrete implementation of the Branding interface.
type brandingService struct {
	store     Store
	overrides map[string]string

	logger *slog.Logger
}

// Resolve is the concrete implementation of the interface method which looks
// up the event organizer's branding preference for the batch.
func (b *brandingService) Resolve(ctx context.Context, eventId string) BrandingContext {

	// a configured override forces branding on with a fixed logo,
	// regardless of the organizer's stored preference
	if logoRef, ok := b.overrides[eventId]; ok {
		b.logger.Info(fmt.Sprintf("branding override active for event '%s'", eventId))
		return BrandingContext{Enabled: true, LogoRef: logoRef}
	}

	event, err := b.store.GetEvent(ctx, eventId)
	if err != nil {
		b.logger.Error(fmt.Sprintf("failed to look up event '%s' for branding, continuing without: %v", eventId, err))
		return BrandingContext{}
	}

	if event == nil {
		b.logger.Warn(fmt.Sprintf("event '%s' not found, continuing without branding", eventId))
		return BrandingContext{}
	}

	email := event.OrganizerEmail
	if email == "" {
		email = event.UserEmail
	}

	if email == "" {
		b.logger.Warn(fmt.Sprintf("no organizer email on event '%s', continuing without branding", eventId))
		return BrandingContext{}
	}

	user, err := b.store.GetUser(ctx, email)
	if err != nil {
		b.logger.Error(fmt.Sprintf("failed to look up user '%s' for branding, continuing without: %v", email, err))
		return BrandingContext{}
	}

	if user == nil {
		b.logger.Warn(fmt.Sprintf("user '%s' not found, continuing without branding", email))
		return BrandingContext{}
	}

	return BrandingContext{
		Enabled: user.Branding && user.OrganizationLogo != "",
		LogoRef: user.OrganizationLogo,
	}
}

// NewLogoFetcher creates a new logo fetcher, returning a pointer to the
// concrete implementation. The bucket is used to recognize storage urls that
// must be rewritten through the image proxy.
func NewLogoFetcher(client *http.Client, site config.Site, bucket string) LogoFetcher {
	return &logoFetcher{
		client: client,
		site:   site,
		bucket: bucket,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageMetadata)).
			With(slog.String(util.ComponentKey, util.ComponentBranding)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ LogoFetcher = (*logoFetcher)(nil)

// logoFetcher is the concrete implementation of the LogoFetcher interface.
type logoFetcher struct {
	client *http.Client
	site   config.Site
	bucket string

	logger *slog.Logger
}

// Fetch is the concrete implementation of the interface method which resolves
// the logo reference to a url and downloads its bytes.
func (l *logoFetcher) Fetch(ctx context.Context, logoRef string) ([]byte, error) {

	fetchUrl := l.resolveUrl(logoRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build logo request for '%s': %v", fetchUrl, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download logo from '%s': %v", fetchUrl, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logo download from '%s' returned status %d", fetchUrl, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logo body from '%s': %v", fetchUrl, err)
	}

	l.logger.Info(fmt.Sprintf("downloaded logo from '%s': %d bytes", fetchUrl, len(body)))

	return body, nil
}

// resolveUrl turns a logo reference into a fetchable url: relative references
// are site assets, bucket urls go through the image proxy to sidestep cors and
// access policies, and anything else is taken as-is.
func (l *logoFetcher) resolveUrl(logoRef string) string {

	// relative reference -> public site asset
	if strings.HasPrefix(logoRef, "/") {
		return l.site.PublicUrl + logoRef
	}

	// storage url -> rewrite through the image proxy
	bucketPrefix := fmt.Sprintf("https://%s.s3.amazonaws.com/", l.bucket)
	if strings.HasPrefix(logoRef, bucketPrefix) {
		return fmt.Sprintf("%s%s?url=%s", l.site.PublicUrl, l.site.ImageProxyPath, url.QueryEscape(logoRef))
	}

	return logoRef
}
