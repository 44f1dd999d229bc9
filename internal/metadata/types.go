package metadata

import (
	"context"
	"fmt"
	"math"
)

// EventRecord is the stored metadata for an event, as far as ingestion needs it.
type EventRecord struct {
	EventId        string `dynamodbav:"eventId"`
	OrganizerEmail string `dynamodbav:"organizerEmail"`
	UserEmail      string `dynamodbav:"userEmail"`
}

// UserRecord is the stored metadata for an organizer account.
type UserRecord struct {
	Email            string `dynamodbav:"email"`
	Branding         bool   `dynamodbav:"branding"`
	OrganizationLogo string `dynamodbav:"organizationLogo"`
}

// BrandingContext is the watermarking decision for one batch, resolved once
// before any item processing and immutable for the batch's lifetime.
type BrandingContext struct {
	Enabled bool
	LogoRef string
}

// StatsDelta carries a completed batch's aggregates to the event statistics.
type StatsDelta struct {
	PhotoCount      int
	OriginalBytes   int64
	CompressedBytes int64
}

// Store is the interface for the event/user metadata store.
type Store interface {

	// GetEvent retrieves an event record, or nil if the event does not exist.
	GetEvent(ctx context.Context, eventId string) (*EventRecord, error)

	// GetUser retrieves a user record by email, or nil if the user does not exist.
	GetUser(ctx context.Context, email string) (*UserRecord, error)

	// UpdateEventStats applies a completed batch's aggregates to the event:
	// photo count is added, stored sizes are set in display units.
	UpdateEventStats(ctx context.Context, eventId string, delta StatsDelta) error
}

// Branding is the interface for resolving a batch's branding context.
type Branding interface {

	// Resolve looks up the event organizer's branding preference, applying
	// any configured forced-branding override first. Lookup failures degrade
	// to branding off; they never fail the batch.
	Resolve(ctx context.Context, eventId string) BrandingContext
}

// LogoFetcher is the interface for turning a logo reference into fetchable bytes.
type LogoFetcher interface {

	// Fetch resolves the reference (relative site asset, storage url needing
	// a proxy rewrite, or absolute url) and downloads the logo bytes.
	Fetch(ctx context.Context, logoRef string) ([]byte, error)
}

// DisplaySize converts a raw byte count into the display unit the event
// statistics store: MB, switching to GB at 1024 MB, rounded to 2 decimals.
func DisplaySize(bytes int64) (float64, string) {

	mb := round2(float64(bytes) / (1024 * 1024))
	if mb >= 1024 {
		return round2(float64(bytes) / (1024 * 1024 * 1024)), "GB"
	}

	return mb, "MB"
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatSize renders a display size the way the stats store expects it.
func formatSize(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
