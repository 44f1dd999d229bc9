package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/snapfind/snapfind/internal/config"
)

func TestDisplaySize(t *testing.T) {

	cases := []struct {
		name     string
		bytes    int64
		expected float64
		unit     string
	}{
		{"small batch stays in mb", 5 * 1024 * 1024, 5.00, "MB"},
		{"fractional mb rounds to 2 decimals", 1572864, 1.50, "MB"},
		{"just under the gb switch", 1023 * 1024 * 1024, 1023.00, "MB"},
		{"at the gb switch", 1024 * 1024 * 1024, 1.00, "GB"},
		{"multi gb", 5368709120, 5.00, "GB"},
	}

	for _, c := range cases {

		size, unit := DisplaySize(c.bytes)
		if size != c.expected || unit != c.unit {
			t.Errorf("%s: expected %.2f %s for %d bytes, got %.2f %s", c.name, c.expected, c.unit, c.bytes, size, unit)
		}
	}
}

// fakeDynamo is a test double for the document db client.
type fakeDynamo struct {
	items      map[string]map[string]ddbtypes.AttributeValue // table/key -> item
	getErr     error
	lastUpdate *dynamodb.UpdateItemInput
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {

	if f.getErr != nil {
		return nil, f.getErr
	}

	var keyVal string
	for _, v := range params.Key {
		keyVal = v.(*ddbtypes.AttributeValueMemberS).Value
	}

	item := f.items[*params.TableName+"/"+keyVal]

	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = params
	return &dynamodb.UpdateItemOutput{}, nil
}

func testTables() config.Tables {
	return config.Tables{Events: "Events", Users: "Users"}
}

func TestGetEvent(t *testing.T) {

	fake := &fakeDynamo{items: map[string]map[string]ddbtypes.AttributeValue{
		"Events/evt-1": {
			"eventId":        &ddbtypes.AttributeValueMemberS{Value: "evt-1"},
			"organizerEmail": &ddbtypes.AttributeValueMemberS{Value: "org@example.com"},
		},
	}}
	store := NewStore(fake, testTables())

	event, err := store.GetEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("expected get to succeed, got %v", err)
	}

	if event.OrganizerEmail != "org@example.com" {
		t.Errorf("expected organizer email 'org@example.com', got '%s'", event.OrganizerEmail)
	}

	// absent record -> nil, not an error
	missing, err := store.GetEvent(context.Background(), "evt-unknown")
	if err != nil {
		t.Fatalf("expected absent event to be nil without error, got %v", err)
	}

	if missing != nil {
		t.Errorf("expected nil for absent event, got %+v", missing)
	}
}

func TestUpdateEventStats(t *testing.T) {

	fake := &fakeDynamo{}
	store := NewStore(fake, testTables())

	err := store.UpdateEventStats(context.Background(), "evt-1", StatsDelta{
		PhotoCount:      12,
		OriginalBytes:   1572864, // 1.5 MB
		CompressedBytes: 2147483648,
	})
	if err != nil {
		t.Fatalf("expected stats update to succeed, got %v", err)
	}

	vals := fake.lastUpdate.ExpressionAttributeValues

	if pc := vals[":pc"].(*ddbtypes.AttributeValueMemberN).Value; pc != "12" {
		t.Errorf("expected photo count delta '12', got '%s'", pc)
	}

	if tis := vals[":tis"].(*ddbtypes.AttributeValueMemberN).Value; tis != "1.50" {
		t.Errorf("expected original size '1.50', got '%s'", tis)
	}

	if unit := vals[":tisUnit"].(*ddbtypes.AttributeValueMemberS).Value; unit != "MB" {
		t.Errorf("expected original size unit 'MB', got '%s'", unit)
	}

	if tcs := vals[":tcs"].(*ddbtypes.AttributeValueMemberN).Value; tcs != "2.00" {
		t.Errorf("expected compressed size '2.00', got '%s'", tcs)
	}

	if unit := vals[":tcsUnit"].(*ddbtypes.AttributeValueMemberS).Value; unit != "GB" {
		t.Errorf("expected compressed size unit 'GB', got '%s'", unit)
	}
}

func TestBrandingOverride(t *testing.T) {

	// the override wins without any store lookup
	branding := NewBranding(NewStore(&fakeDynamo{getErr: errors.New("must not be called")}, testTables()), map[string]string{
		"910245": "/taf and child logo.png",
	})

	ctx := branding.Resolve(context.Background(), "910245")

	if !ctx.Enabled {
		t.Errorf("expected override to force branding on")
	}

	if ctx.LogoRef != "/taf and child logo.png" {
		t.Errorf("unexpected override logo ref: '%s'", ctx.LogoRef)
	}
}

func TestBrandingChain(t *testing.T) {

	fake := &fakeDynamo{items: map[string]map[string]ddbtypes.AttributeValue{
		"Events/evt-1": {
			"eventId":        &ddbtypes.AttributeValueMemberS{Value: "evt-1"},
			"organizerEmail": &ddbtypes.AttributeValueMemberS{Value: "org@example.com"},
		},
		// fallback path: no organizerEmail, userEmail instead
		"Events/evt-2": {
			"eventId":   &ddbtypes.AttributeValueMemberS{Value: "evt-2"},
			"userEmail": &ddbtypes.AttributeValueMemberS{Value: "fallback@example.com"},
		},
		"Users/org@example.com": {
			"email":            &ddbtypes.AttributeValueMemberS{Value: "org@example.com"},
			"branding":         &ddbtypes.AttributeValueMemberBOOL{Value: true},
			"organizationLogo": &ddbtypes.AttributeValueMemberS{Value: "https://cdn.example.com/logo.png"},
		},
		"Users/fallback@example.com": {
			"email":    &ddbtypes.AttributeValueMemberS{Value: "fallback@example.com"},
			"branding": &ddbtypes.AttributeValueMemberBOOL{Value: false},
		},
	}}
	branding := NewBranding(NewStore(fake, testTables()), nil)

	ctx := branding.Resolve(context.Background(), "evt-1")
	if !ctx.Enabled || ctx.LogoRef != "https://cdn.example.com/logo.png" {
		t.Errorf("expected branding on with the organizer's logo, got %+v", ctx)
	}

	// branding off for the fallback user
	ctx = branding.Resolve(context.Background(), "evt-2")
	if ctx.Enabled {
		t.Errorf("expected branding off for a user with branding disabled, got %+v", ctx)
	}

	// unknown event degrades to branding off
	ctx = branding.Resolve(context.Background(), "evt-unknown")
	if ctx.Enabled {
		t.Errorf("expected branding off for an unknown event, got %+v", ctx)
	}
}

func TestBrandingLookupFailureDegrades(t *testing.T) {

	branding := NewBranding(NewStore(&fakeDynamo{getErr: errors.New("table unavailable")}, testTables()), nil)

	ctx := branding.Resolve(context.Background(), "evt-1")
	if ctx.Enabled {
		t.Errorf("expected lookup failure to degrade to branding off, got %+v", ctx)
	}
}

func TestLogoFetcherResolveUrl(t *testing.T) {

	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.String()
		w.Write([]byte("logo bytes"))
	}))
	defer server.Close()

	site := config.Site{PublicUrl: server.URL, ImageProxyPath: "/api/proxy-image"}
	fetcher := NewLogoFetcher(server.Client(), site, "snapfind-media")

	// relative reference -> site asset
	body, err := fetcher.Fetch(context.Background(), "/logos/acme.png")
	if err != nil {
		t.Fatalf("expected relative logo fetch to succeed, got %v", err)
	}

	if string(body) != "logo bytes" {
		t.Errorf("unexpected logo body: '%s'", body)
	}

	if requested != "/logos/acme.png" {
		t.Errorf("expected request path '/logos/acme.png', got '%s'", requested)
	}

	// storage url -> proxied through the site
	_, err = fetcher.Fetch(context.Background(), "https://snapfind-media.s3.amazonaws.com/logos/acme.png")
	if err != nil {
		t.Fatalf("expected proxied logo fetch to succeed, got %v", err)
	}

	if requested != "/api/proxy-image?url=https%3A%2F%2Fsnapfind-media.s3.amazonaws.com%2Flogos%2Facme.png" {
		t.Errorf("expected proxied request, got '%s'", requested)
	}
}
