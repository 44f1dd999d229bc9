package api

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	EventIdRegex   = `^[a-zA-Z0-9_-]{1,64}$` // Regex for event ids, opaque alphanumeric tokens
	DriveLinkRegex = `^https://(drive|docs)\.google\.com/[^\s]+$`

	FileNameMaxLength = 255

	// MaxLocalFileBytes caps a single directly-uploaded file at 100 MB.
	MaxLocalFileBytes = 100 * 1024 * 1024
)

var (
	eventIdRegex   = regexp.MustCompile(EventIdRegex)
	driveLinkRegex = regexp.MustCompile(DriveLinkRegex)
)

// LocalFile is a directly-uploaded file carried inline in the ingest request.
// Data is base64 on the wire; encoding/json decodes it to raw bytes.
type LocalFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Validate validates the LocalFile -> input validation.
func (f *LocalFile) Validate() error {

	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("file name is required")
	}

	if len(f.Name) > FileNameMaxLength {
		return fmt.Errorf("file name must be at most %d chars", FileNameMaxLength)
	}

	if !strings.HasPrefix(f.ContentType, "image/") {
		return fmt.Errorf("unsupported content type for file '%s': %s", f.Name, f.ContentType)
	}

	if len(f.Data) == 0 {
		return fmt.Errorf("file '%s' is empty", f.Name)
	}

	if len(f.Data) > MaxLocalFileBytes {
		return fmt.Errorf("file '%s' exceeds the maximum size of %d bytes", f.Name, MaxLocalFileBytes)
	}

	return nil
}

// IngestCmd is the command to ingest a batch of images into an event,
// either from a shareable drive link or from a list of directly-uploaded files.
type IngestCmd struct {
	EventId   string      `json:"event_id"`
	DriveLink string      `json:"drive_link,omitempty"`
	Files     []LocalFile `json:"files,omitempty"`
}

// Validate validates the IngestCmd -> input validation.
func (cmd *IngestCmd) Validate() error {

	if !eventIdRegex.MatchString(cmd.EventId) {
		return fmt.Errorf("invalid event id: %s", cmd.EventId)
	}

	// exactly one source kind must be provided
	if cmd.DriveLink == "" && len(cmd.Files) == 0 {
		return fmt.Errorf("either a drive link or a list of files is required")
	}

	if cmd.DriveLink != "" && len(cmd.Files) > 0 {
		return fmt.Errorf("a drive link and a list of files are mutually exclusive")
	}

	if cmd.DriveLink != "" && !driveLinkRegex.MatchString(cmd.DriveLink) {
		return fmt.Errorf("invalid drive link: %s", cmd.DriveLink)
	}

	for i := range cmd.Files {
		if err := cmd.Files[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ListSourcesCmd is the command to resolve a shareable link to its
// retrievable references without ingesting anything.
type ListSourcesCmd struct {
	DriveLink string `json:"drive_link"`
}

// Validate validates the ListSourcesCmd -> input validation.
func (cmd *ListSourcesCmd) Validate() error {

	if cmd.DriveLink == "" {
		return fmt.Errorf("drive link is required")
	}

	if !driveLinkRegex.MatchString(cmd.DriveLink) {
		return fmt.Errorf("invalid drive link: %s", cmd.DriveLink)
	}

	return nil
}

// SourceRef is a retrievable reference resolved from a shareable link.
type SourceRef struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	ViewUrl     string `json:"view_url"`
	DownloadUrl string `json:"download_url"`
}

// SourceList is the response to a list-only resolution request.
type SourceList struct {
	Total   int         `json:"total"`
	Sources []SourceRef `json:"sources"`
}

// ReindexResult is the outcome of a bulk re-indexing run over an event's
// stored assets.
type ReindexResult struct {
	EventId string   `json:"event_id"`
	Indexed []string `json:"indexed"`
	Failed  []string `json:"failed"`
}

// item outcome values for ItemResult.Status
const (
	ItemSuccess = "success"
	ItemFailed  = "failed"
	ItemSkipped = "skipped"
)

// ItemResult is the terminal outcome of one source item in a batch.
// Every source item maps to exactly one ItemResult.
type ItemResult struct {
	Status   string `json:"status"`
	SourceId string `json:"source_id"`
	FileName string `json:"file_name,omitempty"`

	// populated on success
	ObjectKey     string `json:"object_key,omitempty"`
	PublicUrl     string `json:"public_url,omitempty"`
	OriginalSize  int64  `json:"original_size,omitempty"`
	ProcessedSize int64  `json:"processed_size,omitempty"`

	// populated on failure
	Error string `json:"error,omitempty"`
}

// BatchResult is the aggregate outcome of one batch ingestion run.
// Byte totals are summed over successful items only.
type BatchResult struct {
	BatchId    string       `json:"batch_id"`
	EventId    string       `json:"event_id"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Results    []ItemResult `json:"results"`

	TotalOriginalBytes  int64 `json:"total_original_bytes"`
	TotalProcessedBytes int64 `json:"total_processed_bytes"`
}
