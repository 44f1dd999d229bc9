package source

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/snapfind/snapfind/pkg/api"
)

// ErrInvalidReference is returned when a link matches neither the single-file
// nor the folder shape.
var ErrInvalidReference = errors.New("link is not a valid drive file or folder reference")

var (
	fileLinkRegex   = regexp.MustCompile(`file/d/([\w-]+)`)
	folderLinkRegex = regexp.MustCompile(`folders/([\w-]+)`)

	// item identifiers are opaque tokens of at least 25 url-safe characters
	itemIdRegex       = regexp.MustCompile(`^[\w-]{25,}$`)
	scriptFileIdRegex = regexp.MustCompile(`fileId":"([\w-]{25,})"`)
)

// SourceItem is one retrievable source in a batch. Remote items carry fetch
// hints (url variants for the same logical object, ordered by reliability);
// local items carry their bytes directly and need no fetch.
type SourceItem struct {
	Id            string
	SuggestedName string
	FetchHints    []string

	// populated for local items only
	Data        []byte
	ContentType string
}

// Local reports whether the item's bytes are already in memory.
func (s *SourceItem) Local() bool {
	return len(s.Data) > 0
}

// FetchHints returns the download url variants for a remote item id, ordered
// by observed reliability.
func fetchHints(id string) []string {
	return []string{
		fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", id),
		fmt.Sprintf("https://drive.google.com/uc?id=%s", id),
		fmt.Sprintf("https://docs.google.com/uc?export=download&id=%s", id),
	}
}

// Ref converts the item to its retrievable reference for the list-only surface.
func (s *SourceItem) Ref() api.SourceRef {

	ref := api.SourceRef{
		Id:   s.Id,
		Name: s.SuggestedName,
	}

	if !s.Local() {
		ref.ViewUrl = fmt.Sprintf("https://drive.google.com/file/d/%s/view", s.Id)
		if len(s.FetchHints) > 0 {
			ref.DownloadUrl = s.FetchHints[0]
		}
	}

	return ref
}

// FromLocalFiles converts directly-uploaded files into source items.
// Each file is its own item; no fetching happens downstream.
func FromLocalFiles(files []api.LocalFile) []SourceItem {

	items := make([]SourceItem, 0, len(files))
	for i, f := range files {
		items = append(items, SourceItem{
			Id:            fmt.Sprintf("local-%d-%s", i, f.Name),
			SuggestedName: f.Name,
			Data:          f.Data,
			ContentType:   f.ContentType,
		})
	}

	return items
}
