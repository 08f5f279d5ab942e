// Package catalog resolves display metadata and categories for locally
// hosted videos. The history service treats the video collection as an
// external collaborator and only ever reads from it.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned for video ids that do not exist in the catalog.
var ErrNotFound = errors.New("video not found")

// Video is the denormalised slice of a catalog record the history service
// cares about.
type Video struct {
	ID          string
	Title       string
	Thumbnail   string
	Category    string
	ChannelName string
	UploadedBy  string
}

// Catalog defines read-only lookups against the video collection.
type Catalog interface {
	// GetVideo resolves one video's display metadata, or ErrNotFound.
	GetVideo(ctx context.Context, id string) (Video, error)
	// Categories batch-resolves ids to category names. Unknown ids are
	// simply absent from the result; they are not errors.
	Categories(ctx context.Context, ids []string) (map[string]string, error)
}
