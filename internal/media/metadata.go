package media

import (
	"context"
	"errors"

	"github.com/austinkregel/local-media/playrec/internal/audio"
	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

// MetadataLookup reads display tags for a resource location. Empty fields
// in the result keep the values the Bridge already published.
type MetadataLookup func(ctx context.Context, location string) (Metadata, error)

// TagReader reads tags from a local file. *audio.FFmpegDecoder implements it.
type TagReader interface {
	Metadata(ctx context.Context, path string) (*audio.FileMetadata, error)
}

var errRemoteLocation = errors.New("tags are only read for local files")

// TagLookup resolves local locations through r. Remote locations are skipped.
func TagLookup(r TagReader) MetadataLookup {
	return func(ctx context.Context, location string) (Metadata, error) {
		if playrec.IsRemote(location) {
			return Metadata{}, errRemoteLocation
		}
		path, err := playrec.LocalPath(location)
		if err != nil {
			return Metadata{}, err
		}
		tags, err := r.Metadata(ctx, path)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{
			Title:    tags.Title,
			Artist:   tags.Artist,
			Album:    tags.Album,
			Duration: tags.Duration,
		}, nil
	}
}
