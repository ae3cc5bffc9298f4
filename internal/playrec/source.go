package playrec

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileSource is a Source backed by a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return filepath.Base(s.Path) }

func (s FileSource) Open() (io.ReadSeekCloser, error) {
	return os.Open(s.Path)
}

// IsRemote reports whether location names a resource fetched over HTTP.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// LocalPath converts a plain path or file:// URL into a filesystem path.
func LocalPath(location string) (string, error) {
	if location == "" {
		return "", ErrNoLocation
	}
	if !strings.Contains(location, "://") {
		return filepath.Clean(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLocation, u.Scheme)
	}
	return filepath.Clean(u.Path), nil
}

// LocalResolver resolves local files only. It checks the file exists so that
// a bad path fails preparation rather than playback.
type LocalResolver struct{}

func (LocalResolver) Resolve(ctx context.Context, location string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := LocalPath(location)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return FileSource{Path: path}, nil
}
