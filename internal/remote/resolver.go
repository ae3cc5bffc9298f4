package remote

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

// MemorySource is a Source over a fully buffered resource.
type MemorySource struct {
	name string
	data []byte
}

func NewMemorySource(name string, data []byte) MemorySource {
	return MemorySource{name: name, data: data}
}

func (s MemorySource) Name() string { return s.name }

func (s MemorySource) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(s.data)}, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Resolver buffers http(s) locations through a Fetcher and hands every
// other location to Local.
type Resolver struct {
	Fetcher *Fetcher
	Local   playrec.Resolver
}

func (r *Resolver) Resolve(ctx context.Context, location string) (playrec.Source, error) {
	if !playrec.IsRemote(location) {
		local := r.Local
		if local == nil {
			local = playrec.LocalResolver{}
		}
		return local.Resolve(ctx, location)
	}
	data, err := r.Fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(sourceName(location), data), nil
}

func sourceName(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Path == "" || u.Path == "/" {
		return location
	}
	return path.Base(u.Path)
}

var _ playrec.Resolver = (*Resolver)(nil)
