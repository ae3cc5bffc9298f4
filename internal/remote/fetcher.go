// Package remote buffers http(s) resources for playback. Downloads are
// throttled, retried on transient failures and kept in a disk cache.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/austinkregel/local-media/playrec/internal/cache"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultTimeout           = 30 * time.Second
	DefaultRetries           = 2
	// DefaultMaxBytes bounds a single download held in memory.
	DefaultMaxBytes = 512 << 20

	baseBackoff = 250 * time.Millisecond
)

// ErrTooLarge is returned when a response exceeds the download limit.
var ErrTooLarge = errors.New("remote resource too large")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Temporary reports whether retrying could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configures a Fetcher. Zero values take the defaults above.
type Options struct {
	Client            *http.Client
	Cache             *cache.Store
	RequestsPerMinute int
	Timeout           time.Duration
	Retries           int
	MaxBytes          int64
	Logger            *log.Logger
}

// Fetcher downloads whole resources into memory.
type Fetcher struct {
	client   *http.Client
	cache    *cache.Store
	limiter  *rate.Limiter
	timeout  time.Duration
	retries  int
	maxBytes int64
	logger   *log.Logger
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Fetcher{
		client:   opts.Client,
		cache:    opts.Cache,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
		timeout:  opts.Timeout,
		retries:  opts.Retries,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}
}

// Fetch returns the body of url, from the cache when present.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := cache.Key(url)
	if f.cache != nil {
		if data, ok := f.cache.Get(key); ok {
			f.logger.Debug("cache hit", "url", url, "size", humanize.Bytes(uint64(len(data))))
			return data, nil
		}
	}

	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			f.logger.Warn("retrying fetch", "url", url, "attempt", attempt, "backoff", backoff, "err", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if werr := f.limiter.Wait(ctx); werr != nil {
			return nil, fmt.Errorf("rate limit wait cancelled: %w", werr)
		}

		var data []byte
		data, err = f.get(ctx, url)
		if err == nil {
			f.logger.Info("fetched", "url", url, "size", humanize.Bytes(uint64(len(data))))
			if f.cache != nil {
				if cerr := f.cache.Put(key, data); cerr != nil {
					f.logger.Warn("failed to cache download", "url", url, "err", cerr)
				}
			}
			return data, nil
		}
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, humanize.Bytes(uint64(resp.ContentLength)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrTooLarge) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}
