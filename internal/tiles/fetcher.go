package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/resilience"
)

// StatusError is returned when the tile endpoint answers with a non-2xx
// status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tiles: upstream returned %d for %s", e.Code, redact(e.URL))
}

// Fetcher downloads vector tiles through the request transformer, with a
// cache, retries and a per-host breaker.
type Fetcher struct {
	client    *http.Client
	cache     *Cache
	transform TransformFunc
	breaker   *resilience.Breaker
	policy    resilience.Policy
	userAgent string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithCache sets the tile cache.
func WithCache(c *Cache) FetcherOption {
	return func(f *Fetcher) { f.cache = c }
}

// WithTransform sets the request transformer applied before every fetch.
func WithTransform(fn TransformFunc) FetcherOption {
	return func(f *Fetcher) { f.transform = fn }
}

// WithBreaker sets the host breaker.
func WithBreaker(b *resilience.Breaker) FetcherOption {
	return func(f *Fetcher) { f.breaker = b }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p resilience.Policy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

// NewFetcher returns a fetcher with a 30s client timeout and TilePolicy
// retries unless overridden.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		policy:    resilience.TilePolicy(),
		userAgent: "mapboard/1.0",
	}
	for _, o := range opts {
		o(f)
	}
	if f.policy.OnRetry == nil {
		f.policy.OnRetry = resilience.LogRetries("tiles", "fetch")
	}
	return f
}

// Cache returns the fetcher's cache, which may be nil.
func (f *Fetcher) Cache() *Cache { return f.cache }

// Fetch returns the body of tile t of source, expanding template. A 204
// response yields an empty body.
func (f *Fetcher) Fetch(ctx context.Context, source, template string, t Tile) ([]byte, error) {
	key := Key{Source: source, Template: template, Tile: t}
	var gen uint64
	if f.cache != nil {
		if data := f.cache.Get(key); data != nil {
			return data, nil
		}
		gen = f.cache.Generation(source)
	}

	req := Request{URL: Expand(template, t), Kind: ResourceTile, Header: http.Header{}}
	if f.transform != nil {
		req = f.transform(req)
	}

	host := hostOf(req.URL)
	if f.breaker != nil {
		if err := f.breaker.Allow(host); err != nil {
			return nil, eris.Wrapf(err, "tiles: fetch %s", source)
		}
	}

	data, err := resilience.DoVal(ctx, f.policy, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, req)
	})
	if f.breaker != nil {
		f.breaker.Record(host, err)
	}
	if err != nil {
		return nil, err
	}

	if f.cache != nil && !f.cache.Put(key, gen, data) {
		zap.L().Debug("tiles: source replaced during fetch, not cached", zap.String("source", source))
	}
	zap.L().Debug("tiles: fetched",
		zap.String("source", source),
		zap.Int("z", t.Z), zap.Int("x", t.X), zap.Int("y", t.Y),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, r Request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: build request")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: get")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return []byte{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resilience.ForStatus(&StatusError{Code: resp.StatusCode, URL: r.URL}, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: read body")
	}
	return data, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// redact drops the apikey from a URL for logs and errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
