// Package backend talks to the hosted backend: the PostgREST-style row API,
// the GoTrue-style auth API and the realtime change feed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sells-group/mapboard/internal/resilience"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %d: %s", e.Status, e.Message)
}

// TokenSource supplies the bearer token for requests. An empty token means
// the anon key is used.
type TokenSource interface {
	AccessToken() string
}

// Option configures the backend transport.
type Option func(*transport)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *transport) { t.http = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(t *transport) {
		if rps > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		} else {
			t.limiter = nil
		}
	}
}

// WithTokens sets the source of the user's access token.
func WithTokens(ts TokenSource) Option {
	return func(t *transport) { t.tokens = ts }
}

// WithRetryPolicy sets the policy used for reads.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(t *transport) { t.reads = p }
}

type transport struct {
	baseURL string
	anonKey string
	http    *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
	reads   resilience.Policy
}

func newTransport(baseURL, anonKey string, opts ...Option) *transport {
	t := &transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 20),
		reads:   resilience.ReadPolicy(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type call struct {
	method string
	url    string
	body   any
	token  string
	header map[string]string
}

// do sends c and returns the response body. Non-2xx answers become
// *APIError, wrapped as transient for retryable statuses.
func (t *transport) do(ctx context.Context, c call) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "backend: rate limit wait")
		}
	}

	var body io.Reader
	if c.body != nil {
		buf, err := json.Marshal(c.body)
		if err != nil {
			return nil, eris.Wrap(err, "backend: marshal body")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, eris.Wrap(err, "backend: build request")
	}
	req.Header.Set("apikey", t.anonKey)
	req.Header.Set("Authorization", "Bearer "+t.bearer(c.token))
	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: %s %s", c.method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "backend: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.ForStatus(parseAPIError(resp.StatusCode, data), resp.StatusCode)
	}
	return data, nil
}

func (t *transport) bearer(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if t.tokens != nil {
		if tok := t.tokens.AccessToken(); tok != "" {
			return tok
		}
	}
	return t.anonKey
}

// parseAPIError reads the error shapes of the row API and the auth API.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		for _, k := range []string{"message", "msg", "error_description", "error"} {
			if v := res.Get(k); v.Exists() && v.Type == gjson.String {
				e.Message = v.String()
				break
			}
		}
		e.Code = res.Get("code").String()
		if e.Code == "" {
			e.Code = res.Get("error_code").String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
