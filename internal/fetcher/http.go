package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-collector/internal/resilience"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every request (e.g. Referer, Authorization).
	Headers map[string]string
	// Client replaces the default *http.Client (tests, custom transports).
	Client *http.Client
}

// HTTPFetcher implements Fetcher using net/http.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	nowFunc func() time.Time
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "profile-collector/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		nowFunc: time.Now,
	}
}

// GetJSON issues a GET with query parameters and decodes the body into out.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	return f.do(req, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (f *HTTPFetcher) PostJSON(ctx context.Context, rawURL string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "fetcher: marshal body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, out)
}

func (f *HTTPFetcher) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range f.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "fetcher: %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if err := f.classify(resp, body); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "fetcher: unmarshal %s", req.URL.Path)
	}
	return nil
}

// classify maps a non-2xx response onto the retry taxonomy.
func (f *HTTPFetcher) classify(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	now := f.nowFunc()
	hint := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	if hint == 0 && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		hint = resilience.ParseRateLimitReset(resp.Header.Get("X-RateLimit-Reset"), now)
	}

	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}

	// Quota exhaustion is reported as 403 by some APIs.
	quotaExhausted := resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"

	if resilience.IsTransientHTTPStatus(resp.StatusCode) || quotaExhausted {
		err := eris.Errorf("http %d from %s: %s", resp.StatusCode, resp.Request.URL.Path, snippet)
		return resilience.NewTransientError(err, resp.StatusCode).WithRetryAfter(hint)
	}

	return &resilience.StatusError{StatusCode: resp.StatusCode, Body: snippet}
}
