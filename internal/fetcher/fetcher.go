// Package fetcher provides the JSON-over-HTTP client shared by the source
// API clients. Each call is a single attempt; failures come back classified
// so the governor can decide whether to retry.
package fetcher

import (
	"context"
	"net/url"
)

// Fetcher performs single-attempt JSON requests.
type Fetcher interface {
	// GetJSON issues a GET with query parameters and decodes the body into out.
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error

	// PostJSON sends body as JSON and decodes the response into out.
	PostJSON(ctx context.Context, rawURL string, body any, out any) error
}
