// Package fetch provides the source download contract and its HTTP
// implementation.
package fetch

import "context"

// Request names one download.
type Request struct {
	Source string // source name, used for logging and metrics
	URL    string
	Header map[string]string // extra headers such as Referer
}

// Result is a completed download. NotFound is set for HTTP 404 so the
// caller can record a zero-row idempotency marker instead of failing.
type Result struct {
	Body        []byte
	NotFound    bool
	StatusCode  int
	ContentType string
}

// Fetcher downloads raw bytes for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}
