package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"marketlake/internal/errs"
)

// Default configuration values.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// HTTPFetcher downloads source files over a cookie-holding session.
// NSE endpoints refuse requests without browser-like headers and the
// cookies handed out by the portal landing page, so the fetcher can
// warm the session up once before the first download.
//
// Safe for concurrent use: the cookie jar and http.Client synchronize
// internally and the warmup runs once.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	warmupURL string

	warmupOnce sync.Once
	warmupErr  error
}

// FetcherOption configures HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

// WithUserAgent overrides the browser-like default User-Agent.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithWarmup sets a URL visited once before the first fetch to pick up
// session cookies.
func WithWarmup(url string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.warmupURL = url
	}
}

// WithHTTPClient sets a custom http.Client. The cookie jar is attached
// if the client has none.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if client.Jar == nil {
			client.Jar = f.client.Jar
		}
		f.client = client
	}
}

// NewHTTPFetcher creates a session fetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	jar, _ := cookiejar.New(nil)
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: DefaultTimeout, Jar: jar},
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ Fetcher = (*HTTPFetcher)(nil)

// Fetch downloads one file. HTTP 404 maps to Result.NotFound; 429 and
// 5xx map to retryable network errors; other non-200 statuses are
// permanent failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := f.warmup(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.Source, err)
	}
	f.setHeaders(httpReq, req.Header)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errs.E(errs.KindNetwork, fmt.Errorf("fetch %s: %w", req.Source, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := decodeBody(resp)
		if err != nil {
			return nil, errs.E(errs.KindNetwork, fmt.Errorf("read %s body: %w", req.Source, err))
		}
		return &Result{
			Body:        body,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil

	case resp.StatusCode == http.StatusNotFound:
		return &Result{NotFound: true, StatusCode: resp.StatusCode}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.Errorf(errs.KindNetwork, "fetch %s: http %d", req.Source, resp.StatusCode)

	default:
		return nil, fmt.Errorf("fetch %s: http %d", req.Source, resp.StatusCode)
	}
}

func (f *HTTPFetcher) warmup(ctx context.Context) error {
	if f.warmupURL == "" {
		return nil
	}
	f.warmupOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.warmupURL, nil)
		if err != nil {
			f.warmupErr = fmt.Errorf("build warmup request: %w", err)
			return
		}
		f.setHeaders(req, nil)
		resp, err := f.client.Do(req)
		if err != nil {
			f.warmupErr = errs.E(errs.KindNetwork, fmt.Errorf("session warmup: %w", err))
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	})
	return f.warmupErr
}

func (f *HTTPFetcher) setHeaders(req *http.Request, extra map[string]string) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// decodeBody reads the response body, undoing transport compression.
// Setting Accept-Encoding by hand disables Go's transparent gzip
// handling, so both gzip and brotli are decoded here.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(r)
}
