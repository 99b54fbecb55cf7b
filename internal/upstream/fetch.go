// Package upstream performs outbound HTTP calls to tile and style providers.
// It owns the timeout policy and translates transport failures into typed
// errors the dispatcher can map to HTTP responses. Fetches are not retried.
package upstream

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// StatusError reports a non-2xx response from an upstream provider.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Status)
}

// TimeoutError reports that an upstream fetch exceeded its bounded timeout.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream fetch timed out: %s", e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError reports a transport-level failure reaching the upstream.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream fetch failed: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Result is a successful upstream response body with its content type.
type Result struct {
	Body        []byte
	ContentType string
	Status      int
}

// Fetcher performs a single authenticated upstream fetch. Implementations
// must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// HTTPFetcher is the production Fetcher backed by a shared http.Client.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				// Disable transparent gzip so we can record the actual
				// Content-Encoding and decode it ourselves below.
				DisableCompression: true,
			},
		},
	}
}

// Fetch GETs the URL, following redirects, and returns the decoded body.
// Non-2xx responses become *StatusError; timeouts become *TimeoutError;
// other transport failures become *NetworkError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	for k, v := range RequestHeaders(url) {
		req.Header.Set(k, v)
	}

	res, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: url, Err: err}
		}
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, &StatusError{URL: url, Status: res.StatusCode}
	}

	body, err := decodeBody(res)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Result{Body: body, ContentType: contentType, Status: res.StatusCode}, nil
}

// decodeBody reads the response body, undoing gzip or brotli content
// encoding so cached payloads are always identity bytes.
func decodeBody(res *http.Response) ([]byte, error) {
	var reader io.Reader = res.Body
	switch strings.ToLower(res.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(res.Body)
	}
	return io.ReadAll(reader)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
