// Package httpclient is the shared HTTP GET client used for the platform
// API, manifests and media segments.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultUserAgent mimics a desktop browser; the platform rejects unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxDrainBytes bounds how much of a non-200 body is read before the
// connection is released.
const maxDrainBytes = 64 << 10

// StatusError is returned by GetBytes for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Client performs GET requests with per-call timeouts and fixed headers.
type Client struct {
	http    *http.Client
	headers http.Header
}

// New returns a Client backed by hc. If hc is nil a client with a pooled
// transport is created. Per-request deadlines come from the timeout argument
// of each call, not from hc.Timeout.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	h := make(http.Header)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9,ja;q=0.8")
	h.Set("User-Agent", DefaultUserAgent)

	return &Client{http: hc, headers: h}
}

// SetHeader overrides a default request header.
func (c *Client) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

// GetText fetches rawURL with params merged into its query and returns the
// status code and body. A non-200 status is not an error; the body is
// returned empty in that case.
func (c *Client) GetText(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (int, string, error) {
	status, body, err := c.get(ctx, rawURL, params, timeout)
	if err != nil {
		return 0, "", err
	}
	if status != http.StatusOK {
		return status, "", nil
	}
	return status, string(body), nil
}

// GetBytes fetches rawURL and returns the raw body. Non-200 responses yield
// a *StatusError.
func (c *Client) GetBytes(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	status, body, err := c.get(ctx, rawURL, params, timeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{URL: rawURL, StatusCode: status}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) (int, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.CopyN(io.Discard, resp.Body, maxDrainBytes)
		return resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read body of %s: %w", u.Redacted(), err)
	}
	return resp.StatusCode, body, nil
}
