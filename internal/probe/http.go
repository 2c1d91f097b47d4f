package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxBody caps how much of a response body is read into memory.
const DefaultMaxBody = 8 << 20

// Credentials are attached to a single request as HTTP basic auth.
type Credentials struct {
	Username string
	Password string
}

// Request describes one HTTP call. Headers and credentials are applied to
// this request only; the shared client is never modified.
type Request struct {
	Method   string
	URL      string
	Header   map[string]string
	Body     []byte
	Auth     *Credentials
	ReadBody bool
}

// Response is the subset of an HTTP response the strategies inspect.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// ServicePresent reports whether the status code shows an HTTP service is
// answering: any 2xx, or an authentication challenge.
func (r *Response) ServicePresent() bool {
	return (r.StatusCode >= 200 && r.StatusCode < 300) ||
		r.StatusCode == http.StatusUnauthorized ||
		r.StatusCode == http.StatusForbidden
}

// MediaType returns the lower-cased content type without parameters.
func (r *Response) MediaType() string {
	ct := strings.ToLower(r.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// HTTPFetcher issues HTTP requests through one shared client.
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPFetcher wraps client. A nil client gets a default with no overall
// timeout; deadlines come from the request context.
func NewHTTPFetcher(client *http.Client, maxBody int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 nil,
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       30 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		}
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &HTTPFetcher{client: client, maxBody: maxBody}
}

// Do executes req. Streaming endpoints never end, so the body is only read
// when req.ReadBody is set.
func (f *HTTPFetcher) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if req.Auth != nil && req.Auth.Username != "" {
		httpReq.SetBasicAuth(req.Auth.Username, req.Auth.Password)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
	}
	if req.ReadBody {
		out.Body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
		if err != nil {
			return out, fmt.Errorf("read body: %w", err)
		}
	}
	return out, nil
}

// Get is a convenience wrapper for a GET request.
func (f *HTTPFetcher) Get(ctx context.Context, url string, auth *Credentials, readBody bool) (*Response, error) {
	return f.Do(ctx, Request{Method: http.MethodGet, URL: url, Auth: auth, ReadBody: readBody})
}
