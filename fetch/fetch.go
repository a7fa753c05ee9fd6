// Package fetch performs the HTTP requests of a harvest run: plain page
// fetches and AJAX pagination calls.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// ErrTransport marks network and HTTP status failures.
var ErrTransport = errors.New("transport error")

// defaultMaxBodyBytes caps how much of a response body is read.
const defaultMaxBodyBytes = 10 * 1024 * 1024

// Request describes one outgoing request. Params are sent as the query string
// for GET and as a form body for POST.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Headers map[string]string
	Cookies map[string]string
}

// Response is a fetched body decoded to UTF-8 plus its declared content
// type.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Options configures a Client.
type Options struct {
	// Headers are sent with every request; per-request headers win.
	Headers map[string]string
	Proxy   string
	Timeout time.Duration // default: 30s
	// MaxBodyBytes rejects larger bodies as ErrTransport. Default: 10 MiB.
	MaxBodyBytes int64
}

// Client fetches pages over HTTP.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	maxBody    int64
}

// NewClient creates a client. An unparsable proxy URL is an error.
func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		headers:    opts.Headers,
		maxBody:    maxBody,
	}, nil
}

// Do performs a request. Responses with status 400 or above are returned as
// ErrTransport.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	req, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, r.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrTransport, resp.StatusCode, r.URL)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body of %s: %v", ErrTransport, r.URL, err)
	}
	if int64(len(raw)) > c.maxBody {
		return nil, fmt.Errorf("%w: body of %s exceeds %d bytes", ErrTransport, r.URL, c.maxBody)
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := decode(raw, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode body of %s: %w", r.URL, err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	target := r.URL
	switch method {
	case http.MethodGet:
		if len(r.Params) > 0 {
			u, err := url.Parse(r.URL)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			for k, vs := range r.Params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}
	case http.MethodPost:
		body = strings.NewReader(r.Params.Encode())
	default:
		return nil, fmt.Errorf("unsupported method %q", r.Method)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	for name, value := range r.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	return req, nil
}

// decode converts a body to UTF-8 using the declared charset, a BOM or an
// HTML meta tag. Valid UTF-8 without a declared charset is returned as is.
func decode(raw []byte, contentType string) ([]byte, error) {
	if _, params, err := mime.ParseMediaType(contentType); (err != nil || params["charset"] == "") && utf8.Valid(raw) {
		return raw, nil
	}

	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}
