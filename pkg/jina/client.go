// Package jina is a client for the Jina reader (r.jina.ai) and search
// (s.jina.ai) endpoints, used to fetch public profile pages and to discover
// profile URLs.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/resilience"
)

// Client defines the Jina operations.
type Client interface {
	// Read fetches targetURL through the reader and returns its markdown.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search runs a web search and returns the result list.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the reader's JSON envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData is the page content.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the search JSON envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site string
}

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the reader base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSearchBaseURL overrides the search base URL.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetryConfig replaces the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	http          *http.Client
	retry         resilience.RetryConfig
}

// NewClient creates a Jina client with a 30s timeout and three attempts on
// transient failures.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = time.Second
	retry.OnRetry = resilience.RetryLogger("jina", "get")

	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	status int
	body   []byte
}

// get performs a GET with retries. Transient statuses are retried; any
// other status is returned to the caller to interpret.
func (c *httpClient) get(ctx context.Context, reqURL string, headers map[string]string) (response, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return response{}, eris.Wrap(err, "jina: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, resilience.NewTransientError(eris.Wrap(err, "jina: request failed"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{}, eris.Wrap(err, "jina: read response body")
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return response{}, resilience.NewTransientError(
				eris.Errorf("jina: status %d: %s", resp.StatusCode, truncate(body, 256)), resp.StatusCode)
		}
		return response{status: resp.StatusCode, body: body}, nil
	})
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	resp, err := c.get(ctx, c.baseURL+"/"+targetURL, map[string]string{"X-Return-Format": "markdown"})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, eris.Errorf("jina: unexpected status %d: %s", resp.status, truncate(resp.body, 256))
	}

	var out ReadResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	reqURL := c.searchBaseURL + "/" + url.PathEscape(query)
	if so.site != "" {
		reqURL += "?site=" + url.QueryEscape(so.site)
	}

	resp, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	// 422 means no results.
	if resp.status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: resp.status}, nil
	}
	if resp.status != http.StatusOK {
		return nil, eris.Errorf("jina: search unexpected status %d: %s", resp.status, truncate(resp.body, 256))
	}

	var out SearchResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
