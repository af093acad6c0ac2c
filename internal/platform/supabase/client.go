// Package supabase is a small PostgREST client plus the read-only stats
// sources the evolution engine queries for user activity.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNotConfigured is returned by New when URL or key is missing.
var ErrNotConfigured = errors.New("supabase: url and api key are required")

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// From starts a query on a table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table}
}

// Query builds a PostgREST GET.
type Query struct {
	client  *Client
	table   string
	columns string
	filters url.Values
	limit   int
	count   bool
}

// Select sets the column list.
func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(column string, value any) *Query {
	return q.filter(column, "eq", value)
}

func (q *Query) filter(column, op string, value any) *Query {
	if q.filters == nil {
		q.filters = url.Values{}
	}
	q.filters.Add(column, fmt.Sprintf("%s.%v", op, value))
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Count asks PostgREST for an exact row count in Content-Range.
func (q *Query) Count() *Query {
	q.count = true
	return q
}

// Execute runs the query.
func (q *Query) Execute(ctx context.Context) (*Response, error) {
	params := url.Values{}
	for k, vs := range q.filters {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, q.table)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q.client.setHeaders(req)
	if q.count {
		req.Header.Set("Prefer", "count=exact")
	}
	return q.client.do(req)
}

// Response is a raw PostgREST response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Err returns an error if the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}
	body := gjson.ParseBytes(r.Body)
	if msg := body.Get("message").String(); msg != "" {
		return fmt.Errorf("supabase: status %d: %s", r.StatusCode, msg)
	}
	if msg := body.Get("error").String(); msg != "" {
		return fmt.Errorf("supabase: status %d: %s", r.StatusCode, msg)
	}
	return fmt.Errorf("supabase: status %d", r.StatusCode)
}

// Total parses the row count from a Content-Range header such as "0-24/3573".
func (r *Response) Total() (int64, error) {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 || cr[idx+1:] == "*" {
		return 0, fmt.Errorf("supabase: no exact count in content-range %q", cr)
	}
	n, err := strconv.ParseInt(cr[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("supabase: parse content-range %q: %w", cr, err)
	}
	return n, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &Response{StatusCode: resp.StatusCode, Body: body, Headers: resp.Header}
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
