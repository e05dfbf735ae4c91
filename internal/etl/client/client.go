// Package client is a REST implementation of the etl remote capabilities.
//
// A Client talks to one collection endpoint. Listings may be a bare JSON
// array or an envelope object carrying the page items and a link to the
// next page; both shapes are accepted.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the collection endpoint, e.g. https://api.example.com/v1/users/.
	BaseURL string
	Token   string
	Timeout time.Duration

	// HTTP2 enables HTTP/2 negotiation over TLS.
	HTTP2     bool
	TLSConfig *tls.Config

	// ResultsKey and NextKey name the envelope keys of a listing response.
	ResultsKey string
	NextKey    string
	// PageParam is the query parameter FetchPage sets.
	PageParam string

	Retry RetryPolicy

	// HTTPClient replaces the client built from Timeout, HTTP2 and TLSConfig.
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	opts   Options
	http   *http.Client
	logger *log.Logger
}

// New builds a client for the collection at opts.BaseURL. Zero-valued
// options take their defaults.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", opts.BaseURL)
	}
	if opts.ResultsKey == "" {
		opts.ResultsKey = "results"
	}
	if opts.NextKey == "" {
		opts.NextKey = "next"
	}
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc, err = buildHTTPClient(opts)
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}

	return &Client{base: base, opts: opts, http: hc, logger: logger}, nil
}

func buildHTTPClient(opts Options) (*http.Client, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.TLSConfig != nil {
		tr.TLSClientConfig = opts.TLSConfig.Clone()
	}
	if opts.HTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("failed to configure HTTP/2 transport: %w", err)
		}
	}
	return &http.Client{Transport: tr, Timeout: opts.Timeout}, nil
}

// ListPage fetches the first page of the listing filtered by q.
func (c *Client) ListPage(ctx context.Context, q etl.Query) (etl.Page, error) {
	return c.listURL(ctx, c.collectionURL(q))
}

func (c *Client) listURL(ctx context.Context, u *url.URL) (etl.Page, error) {
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return etl.Page{}, err
	}
	items, envelope, next, err := c.decodeListing(body)
	if err != nil {
		return etl.Page{}, fmt.Errorf("GET %s: %w", u, err)
	}

	page := etl.Page{Raw: envelope, Items: items}
	if next != "" {
		nextURL, err := u.Parse(next)
		if err != nil {
			return etl.Page{}, fmt.Errorf("failed to parse next link %q: %w", next, err)
		}
		page.Next = func(ctx context.Context) (etl.Page, error) {
			return c.listURL(ctx, nextURL)
		}
	}
	return page, nil
}

// FetchPage fetches page number n of the listing filtered by q, ignoring
// any next link. An empty result means the listing is exhausted.
func (c *Client) FetchPage(ctx context.Context, q etl.Query, n int) ([]etl.Payload, error) {
	u := c.collectionURL(q)
	values := u.Query()
	values.Set(c.opts.PageParam, strconv.Itoa(n))
	u.RawQuery = values.Encode()

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	items, _, _, err := c.decodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	return items, nil
}

// Create posts p to the collection.
func (c *Client) Create(ctx context.Context, p etl.Payload) (etl.Payload, error) {
	return c.send(ctx, http.MethodPost, c.collectionURL(nil), p)
}

// Retrieve gets one record by id.
func (c *Client) Retrieve(ctx context.Context, id any) (etl.Payload, error) {
	return c.send(ctx, http.MethodGet, c.itemURL(id), nil)
}

// Update patches the record with the fields in p.
func (c *Client) Update(ctx context.Context, id any, p etl.Payload) (etl.Payload, error) {
	return c.send(ctx, http.MethodPatch, c.itemURL(id), p)
}

// Delete removes one record by id.
func (c *Client) Delete(ctx context.Context, id any) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemURL(id), nil)
	return err
}

func (c *Client) send(ctx context.Context, method string, u *url.URL, p etl.Payload) (etl.Payload, error) {
	var payload []byte
	if p != nil {
		var err error
		payload, err = json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	body, err := c.do(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	var out etl.Payload
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, u, ErrDecode, err)
	}
	return out, nil
}

func (c *Client) collectionURL(q etl.Query) *url.URL {
	u := *c.base
	if len(q) > 0 {
		values := u.Query()
		for k, v := range q {
			values.Set(k, formatParam(v))
		}
		u.RawQuery = values.Encode()
	}
	return &u
}

func (c *Client) itemURL(id any) *url.URL {
	u := *c.base
	u.RawQuery = ""
	trailing := strings.HasSuffix(u.Path, "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(formatParam(id))
	if trailing {
		u.Path += "/"
	}
	u.RawPath = ""
	return &u
}

func formatParam(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// do runs one request with the retry policy and returns the response body
// of the first 2xx answer.
func (c *Client) do(ctx context.Context, method string, u *url.URL, payload []byte) ([]byte, error) {
	policy := c.opts.Retry
	attempts := 1
	if policy.retriesMethod(method) && policy.Attempts > 1 {
		attempts = policy.Attempts
	}
	backoff := policy.newBackoff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Printf("Retrying %s %s (attempt %d/%d): %v", method, u, attempt, attempts, lastErr)
			if err := backoff(ctx); err != nil {
				return nil, err
			}
		}

		body, err := c.roundTrip(ctx, method, u, payload)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, ErrTransient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, method string, u *url.URL, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransient, method, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{
			Method:     method,
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			transient:  c.opts.Retry.retriesStatus(resp.StatusCode),
		}
		c.logger.Printf("Request failed: %v", serr)
		return nil, serr
	}
	return body, nil
}

// decodeListing accepts a bare array or an envelope object.
func (c *Client) decodeListing(body []byte) (items []etl.Payload, envelope etl.Payload, next string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return items, nil, "", nil
	}

	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rawItems, ok := envelope[c.opts.ResultsKey]
	if !ok {
		return nil, nil, "", fmt.Errorf("%w: no %q key in listing", ErrDecode, c.opts.ResultsKey)
	}
	list, ok := rawItems.([]any)
	if !ok && rawItems != nil {
		return nil, nil, "", fmt.Errorf("%w: %q is not a list", ErrDecode, c.opts.ResultsKey)
	}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, "", fmt.Errorf("%w: item %d is not an object", ErrDecode, i)
		}
		items = append(items, etl.Payload(obj))
	}
	if s, ok := envelope[c.opts.NextKey].(string); ok {
		next = s
	}
	return items, envelope, next, nil
}
