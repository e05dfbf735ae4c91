package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kaoslabsinc/remote-resources/internal/etl"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = srv.URL + "/users/"
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
		opts.Retry.Backoff = time.Millisecond
	}
	opts.Logger = log.New(io.Discard, "", 0)
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestListPage_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("team"); got != "ops" {
			t.Errorf("team filter = %q, want ops", got)
		}
		switch r.URL.Query().Get("page") {
		case "":
			writeJSON(t, w, map[string]any{
				"results": []any{map[string]any{"id": 1}, map[string]any{"id": 2}},
				"next":    "/users/?team=ops&page=2",
			})
		case "2":
			writeJSON(t, w, map[string]any{
				"results": []any{map[string]any{"id": 3}},
				"next":    nil,
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	page, err := c.ListPage(context.Background(), etl.Query{"team": "ops"})
	if err != nil {
		t.Fatalf("ListPage() failed: %v", err)
	}
	if len(page.Items) != 2 || page.Next == nil {
		t.Fatalf("first page: %d items, next=%v", len(page.Items), page.Next != nil)
	}
	if page.Raw == nil {
		t.Error("envelope should be kept as the raw page")
	}

	page, err = page.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if len(page.Items) != 1 || page.Next != nil {
		t.Fatalf("second page: %d items, next=%v", len(page.Items), page.Next != nil)
	}
	if page.Items[0]["id"] != 3.0 {
		t.Errorf("id = %v, want 3", page.Items[0]["id"])
	}
}

func TestListPage_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []any{map[string]any{"id": "a"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	page, err := c.ListPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListPage() failed: %v", err)
	}
	if diff := cmp.Diff([]etl.Payload{{"id": "a"}}, page.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if page.Next != nil {
		t.Error("bare array listing has no next page")
	}
}

func TestListPage_CustomKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"data": []any{map[string]any{"id": 1}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{ResultsKey: "data", NextKey: "next_url"})
	page, err := c.ListPage(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListPage() failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("got %d items, want 1", len(page.Items))
	}

	c = newTestClient(t, srv, Options{})
	if _, err := c.ListPage(context.Background(), nil); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for a missing results key, got %v", err)
	}
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var items []any
		if r.URL.Query().Get("p") == "1" {
			items = []any{map[string]any{"id": 1}}
		}
		writeJSON(t, w, map[string]any{"results": items})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{PageParam: "p"})
	items, err := c.FetchPage(context.Background(), nil, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("FetchPage(1) = %v, %v", items, err)
	}
	items, err = c.FetchPage(context.Background(), nil, 2)
	if err != nil || len(items) != 0 {
		t.Fatalf("FetchPage(2) = %v, %v", items, err)
	}
}

func TestCRUD(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.Method {
		case http.MethodPost, http.MethodPatch:
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			body["id"] = 9
			writeJSON(t, w, body)
		case http.MethodGet:
			writeJSON(t, w, map[string]any{"id": 9, "email": "a@x"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newTestClient(t, srv, Options{Token: "secret"})

	created, err := c.Create(ctx, etl.Payload{"email": "a@x"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if created["id"] != 9.0 || created["email"] != "a@x" {
		t.Errorf("Create() = %v", created)
	}
	if _, err := c.Retrieve(ctx, created["id"]); err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	updated, err := c.Update(ctx, 9.0, etl.Payload{"name": "B"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if updated["name"] != "B" {
		t.Errorf("Update() = %v", updated)
	}
	if err := c.Delete(ctx, "9"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	want := []string{"POST /users/", "GET /users/9/", "PATCH /users/9/", "DELETE /users/9/"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestRetry_RecoversOnGet(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"id": 1})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	if _, err := c.Retrieve(context.Background(), 1); err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestRetry_Exhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.Retrieve(context.Background(), 1)
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrTransient) {
		t.Fatalf("expected exhausted transient error, got %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected wrapped 429 StatusError, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestRetry_NotForPost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.Create(context.Background(), etl.Payload{"a": 1})
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("a single attempt must not report exhausted retries")
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestStatusError_Fatal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	_, err := c.Retrieve(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrFatal) {
		t.Errorf("expected fatal not-found error, got %v", err)
	}
	if errors.Is(err, ErrTransient) {
		t.Error("404 must not be transient")
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	policy := DefaultRetryPolicy()
	policy.Backoff = time.Hour
	c := newTestClient(t, srv, Options{Retry: policy})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Retrieve(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Millisecond, 2)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b(context.Background()); err != nil {
			t.Fatalf("backoff failed: %v", err)
		}
	}
	// 1ms + 2ms + 4ms
	if elapsed := time.Since(start); elapsed < 7*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 7ms", elapsed)
	}
}

func TestHTTP2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"proto": fmt.Sprintf("HTTP/%d", r.ProtoMajor)})
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	c := newTestClient(t, srv, Options{HTTP2: true, TLSConfig: &tls.Config{RootCAs: pool}})

	got, err := c.Retrieve(context.Background(), 1)
	if err != nil {
		t.Fatalf("Retrieve() failed: %v", err)
	}
	if got["proto"] != "HTTP/2" {
		t.Errorf("proto = %v, want HTTP/2", got["proto"])
	}
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "/users/"}); err == nil {
		t.Error("expected error for relative base URL")
	}
}
