package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(cfg Config) *Client {
	cfg.URLValidator = AllowAll
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return New(cfg)
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := testClient(Config{})
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("body: got %q", body)
	}
}

func TestGet_UserAgent(t *testing.T) {
	// WHAT: Every request carries the configured User-Agent.
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := testClient(Config{UserAgent: "recolte-test/9.9"})
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got != "recolte-test/9.9" {
		t.Errorf("user-agent: got %q", got)
	}
}

func TestGet_RetriesTransientStatus(t *testing.T) {
	// WHAT: 503 is retried and a later success is returned.
	// WHY: The origin applies intermittent load shedding.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(Config{})
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestGet_NoRetryOn404(t *testing.T) {
	// WHAT: Non-retryable 4xx fails immediately with a StatusError.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(Config{})
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Errorf("error: got %v, want StatusError 404", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestGet_RetriesExhausted(t *testing.T) {
	// WHAT: MaxRetries bounds the retries after the initial attempt, so the
	// origin sees MaxRetries+1 requests before the last error is surfaced.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(Config{MaxRetries: 3})
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 502 {
		t.Errorf("error: got %v, want wrapped StatusError 502", err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls: got %d, want 4", calls.Load())
	}
}

func TestHead_BodyClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method: got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	c := testClient(Config{})
	resp, err := c.Head(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content-type: got %q", ct)
	}
}

func TestValidateURL_Schemes(t *testing.T) {
	if err := ValidateURL("ftp://example.com/x"); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("ftp: got %v", err)
	}
	if err := ValidateURL("https://127.0.0.1/x"); !errors.Is(err, ErrUnsafeURL) {
		t.Errorf("loopback: got %v", err)
	}
}
