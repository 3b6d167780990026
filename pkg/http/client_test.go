package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHttpClient_Retry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
	_, err := client.Get(context.Background(), "/", nil)
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestHttpClient_CircuitBreaker(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})

	// We need to trigger the breaker.
	// Policy is 5 failures out of 10.
	// We'll do 6 requests.
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	// The 7th request should fail immediately due to open circuit breaker
	// without reaching the server.
	startAttempts := attempts
	_, err := client.Get(context.Background(), "/", nil)
	if err == nil {
		t.Error("Expected error due to open circuit breaker, got nil")
	}

	if attempts != startAttempts {
		t.Errorf("Server was reached even though circuit should be open. Attempts: %d", attempts)
	}
}

func TestHttpClient_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pool_id":"abc","liquidity_usd":125000.5}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})

	var out struct {
		PoolID       string  `json:"pool_id"`
		LiquidityUSD float64 `json:"liquidity_usd"`
	}
	if err := client.GetJSON(context.Background(), "/pools/abc", nil, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.PoolID != "abc" || out.LiquidityUSD != 125000.5 {
		t.Errorf("unexpected decode result: %+v", out)
	}
}

func TestHttpClient_RateLimiterDelaysRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// 10 rps: the second request should wait roughly 100ms for a token.
	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second, MaxRequestsPerSec: 10})

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/", nil); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected rate limiter to delay second request, elapsed=%v", elapsed)
	}
}
