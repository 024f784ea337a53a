package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newProviderServer(t *testing.T, tokenFailures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		if tokenCalls.Add(1) <= tokenFailures {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"g-1","email":"pat@example.com","name":"Pat","picture":"https://img/p.png"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestEndpointClient(t *testing.T, base string) *EndpointClient {
	t.Helper()

	c, err := NewEndpointClient(EndpointConfig{
		TokenURL:    base + "/token",
		ProfileURL:  base + "/userinfo",
		ClientID:    "client-1",
		RedirectURL: "https://app.example.com/callback",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
	}, DecodeOIDCProfile)
	if err != nil {
		t.Fatalf("NewEndpointClient failed: %v", err)
	}
	return c
}

func TestExchangeCodeRoundTrip(t *testing.T) {
	srv, _ := newProviderServer(t, 0)
	c := newTestEndpointClient(t, srv.URL)

	profile, err := c.ExchangeCode(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if profile.ProviderID != "g-1" || profile.Email != "pat@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestExchangeCodeRetriesServerErrors(t *testing.T) {
	srv, tokenCalls := newProviderServer(t, 2)
	c := newTestEndpointClient(t, srv.URL)

	if _, err := c.ExchangeCode(context.Background(), "good-code"); err != nil {
		t.Fatalf("ExchangeCode failed after retries: %v", err)
	}
	if got := tokenCalls.Load(); got != 3 {
		t.Fatalf("token endpoint called %d times, want 3", got)
	}
}

func TestExchangeCodeDoesNotRetryRejection(t *testing.T) {
	srv, tokenCalls := newProviderServer(t, 0)
	c := newTestEndpointClient(t, srv.URL)

	if _, err := c.ExchangeCode(context.Background(), "bad-code"); err == nil {
		t.Fatal("rejected code succeeded")
	}
	if got := tokenCalls.Load(); got != 0 {
		t.Fatalf("token endpoint counted %d successes for a rejected code", got)
	}
}
