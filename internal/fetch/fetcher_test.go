package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchReloadSetsNoCacheHeaders(t *testing.T) {
	var seen http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("main"))
	}))
	defer origin.Close()

	f := NewFetcher(origin.Client())
	resp, err := f.Fetch(context.Background(), origin.URL+"/main.dart.js", Options{Reload: true})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if string(resp.Body) != "main" {
		t.Fatalf("unexpected body %s", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/javascript" {
		t.Fatalf("content type should be preserved")
	}
	if seen.Get("Cache-Control") != "no-cache" || seen.Get("Pragma") != "no-cache" {
		t.Fatalf("reload fetch should bypass caches, got %v", seen)
	}
}

func TestFetchReturnsNonSuccessResponses(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	defer origin.Close()

	f := NewFetcher(origin.Client())
	resp, err := f.Fetch(context.Background(), origin.URL+"/gone.js", Options{})
	if err != nil {
		t.Fatalf("404 is not a network failure: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	if _, err := f.FetchOK(context.Background(), origin.URL+"/gone.js", Options{}); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("FetchOK should reject 404, got %v", err)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	url := origin.URL
	origin.Close()

	f := NewFetcher(&http.Client{})
	if _, err := f.Fetch(context.Background(), url+"/", Options{}); err == nil {
		t.Fatalf("closed origin should fail")
	}
}
