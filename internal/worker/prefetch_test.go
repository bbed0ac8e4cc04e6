package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/any-hub/shellcache/internal/cache"
)

func TestDownloadOfflineFetchesMissingOnly(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	fetcher := newStubFetcher()
	w := newTestWorker(t, storage, fetcher, testManifest(t, baseResources()))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}
	before := fetcher.total()

	n, err := w.DownloadOffline(ctx)
	if err != nil {
		t.Fatalf("download offline error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 prefetched resources, got %d", n)
	}
	if fetcher.total()-before != 2 {
		t.Fatalf("core resources should not be refetched")
	}
	if keys := containerKeys(t, storage, cache.ContentContainer); len(keys) != 5 {
		t.Fatalf("expected 5 entries, got %v", keys)
	}

	n, err = w.DownloadOffline(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second download should be a no-op, got %d %v", n, err)
	}
}

func TestDownloadOfflineBatchFailure(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	fetcher := newStubFetcher()
	w := newTestWorker(t, storage, fetcher, testManifest(t, baseResources()))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}
	fetcher.fail("assets/font.ttf")

	if _, err := w.DownloadOffline(ctx); err == nil {
		t.Fatalf("expected batch failure")
	}
	if _, ok := contentBody(t, storage, "assets/logo.png"); ok {
		t.Fatalf("failed batch must not store partial results")
	}
	if keys := containerKeys(t, storage, cache.ContentContainer); len(keys) != 3 {
		t.Fatalf("content should hold only core entries, got %v", keys)
	}
}

func TestDownloadOfflineRequiresActiveVersion(t *testing.T) {
	w := newTestWorker(t, cache.NewMemoryStorage(), newStubFetcher(), testManifest(t, baseResources()))
	if _, err := w.DownloadOffline(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestMissingKeysIgnoresForeignEntries(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, newStubFetcher(), testManifest(t, baseResources()))
	putContent(t, storage, "https://other.example.com/main.dart.js", "foreign")
	putContent(t, storage, testOrigin+"/main.dart.js?v=123", "versioned")

	content, err := storage.Open(ctx, cache.ContentContainer)
	if err != nil {
		t.Fatalf("open content: %v", err)
	}
	m := w.current()
	missing, err := w.MissingKeys(ctx, content, m)
	if err != nil {
		t.Fatalf("missing keys error: %v", err)
	}
	want := []string{"/", "assets/font.ttf", "assets/logo.png", "index.html"}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, missing)
		}
	}
}
