package worker

import (
	"context"
	"testing"

	"github.com/any-hub/shellcache/internal/cache"
)

func TestHandleMessageSkipWaitingActivates(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, cache.NewMemoryStorage(), newStubFetcher(), testManifest(t, baseResources()))
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if w.State() != StateInstalled {
		t.Fatalf("expected installed, got %s", w.State())
	}

	result, err := w.HandleMessage(ctx, MessageSkipWaiting)
	if err != nil {
		t.Fatalf("skipWaiting error: %v", err)
	}
	if !result.Handled || !result.Activated {
		t.Fatalf("expected activation, got %+v", result)
	}
	if w.State() != StateActivated {
		t.Fatalf("expected activated, got %s", w.State())
	}

	// 已激活时再次 skipWaiting 不产生副作用。
	result, err = w.HandleMessage(ctx, MessageSkipWaiting)
	if err != nil || result.Activated {
		t.Fatalf("repeated skipWaiting should be a no-op, got %+v %v", result, err)
	}
}

func TestHandleMessageDownloadOffline(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, cache.NewMemoryStorage(), newStubFetcher(), testManifest(t, baseResources()))
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}

	result, err := w.HandleMessage(ctx, MessageDownloadOffline)
	if err != nil {
		t.Fatalf("downloadOffline error: %v", err)
	}
	if !result.Handled || result.Downloaded != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandleMessageIgnoresUnknown(t *testing.T) {
	w := newTestWorker(t, cache.NewMemoryStorage(), newStubFetcher(), testManifest(t, baseResources()))
	result, err := w.HandleMessage(context.Background(), "reload")
	if err != nil {
		t.Fatalf("unknown message should not error: %v", err)
	}
	if result.Handled {
		t.Fatalf("unknown message should not be handled")
	}
	if w.State() != StateParsed {
		t.Fatalf("state should not change, got %s", w.State())
	}
}

func TestHandleMessageRequiresExactLiteral(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(t, cache.NewMemoryStorage(), newStubFetcher(), testManifest(t, baseResources()))
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}

	for _, msg := range []string{" skipWaiting ", "skipwaiting", `{"message":"skipWaiting"}`} {
		result, err := w.HandleMessage(ctx, msg)
		if err != nil {
			t.Fatalf("variant %q should not error: %v", msg, err)
		}
		if result.Handled {
			t.Fatalf("variant %q must be ignored", msg)
		}
	}
	if w.State() != StateInstalled {
		t.Fatalf("ignored messages must not activate, got %s", w.State())
	}
}
