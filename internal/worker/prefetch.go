package worker

import (
	"context"
	"fmt"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/manifest"
)

// DownloadOffline 抓取清单中 content 尚未缓存的全部资源并写入 content。
// 任一资源失败则整批失败，不写入任何条目；返回写入的资源数。
func (w *Worker) DownloadOffline(ctx context.Context) (int, error) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	m, ok := w.ActiveManifest()
	if !ok {
		return 0, ErrNotActive
	}

	stored, err := w.prefetchMissing(ctx, m)
	w.metrics.ObserveLifecycle("download_offline", err)
	if err != nil {
		w.lifecycleLog("download_offline", stored).WithError(err).Warn("download_offline_failed")
		return 0, fmt.Errorf("download offline: %w", err)
	}
	w.metrics.AddPrefetched(stored)
	w.lifecycleLog("download_offline", stored).Info("download_offline_complete")
	return stored, nil
}

func (w *Worker) prefetchMissing(ctx context.Context, m *manifest.Manifest) (int, error) {
	content, err := w.storage.Open(ctx, cache.ContentContainer)
	if err != nil {
		return 0, err
	}
	missing, err := w.MissingKeys(ctx, content, m)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}

	urls := make([]string, len(missing))
	for i, key := range missing {
		urls[i] = manifest.URLFor(w.origin, key)
	}
	responses, err := w.fetchAll(ctx, urls, fetch.Options{})
	if err != nil {
		return 0, err
	}
	for i, url := range urls {
		if err := content.Put(ctx, url, responses[i]); err != nil {
			return i, fmt.Errorf("store %s: %w", url, err)
		}
	}
	return len(urls), nil
}

// MissingKeys 返回清单中 content 尚未缓存的键（按字典序）。
func (w *Worker) MissingKeys(ctx context.Context, content cache.Container, m *manifest.Manifest) ([]string, error) {
	urls, err := content.Keys(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if key, ok := manifest.ResolveKey(w.origin, url); ok {
			present[key] = struct{}{}
		}
	}
	var missing []string
	for _, key := range m.Keys() {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing, nil
}
