package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
)

// Activate 把 install 暂存的壳资源迁入 content，并按新旧清单差异淘汰过期条目。
// 过程中任何错误都会删除 temp、content 与 manifest-record 三个容器，
// 版本依旧进入 activated，返回值携带原始错误供调用方记录。
func (w *Worker) Activate(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.activate(ctx)
}

func (w *Worker) activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateInstalled {
		w.mu.Unlock()
		return ErrNotInstalled
	}
	if !w.skipWaiting {
		w.mu.Unlock()
		return ErrWaiting
	}
	m := w.pending
	w.state = StateActivating
	w.mu.Unlock()

	evicted, err := w.migrate(ctx, m)
	if err != nil {
		w.lifecycleLog("activate", m.Len()).WithError(err).Error("activate_failed")
		if resetErr := w.reset(context.WithoutCancel(ctx)); resetErr != nil {
			err = errors.Join(err, fmt.Errorf("reset: %w", resetErr))
		}
		err = fmt.Errorf("activate: %w", err)
	}
	w.metrics.ObserveLifecycle("activate", err)
	w.metrics.AddEvictions(evicted)
	w.recordError(err)

	w.mu.Lock()
	w.active = m
	w.pending = nil
	w.state = StateActivated
	w.lastActivated = time.Now().UTC()
	w.mu.Unlock()

	if err == nil {
		w.lifecycleLog("activate", m.Len()).WithField("evicted", evicted).Info("activate_complete")
	}
	return err
}

// migrate 执行一次完整的 temp → content 迁移，返回被淘汰的条目数。
func (w *Worker) migrate(ctx context.Context, m *manifest.Manifest) (int, error) {
	content, err := w.storage.Open(ctx, cache.ContentContainer)
	if err != nil {
		return 0, err
	}
	temp, err := w.storage.Open(ctx, cache.TempContainer)
	if err != nil {
		return 0, err
	}
	record, err := w.storage.Open(ctx, cache.ManifestContainer)
	if err != nil {
		return 0, err
	}

	evicted := 0
	persisted, err := record.Get(ctx, ManifestRecordKey)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		// 首次安装：清空 content 后整体接收 temp。
		if _, err := w.storage.Delete(ctx, cache.ContentContainer); err != nil {
			return 0, err
		}
		if content, err = w.storage.Open(ctx, cache.ContentContainer); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		previous, err := manifest.DecodeResources(persisted.Body)
		if err != nil {
			return 0, err
		}
		if evicted, err = w.evictStale(ctx, content, m.Resources, previous); err != nil {
			return evicted, err
		}
	}

	if _, err := cache.CopyAll(ctx, content, temp); err != nil {
		return evicted, err
	}
	if _, err := w.storage.Delete(ctx, cache.TempContainer); err != nil {
		return evicted, err
	}
	if err := w.persistManifest(ctx, record, m); err != nil {
		return evicted, err
	}

	if keys, err := content.Keys(ctx); err == nil {
		w.metrics.SetContentSize(len(keys))
	}
	return evicted, nil
}

// evictStale 删除 content 中不在当前清单、或指纹与上次持久化清单不同的条目。
// 未变更的条目原样保留，不会重新下载。
func (w *Worker) evictStale(ctx context.Context, content cache.Container, current, previous manifest.Resources) (int, error) {
	urls, err := content.Keys(ctx)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, url := range urls {
		key, ok := manifest.ResolveKey(w.origin, url)
		if ok && !manifest.Stale(current, previous, key) {
			continue
		}
		if _, err := content.Delete(ctx, url); err != nil {
			return evicted, fmt.Errorf("evict %s: %w", url, err)
		}
		evicted++
	}
	return evicted, nil
}

func (w *Worker) persistManifest(ctx context.Context, record cache.Container, m *manifest.Manifest) error {
	body, err := m.Resources.Encode()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return record.Put(ctx, ManifestRecordKey, &cache.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       body,
	})
}

// reset 删除全部三个容器，回到等同首次安装前的空缓存状态。
func (w *Worker) reset(ctx context.Context) error {
	var errs []error
	for _, name := range []string{cache.ContentContainer, cache.TempContainer, cache.ManifestContainer} {
		if _, err := w.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	w.metrics.SetContentSize(0)
	return errors.Join(errs...)
}
