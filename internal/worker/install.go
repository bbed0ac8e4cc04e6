package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/manifest"
)

// Install 把 Core 资源以绕过缓存的方式抓取进 temp 容器。
// 任一抓取失败则整体失败，temp 不写入任何条目，版本标记为 redundant。
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.install(ctx)
}

func (w *Worker) install(ctx context.Context) error {
	w.mu.Lock()
	m := w.pending
	if m == nil {
		// 没有新版本时重新安装当前激活的清单。
		m = w.active
		w.pending = m
	}
	w.state = StateInstalling
	// 安装即请求 skipWaiting，无需等待旧页面关闭。
	w.skipWaiting = true
	w.mu.Unlock()

	err := w.stageCore(ctx, m)
	w.metrics.ObserveLifecycle("install", err)
	w.recordError(err)
	if err != nil {
		w.setState(StateRedundant)
		w.lifecycleLog("install", len(m.Core)).WithError(err).Warn("install_failed")
		return fmt.Errorf("install: %w", err)
	}
	w.setState(StateInstalled)
	w.lifecycleLog("install", len(m.Core)).Info("install_complete")
	return nil
}

func (w *Worker) stageCore(ctx context.Context, m *manifest.Manifest) error {
	temp, err := w.storage.Open(ctx, cache.TempContainer)
	if err != nil {
		return err
	}
	urls := make([]string, len(m.Core))
	for i, key := range m.Core {
		urls[i] = manifest.URLFor(w.origin, key)
	}
	responses, err := w.fetchAll(ctx, urls, fetch.Options{Reload: true})
	if err != nil {
		return err
	}
	for i, url := range urls {
		if err := temp.Put(ctx, url, responses[i]); err != nil {
			return fmt.Errorf("stage %s: %w", url, err)
		}
	}
	return nil
}

// fetchAll 并发抓取全部 URL，全部成功后才返回结果，任一失败即取消其余请求。
func (w *Worker) fetchAll(ctx context.Context, urls []string, opts fetch.Options) ([]*cache.Response, error) {
	responses := make([]*cache.Response, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			resp, err := w.fetcher.FetchOK(gctx, url, opts)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}
