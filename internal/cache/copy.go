package cache

import (
	"context"
	"errors"
	"fmt"
)

// CopyAll 将 src 的全部条目复制到 dst，覆盖 dst 中的同名条目，返回复制数量。
// 源容器保持不变，删除由调用方负责（先复制再删源）。
func CopyAll(ctx context.Context, dst, src Container) (int, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", src.Name(), err)
	}
	copied := 0
	for _, url := range keys {
		resp, err := src.Get(ctx, url)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return copied, fmt.Errorf("read %s from %s: %w", url, src.Name(), err)
		}
		if err := dst.Put(ctx, url, resp); err != nil {
			return copied, fmt.Errorf("write %s to %s: %w", url, dst.Name(), err)
		}
		copied++
	}
	return copied, nil
}

// NewStorage 按后端名称构建 Storage：fs、sqlite 或 memory。
func NewStorage(backend, basePath string) (Storage, error) {
	switch backend {
	case "", "fs":
		return NewFileStorage(basePath)
	case "sqlite":
		return NewSQLiteStorage(basePath)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}
