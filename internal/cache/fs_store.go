package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	metaSuffix = ".meta"
	bodySuffix = ".body"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 磁盘布局：
//
//	<StoragePath>/<container>/<sha1(url)>.meta    # URL、状态码、头部
//	<StoragePath>/<container>/<sha1(url)>.body    # 正文
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type entryMeta struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	StoredAt   time.Time   `json:"stored_at"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Container, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.containerDir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create container %s: %w", name, err)
	}
	return &fileContainer{storage: s, name: name}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	info, err := os.Stat(s.containerDir(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := s.Has(ctx, name)
	if err != nil || !existed {
		return false, err
	}
	// 先改名再删除，避免并发读取看到半删除的目录。
	dir := s.containerDir(name)
	trash := filepath.Join(s.basePath, fmt.Sprintf(".trash-%s-%d", name, time.Now().UnixNano()))
	if err := os.Rename(dir, trash); err != nil {
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStorage) Names(ctx context.Context) ([]string, error) {
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, item := range items {
		if item.IsDir() && validateName(item.Name()) == nil {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Close() error {
	return nil
}

func (s *fileStorage) containerDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

type fileContainer struct {
	storage *fileStorage
	name    string
}

func (c *fileContainer) Name() string {
	return c.name
}

func (c *fileContainer) Get(ctx context.Context, url string) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// 与 Put 共用条目锁，避免读到新正文配旧元数据。
	unlock := c.storage.lockEntry(c.lockKey(url))
	defer unlock()

	metaPath, bodyPath := c.entryPaths(url)
	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Response{
		StatusCode: meta.StatusCode,
		Header:     meta.Header,
		Body:       body,
		StoredAt:   meta.StoredAt,
	}, nil
}

func (c *fileContainer) Put(ctx context.Context, url string, resp *Response) error {
	stored, err := stampedCopy(resp)
	if err != nil {
		return err
	}
	unlock := c.storage.lockEntry(c.lockKey(url))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	dir := c.storage.containerDir(c.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	metaPath, bodyPath := c.entryPaths(url)
	if err := writeAtomic(dir, bodyPath, stored.Body); err != nil {
		return err
	}
	meta, err := json.Marshal(entryMeta{
		URL:        url,
		StatusCode: stored.StatusCode,
		Header:     stored.Header,
		StoredAt:   stored.StoredAt,
	})
	if err != nil {
		return err
	}
	return writeAtomic(dir, metaPath, meta)
}

func (c *fileContainer) Delete(ctx context.Context, url string) (bool, error) {
	unlock := c.storage.lockEntry(c.lockKey(url))
	defer unlock()

	metaPath, bodyPath := c.entryPaths(url)
	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, err
	}
	return true, nil
}

func (c *fileContainer) Keys(ctx context.Context) ([]string, error) {
	items, err := os.ReadDir(c.storage.containerDir(c.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var urls []string
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.IsDir() || !strings.HasSuffix(item.Name(), metaSuffix) {
			continue
		}
		meta, err := readMeta(filepath.Join(c.storage.containerDir(c.name), item.Name()))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		urls = append(urls, meta.URL)
	}
	sort.Strings(urls)
	return urls, nil
}

func (c *fileContainer) entryPaths(url string) (string, string) {
	sum := sha1.Sum([]byte(url))
	base := filepath.Join(c.storage.containerDir(c.name), hex.EncodeToString(sum[:]))
	return base + metaSuffix, base + bodySuffix
}

func (c *fileContainer) lockKey(url string) string {
	return c.name + "::" + url
}

func readMeta(path string) (*entryMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode cache meta %s: %w", filepath.Base(path), err)
	}
	return &meta, nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(dir, target string, data []byte) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
