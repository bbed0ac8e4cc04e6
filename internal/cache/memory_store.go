package cache

import (
	"context"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryStorage 返回进程内存储，进程退出即丢失，适合临时运行与测试。
func NewMemoryStorage() Storage {
	return &memoryStorage{buckets: make(map[string]*gocache.Cache)}
}

type memoryStorage struct {
	mu      sync.Mutex
	buckets map[string]*gocache.Cache
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Container, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.bucket(name, true)
	return &memoryContainer{storage: s, name: name}, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	return s.bucket(name, false) != nil, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	delete(s.buckets, name)
	return ok, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

func (s *memoryStorage) bucket(name string, create bool) *gocache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buckets[name]
	if b == nil && create {
		b = gocache.New(gocache.NoExpiration, 0)
		s.buckets[name] = b
	}
	return b
}

type memoryContainer struct {
	storage *memoryStorage
	name    string
}

func (c *memoryContainer) Name() string {
	return c.name
}

func (c *memoryContainer) Get(ctx context.Context, url string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := c.storage.bucket(c.name, false)
	if b == nil {
		return nil, ErrNotFound
	}
	value, ok := b.Get(url)
	if !ok {
		return nil, ErrNotFound
	}
	return value.(*Response).Clone(), nil
}

func (c *memoryContainer) Put(ctx context.Context, url string, resp *Response) error {
	stored, err := stampedCopy(resp)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.storage.bucket(c.name, true).Set(url, stored, gocache.NoExpiration)
	return nil
}

func (c *memoryContainer) Delete(ctx context.Context, url string) (bool, error) {
	b := c.storage.bucket(c.name, false)
	if b == nil {
		return false, nil
	}
	if _, ok := b.Get(url); !ok {
		return false, nil
	}
	b.Delete(url)
	return true, nil
}

func (c *memoryContainer) Keys(ctx context.Context) ([]string, error) {
	b := c.storage.bucket(c.name, false)
	if b == nil {
		return nil, nil
	}
	items := b.Items()
	urls := make([]string, 0, len(items))
	for url := range items {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}
