package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// 升级流程使用的三个容器名称。
const (
	TempContainer     = "temp"
	ContentContainer  = "content"
	ManifestContainer = "manifest-record"
)

// Storage 管理按名称寻址的持久化容器，进程内共享一份实例。
type Storage interface {
	// Open 打开容器，不存在时创建。
	Open(ctx context.Context, name string) (Container, error)

	// Has 报告容器是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个容器及其全部条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 返回当前存在的容器名称。
	Names(ctx context.Context) ([]string, error)

	Close() error
}

// Container 是 请求 URL → 响应 的持久化映射。句柄与名称绑定：
// 容器被 Storage.Delete 删除后，通过旧句柄写入会重新创建该容器。
type Container interface {
	Name() string

	// Get 返回缓存响应的副本。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, url string) (*Response, error)

	// Put 保存 resp 的副本，已存在时覆盖。
	Put(ctx context.Context, url string, resp *Response) error

	// Delete 删除条目，条目不存在时返回 false。
	Delete(ctx context.Context, url string) (bool, error)

	// Keys 返回全部条目的请求 URL。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是一次完整缓存的 HTTP 响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Clone 深拷贝响应，确保容器之间不共享底层数据。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
		StoredAt:   r.StoredAt,
	}
}

// Reader 返回正文的只读视图。
func (r *Response) Reader() io.Reader {
	return bytes.NewReader(r.Body)
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

var containerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func validateName(name string) error {
	if !containerNamePattern.MatchString(name) {
		return fmt.Errorf("invalid container name %q", name)
	}
	return nil
}

func stampedCopy(resp *Response) (*Response, error) {
	if resp == nil {
		return nil, errors.New("response required")
	}
	stored := resp.Clone()
	if stored.Header == nil {
		stored.Header = http.Header{}
	}
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	return stored, nil
}
