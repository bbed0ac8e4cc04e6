package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/any-hub/shellcache/internal/cache"
)

// ErrBadStatus 表示批量抓取时源站返回了非 2xx 响应。
var ErrBadStatus = errors.New("upstream returned non-success status")

// Options 控制单次抓取。
type Options struct {
	// Reload 绕过中间 HTTP 缓存，强制源站重新验证。
	Reload bool
	Header http.Header
}

// Fetcher 把源站请求结果读成可缓存的完整响应。
type Fetcher struct {
	client *http.Client
}

// NewFetcher 使用共享 client 构造 Fetcher。
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch 发起 GET 并读取完整正文。网络失败返回 error；
// 非 2xx 响应照常返回，由调用方决定是否缓存。
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	CopyHeaders(req.Header, opts.Header)
	req.Header.Del("Accept-Encoding")
	if opts.Reload {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

// FetchOK 与 Fetch 相同，但把非 2xx 响应视为失败，用于全有或全无的批量写入。
func (f *Fetcher) FetchOK(ctx context.Context, url string, opts Options) (*cache.Response, error) {
	resp, err := f.Fetch(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %d", ErrBadStatus, url, resp.StatusCode)
	}
	return resp, nil
}

// Do 原样转发请求，供不受缓存管理的请求直通源站。
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	return f.client.Do(req)
}
