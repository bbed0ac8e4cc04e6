package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/metrics"
	"github.com/any-hub/shellcache/internal/server"
)

// 路由策略名称，同时用作日志字段与指标标签。
const (
	PolicyOnlineFirst = "online_first"
	PolicyCacheFirst  = "cache_first"
	PolicyPassThrough = "pass_through"
)

// Worker 是路由读取的生命周期状态。
type Worker interface {
	Origin() string
	ActiveManifest() (*manifest.Manifest, bool)
	Storage() cache.Storage
}

// Upstream 访问源站：Fetch 读取完整响应供缓存，Do 用于直通转发。
type Upstream interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*cache.Response, error)
	Do(req *http.Request) (*http.Response, error)
}

// Handler 按清单为每个请求选择 online-first、cache-first 或直通策略，
// 对外暴露 Fiber handler。
type Handler struct {
	worker   Worker
	upstream Upstream
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// NewHandler constructs the request router.
func NewHandler(worker Worker, upstream Upstream, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		worker:   worker,
		upstream: upstream,
		logger:   logger,
		metrics:  m,
	}
}

// managedRequest 记录一次受管请求的解析结果。
type managedRequest struct {
	key       string
	rawURL    string
	cacheURL  string
	requestID string
	started   time.Time
	ctx       context.Context
}

// Handle 只接管 GET 且键在已激活清单中的请求：根路径走 online-first，
// 其余走 cache-first；其他请求原样转发给源站。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	origin := strings.TrimRight(h.worker.Origin(), "/")
	rawURL := requestURL(origin, c)

	if c.Method() != http.MethodGet {
		return h.passThrough(c, rawURL, requestID, started)
	}
	m, ok := h.worker.ActiveManifest()
	if !ok {
		return h.passThrough(c, rawURL, requestID, started)
	}
	key, ok := manifest.ResolveKey(origin, rawURL)
	if !ok || !m.Has(key) {
		return h.passThrough(c, rawURL, requestID, started)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req := managedRequest{
		key:       key,
		rawURL:    rawURL,
		cacheURL:  manifest.URLFor(origin, key),
		requestID: requestID,
		started:   started,
		ctx:       ctx,
	}
	if key == manifest.RootKey {
		return h.onlineFirst(c, req)
	}
	return h.cacheFirst(c, req)
}

// onlineFirst 优先回源并刷新缓存；网络失败时回退到缓存，缓存也没有则返回 502。
func (h *Handler) onlineFirst(c fiber.Ctx, req managedRequest) error {
	resp, err := h.upstream.Fetch(req.ctx, req.rawURL, fetch.Options{Header: forwardHeaders(c)})
	if err == nil {
		h.store(req, resp)
		h.finish(req, PolicyOnlineFirst, "network", resp.StatusCode, false, nil)
		return h.respond(c, req, PolicyOnlineFirst, resp, false)
	}

	cached, cacheErr := h.lookup(req)
	if cacheErr == nil {
		h.finish(req, PolicyOnlineFirst, "fallback", cached.StatusCode, true, err)
		return h.respond(c, req, PolicyOnlineFirst, cached, true)
	}
	h.finish(req, PolicyOnlineFirst, "error", 0, false, err)
	return h.writeError(c, req.requestID, fiber.StatusBadGateway, "upstream_failed")
}

// cacheFirst 命中即返回缓存；未命中时回源并懒加载写入 content。
func (h *Handler) cacheFirst(c fiber.Ctx, req managedRequest) error {
	cached, err := h.lookup(req)
	switch {
	case err == nil:
		h.finish(req, PolicyCacheFirst, "hit", cached.StatusCode, true, nil)
		return h.respond(c, req, PolicyCacheFirst, cached, true)
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	default:
		h.logger.WithError(err).WithFields(logging.RequestFields(req.key, PolicyCacheFirst, h.worker.Origin(), false)).
			Warn("cache_get_failed")
	}

	resp, err := h.upstream.Fetch(req.ctx, req.rawURL, fetch.Options{Header: forwardHeaders(c)})
	if err != nil {
		h.finish(req, PolicyCacheFirst, "error", 0, false, err)
		return h.writeError(c, req.requestID, fiber.StatusBadGateway, "upstream_failed")
	}
	h.store(req, resp)
	h.finish(req, PolicyCacheFirst, "miss", resp.StatusCode, false, nil)
	return h.respond(c, req, PolicyCacheFirst, resp, false)
}

func (h *Handler) lookup(req managedRequest) (*cache.Response, error) {
	content, err := h.worker.Storage().Open(req.ctx, cache.ContentContainer)
	if err != nil {
		return nil, err
	}
	return content.Get(req.ctx, req.cacheURL)
}

// store 把成功响应写入 content，写入失败只记录日志，不影响本次响应。
func (h *Handler) store(req managedRequest, resp *cache.Response) {
	if !isCacheableStatus(resp.StatusCode) {
		return
	}
	content, err := h.worker.Storage().Open(req.ctx, cache.ContentContainer)
	if err == nil {
		err = content.Put(req.ctx, req.cacheURL, resp)
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logging.RequestFields(req.key, "", h.worker.Origin(), false)).
			Warn("cache_put_failed")
	}
}

func (h *Handler) respond(c fiber.Ctx, req managedRequest, policy string, resp *cache.Response, cacheHit bool) error {
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Shellcache-Policy", policy)
	c.Set("X-Shellcache-Cache-Hit", fmt.Sprintf("%t", cacheHit))
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
	return c.Status(resp.StatusCode).Send(resp.Body)
}

// passThrough 把请求原样转发给源站并流式返回，不读写任何缓存。
func (h *Handler) passThrough(c fiber.Ctx, rawURL, requestID string, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), rawURL, bytesReader(c.Body()))
	if err != nil {
		return h.writeError(c, requestID, fiber.StatusBadRequest, "invalid_request")
	}
	fetch.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Header.Del("Accept-Encoding")
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	passed := managedRequest{rawURL: rawURL, requestID: requestID, started: started}
	resp, err := h.upstream.Do(req)
	if err != nil {
		h.finish(passed, PolicyPassThrough, "error", 0, false, err)
		return h.writeError(c, requestID, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Shellcache-Policy", PolicyPassThrough)
	c.Set("X-Shellcache-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.finish(passed, PolicyPassThrough, "forwarded", resp.StatusCode, false, nil)
		return nil
	}
	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.finish(passed, PolicyPassThrough, "forwarded", resp.StatusCode, false, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, requestID string, status int, code string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// finish 输出结构化访问日志并记录指标。
func (h *Handler) finish(req managedRequest, policy, outcome string, status int, cacheHit bool, err error) {
	h.metrics.ObserveRequest(policy, outcome)

	fields := logging.RequestFields(req.key, policy, h.worker.Origin(), cacheHit)
	fields["action"] = "proxy"
	fields["url"] = req.rawURL
	fields["outcome"] = outcome
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(req.started).Milliseconds()
	if req.requestID != "" {
		fields["request_id"] = req.requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if outcome == "fallback" {
			h.logger.WithFields(fields).Warn("proxy_offline_fallback")
			return
		}
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// requestURL 以源站拼接请求路径与查询串；请求行可能是 absolute-form，
// 不能直接使用原始 URI。
func requestURL(origin string, c fiber.Ctx) string {
	uri := c.Request().URI()
	pathVal := string(uri.Path())
	if pathVal == "" {
		pathVal = "/"
	}
	if query := uri.QueryString(); len(query) > 0 {
		return origin + pathVal + "?" + string(query)
	}
	return origin + pathVal
}

// conditionalHeaders 不随受管请求回源，保证拿到可缓存的完整响应。
var conditionalHeaders = []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range", "Range"}

func forwardHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	fetch.CopyHeaders(header, fiberHeadersAsHTTP(c))
	header.Del("Host")
	for _, name := range conditionalHeaders {
		header.Del(name)
	}
	return header
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func isCacheableStatus(status int) bool {
	return status == http.StatusOK
}
