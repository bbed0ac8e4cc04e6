package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/metrics"
)

// State 是当前（最新）版本所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ManifestRecordKey 是 manifest-record 容器中唯一条目的键。
const ManifestRecordKey = "manifest"

var (
	// ErrNotActive 表示尚无已激活的版本。
	ErrNotActive = errors.New("worker not active")
	// ErrNotInstalled 表示 activate 前没有完成 install。
	ErrNotInstalled = errors.New("worker not installed")
	// ErrWaiting 表示版本已安装但仍在等待 skipWaiting。
	ErrWaiting = errors.New("worker installed and waiting")
)

// Fetcher 抓取资源并把非 2xx 视为失败，install 与 prefetch 依赖这一语义。
type Fetcher interface {
	FetchOK(ctx context.Context, url string, opts fetch.Options) (*cache.Response, error)
}

// Options 汇总构造 Worker 所需的依赖。
type Options struct {
	Origin              string
	Manifest            *manifest.Manifest
	Storage             cache.Storage
	Fetcher             Fetcher
	Logger              *logrus.Logger
	Metrics             *metrics.Metrics
	PrefetchConcurrency int
}

// Worker 持有一个应用的离线缓存生命周期。
type Worker struct {
	origin      string
	storage     cache.Storage
	fetcher     Fetcher
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	concurrency int

	// lifecycle 串行化 install/activate/prefetch，对应浏览器单线程事件循环。
	lifecycle sync.Mutex

	mu            sync.RWMutex
	pending       *manifest.Manifest
	active        *manifest.Manifest
	state         State
	skipWaiting   bool
	lastError     string
	lastActivated time.Time
}

// Status 是 Worker 的只读快照，供诊断接口输出。
type Status struct {
	State             State     `json:"state"`
	Active            bool      `json:"active"`
	SkipWaiting       bool      `json:"skip_waiting"`
	ManifestResources int       `json:"manifest_resources"`
	CoreResources     int       `json:"core_resources"`
	LastError         string    `json:"last_error,omitempty"`
	LastActivated     time.Time `json:"last_activated,omitempty"`
}

// New 构造 Worker，初始状态为 parsed。
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Origin == "" {
		return nil, errors.New("origin is required")
	}
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := opts.PrefetchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		origin:      opts.Origin,
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		logger:      logger,
		metrics:     opts.Metrics,
		concurrency: concurrency,
		pending:     opts.Manifest,
		state:       StateParsed,
	}, nil
}

// Origin 返回部署源站。
func (w *Worker) Origin() string {
	return w.origin
}

// Storage 返回底层容器存储。
func (w *Worker) Storage() cache.Storage {
	return w.storage
}

// ActiveManifest 返回已激活版本的清单；尚未激活时 ok 为 false。
func (w *Worker) ActiveManifest() (*manifest.Manifest, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active, w.active != nil
}

// State 返回最新版本的生命周期阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Status 返回诊断快照。
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Status{
		State:         w.state,
		Active:        w.active != nil,
		SkipWaiting:   w.skipWaiting,
		LastError:     w.lastError,
		LastActivated: w.lastActivated,
	}
	if m := w.current(); m != nil {
		st.ManifestResources = m.Len()
		st.CoreResources = len(m.Core)
	}
	return st
}

// Start 执行注册流程：先恢复上次激活的版本，再 install 并立即 activate
// （install 总会请求 skipWaiting）。install 失败时已恢复的版本继续服务。
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	w.restore(ctx)
	return w.installAndActivate(ctx)
}

// StartWithRetry 重复执行 Start，install 失败时按指数退避重试，直到成功或 ctx 结束。
// activate 失败不重试：版本已经激活，只是缓存被重置。
func (w *Worker) StartWithRetry(ctx context.Context, initial, maxDelay time.Duration) error {
	delay := initial
	for {
		err := w.Start(ctx)
		if err == nil || w.State() != StateRedundant {
			return err
		}
		w.lifecycleLog("start_retry", 0).WithError(err).WithField("delay", delay.String()).Warn("install_retry_scheduled")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// restore 在进程重启后把 manifest-record 中持久化的版本设为激活版本，
// 离线时路由仍可从 content 提供服务。清单指纹一致时沿用当前清单。
func (w *Worker) restore(ctx context.Context) {
	w.mu.RLock()
	restored := w.active != nil
	pending := w.pending
	w.mu.RUnlock()
	if restored || pending == nil {
		return
	}

	has, err := w.storage.Has(ctx, cache.ManifestContainer)
	if err != nil || !has {
		return
	}
	record, err := w.storage.Open(ctx, cache.ManifestContainer)
	if err != nil {
		return
	}
	persisted, err := record.Get(ctx, ManifestRecordKey)
	if err != nil {
		return
	}
	resources, err := manifest.DecodeResources(persisted.Body)
	if err != nil {
		w.lifecycleLog("restore", 0).WithError(err).Warn("restore_failed")
		return
	}

	previous := pending
	if !sameResources(pending.Resources, resources) {
		if previous, err = manifest.New(resources, nil); err != nil {
			return
		}
	}
	w.mu.Lock()
	w.active = previous
	w.mu.Unlock()
	w.lifecycleLog("restore", previous.Len()).Info("restore_complete")
}

func sameResources(a, b manifest.Resources) bool {
	if len(a) != len(b) {
		return false
	}
	for key, fp := range a {
		if other, ok := b[key]; !ok || other != fp {
			return false
		}
	}
	return true
}

// Update 以新清单模拟一次新部署：旧版本继续服务，直到新版本 activate 完成。
// install 失败时旧版本保持激活。
func (w *Worker) Update(ctx context.Context, next *manifest.Manifest) error {
	if err := next.Validate(); err != nil {
		return err
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	w.pending = next
	w.state = StateParsed
	w.skipWaiting = false
	w.mu.Unlock()

	return w.installAndActivate(ctx)
}

func (w *Worker) installAndActivate(ctx context.Context) error {
	if err := w.install(ctx); err != nil {
		return err
	}
	if !w.waitingSkipped() {
		return ErrWaiting
	}
	return w.activate(ctx)
}

// SkipWaiting 让已安装的版本不再等待，调用方随后可直接 activate。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) waitingSkipped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// current 返回最新版本的清单：安装中优先 pending，否则为 active。
// install 失败后仍在服务的是 active。
func (w *Worker) current() *manifest.Manifest {
	if w.state == StateRedundant && w.active != nil {
		return w.active
	}
	if w.pending != nil {
		return w.pending
	}
	return w.active
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		w.lastError = ""
		return
	}
	w.lastError = err.Error()
}

func (w *Worker) lifecycleLog(action string, resources int) *logrus.Entry {
	return w.logger.WithFields(logging.LifecycleFields(action, string(w.State()), resources))
}
