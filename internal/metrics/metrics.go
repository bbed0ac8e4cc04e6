package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics 汇总离线缓存的 Prometheus 指标，每个实例持有独立 Registry，便于测试。
type Metrics struct {
	Registry *prometheus.Registry

	Requests    *prometheus.CounterVec
	Lifecycle   *prometheus.CounterVec
	Evictions   prometheus.Counter
	Prefetched  prometheus.Counter
	ContentSize prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "requests_total",
			Help:      "Intercepted requests by serving policy and outcome.",
		}, []string{"policy", "outcome"}),
		Lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "lifecycle_events_total",
			Help:      "Install/activate/prefetch runs by result.",
		}, []string{"event", "result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "evictions_total",
			Help:      "Content entries evicted during activate.",
		}),
		Prefetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "prefetched_resources_total",
			Help:      "Resources stored by downloadOffline.",
		}),
		ContentSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shellcache",
			Name:      "content_entries",
			Help:      "Entries in the live content container after the last activate.",
		}),
	}
	m.Registry.MustRegister(
		m.Requests,
		m.Lifecycle,
		m.Evictions,
		m.Prefetched,
		m.ContentSize,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveRequest 记录一次路由决策；m 为 nil 时忽略。
func (m *Metrics) ObserveRequest(policy, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(policy, outcome).Inc()
}

// ObserveLifecycle 记录生命周期事件结果。
func (m *Metrics) ObserveLifecycle(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Lifecycle.WithLabelValues(event, result).Inc()
}

func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
}

func (m *Metrics) AddPrefetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Prefetched.Add(float64(n))
}

func (m *Metrics) SetContentSize(n int) {
	if m == nil {
		return
	}
	m.ContentSize.Set(float64(n))
}
