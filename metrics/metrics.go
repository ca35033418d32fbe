// Package metrics 汇总服务的 prometheus 指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tiderepo"

// Sources 提供按需读取的状态值，nil 的字段不注册对应指标
type Sources struct {
	Entries  func() float64
	Watchers func() float64
	Dropped  func() float64
}

// Metrics 持有独立的注册表和全部指标
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	dispatch *prometheus.CounterVec
}

// New 创建指标并注册到新的注册表
func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by operation and status code.",
		}, []string{"op", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of requests by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Messages forwarded to child contracts, by outcome.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.dispatch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src.Entries != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Entries currently in the collection.",
		}, src.Entries))
	}
	if src.Watchers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchers",
			Help:      "Registered change feed watchers.",
		}, src.Watchers))
	}
	if src.Dropped != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_dropped_total",
			Help:      "Change events dropped because a watcher was full.",
		}, src.Dropped))
	}
	return m
}

// ObserveRequest 记录一次请求
func (m *Metrics) ObserveRequest(op string, code int, d time.Duration) {
	m.requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveDispatch 记录一次批量转发的结果
func (m *Metrics) ObserveDispatch(ok, failed int) {
	m.dispatch.WithLabelValues("success").Add(float64(ok))
	m.dispatch.WithLabelValues("error").Add(float64(failed))
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
