// Package metrics 对话服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "careguide"
	subsystem = "dialogue"
)

// Config 指标配置
type Config struct {
	// Registry 为 nil 时创建新的注册表
	Registry *prometheus.Registry
	// LatencyBuckets 轮次耗时分桶（秒）
	LatencyBuckets []float64
	// WithRuntime 是否同时导出 Go 运行时与进程指标
	WithRuntime bool
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		WithRuntime:    true,
	}
}

// Metrics 对话轮次、闸门、路由与工具调用指标
type Metrics struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnLatency  prometheus.Histogram
	turnsActive  prometheus.Gauge
	gateHalts    *prometheus.CounterVec
	routes       *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
}

// New 创建并注册全部指标
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_total",
			Help:      "Total number of finished dialogue turns",
		},
		[]string{"status"},
	)

	m.turnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turn_duration_seconds",
			Help:      "Dialogue turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	m.turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_active",
			Help:      "Number of dialogue turns currently running",
		},
	)

	m.gateHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gate_halts_total",
			Help:      "Total number of turns halted before a specialist answered",
		},
		[]string{"reason"},
	)

	m.routes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes_total",
			Help:      "Total number of supervisor routing decisions",
		},
		[]string{"route"},
	)

	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_calls_total",
			Help:      "Total number of capability calls requested by specialists",
		},
		[]string{"node", "tool_name"},
	)

	m.messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_emitted_total",
			Help:      "Total number of assistant messages emitted to callers",
		},
		[]string{"node"},
	)

	registry.MustRegister(m.turns, m.turnLatency, m.turnsActive, m.gateHalts, m.routes, m.toolCalls, m.messagesSent)
	if cfg.WithRuntime {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnStarted() {
	m.turnsActive.Inc()
}

// TurnFinished 记录结束状态与耗时
func (m *Metrics) TurnFinished(status string, d time.Duration) {
	m.turnsActive.Dec()
	m.turns.WithLabelValues(status).Inc()
	m.turnLatency.Observe(d.Seconds())
}

// TurnAbandoned 排队期间放弃的轮次，没有开始执行
func (m *Metrics) TurnAbandoned(status string) {
	m.turns.WithLabelValues(status).Inc()
}

func (m *Metrics) GateHalted(reason string) {
	m.gateHalts.WithLabelValues(reason).Inc()
}

func (m *Metrics) Routed(route string) {
	m.routes.WithLabelValues(route).Inc()
}

func (m *Metrics) ToolCalled(node, tool string) {
	m.toolCalls.WithLabelValues(node, tool).Inc()
}

func (m *Metrics) MessageEmitted(node string) {
	m.messagesSent.WithLabelValues(node).Inc()
}
