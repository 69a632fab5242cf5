// Package metrics 提供 Prometheus 指标注册与 HTTP 暴露
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数（按路径/状态码）
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 报价计算计数
	QuotesTotal prometheus.Counter
	// 确认成功计数
	ConfirmsTotal prometheus.Counter
	// 幂等重放计数
	ConfirmReplaysTotal prometheus.Counter
	// 库存不足拒绝计数
	InsufficientStockTotal prometheus.Counter
	// 确认耗时
	ConfirmDuration prometheus.Histogram
}

// New 创建并注册指标实例
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		QuotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "quotes_total",
			Help:      "Total cart quotes computed",
		}),
		ConfirmsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "confirms_total",
			Help:      "Total cart confirmations committed",
		}),
		ConfirmReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "confirm_replays_total",
			Help:      "Confirmations answered from an existing idempotency key",
		}),
		InsufficientStockTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "insufficient_stock_total",
			Help:      "Confirmations rejected for insufficient stock",
		}),
		ConfirmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promoquoter",
			Subsystem: serviceName,
			Name:      "confirm_duration_seconds",
			Help:      "Cart confirmation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuotesTotal,
		m.ConfirmsTotal,
		m.ConfirmReplaysTotal,
		m.InsufficientStockTotal,
		m.ConfirmDuration,
	)
	return m
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
