package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record/Update 方法都允许在 nil 接收者上调用，便于测试时不注册指标。
type Metrics struct {
	registry prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 路由表指标
	RouteCommits          *prometheus.CounterVec
	RouteValidationErrors *prometheus.CounterVec
	SecondaryReconciled   *prometheus.CounterVec
	RoutesImported        *prometheus.CounterVec

	// 扇出指标
	MessagesCreated     *prometheus.CounterVec
	FanoutSuppressed    prometheus.Counter
	FanoutDuration      prometheus.Histogram
	SecondaryUnresolved prometheus.Counter

	// 投递指标
	DeliveriesRecorded     *prometheus.CounterVec
	StatisticsFailures     prometheus.Counter
	NotificationsQueued    *prometheus.CounterVec
	NotificationsDelivered *prometheus.CounterVec
	NotificationsDropped   *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: gatherer,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroute_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 路由表指标
		RouteCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_route_commits_total",
				Help: "Total number of route commits by result",
			},
			[]string{"operation", "result"},
		),

		RouteValidationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_route_validation_errors_total",
				Help: "Total number of route validation errors by field",
			},
			[]string{"field"},
		),

		SecondaryReconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_secondary_endpoints_reconciled_total",
				Help: "Secondary endpoints created, retained or deleted during reconciliation",
			},
			[]string{"action"},
		),

		RoutesImported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_routes_imported_total",
				Help: "Rows processed by the route importer by outcome",
			},
			[]string{"outcome"},
		),

		// 扇出指标
		MessagesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_messages_created_total",
				Help: "Messages created by fan-out",
			},
			[]string{"target"},
		),

		FanoutSuppressed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroute_fanout_suppressed_total",
				Help: "Fan-outs skipped because the subject looked auto-generated",
			},
		),

		FanoutDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailroute_fanout_duration_seconds",
				Help:    "Time spent creating messages for one inbound item",
				Buckets: prometheus.DefBuckets,
			},
		),

		SecondaryUnresolved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroute_secondary_endpoints_unresolved_total",
				Help: "Secondary endpoints skipped during fan-out because they no longer resolve",
			},
		),

		// 投递指标
		DeliveriesRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_deliveries_recorded_total",
				Help: "Delivery attempts recorded by status",
			},
			[]string{"status"},
		),

		StatisticsFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroute_statistics_failures_total",
				Help: "Statistics increments that failed",
			},
		),

		NotificationsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_notifications_queued_total",
				Help: "Notifications handed to the transport by event",
			},
			[]string{"event"},
		),

		NotificationsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_notifications_delivered_total",
				Help: "Notification delivery attempts by transport and result",
			},
			[]string{"transport", "result"},
		),

		NotificationsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_notifications_dropped_total",
				Help: "Notifications dropped before delivery by reason",
			},
			[]string{"reason"},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroute_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroute_panics_total",
				Help: "Total number of panics",
			},
		),

		// 系统指标
		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailroute_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailroute_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordRouteCommit 记录路由提交结果
func (m *Metrics) RecordRouteCommit(operation, result string) {
	if m == nil {
		return
	}
	m.RouteCommits.WithLabelValues(operation, result).Inc()
}

// RecordValidationError 记录字段校验错误
func (m *Metrics) RecordValidationError(field string) {
	if m == nil {
		return
	}
	m.RouteValidationErrors.WithLabelValues(field).Inc()
}

// RecordReconcile 记录附加目标调和结果
func (m *Metrics) RecordReconcile(created, retained, deleted int) {
	if m == nil {
		return
	}
	m.SecondaryReconciled.WithLabelValues("created").Add(float64(created))
	m.SecondaryReconciled.WithLabelValues("retained").Add(float64(retained))
	m.SecondaryReconciled.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordImportRow 记录导入行结果
func (m *Metrics) RecordImportRow(outcome string) {
	if m == nil {
		return
	}
	m.RoutesImported.WithLabelValues(outcome).Inc()
}

// RecordMessageCreated 记录扇出创建的邮件，target 为 primary 或 secondary
func (m *Metrics) RecordMessageCreated(target string) {
	if m == nil {
		return
	}
	m.MessagesCreated.WithLabelValues(target).Inc()
}

// RecordFanoutSuppressed 记录被抑制的扇出
func (m *Metrics) RecordFanoutSuppressed() {
	if m == nil {
		return
	}
	m.FanoutSuppressed.Inc()
}

// RecordFanoutDuration 记录扇出耗时
func (m *Metrics) RecordFanoutDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.FanoutDuration.Observe(duration.Seconds())
}

// RecordSecondaryUnresolved 记录无法解析的附加目标
func (m *Metrics) RecordSecondaryUnresolved() {
	if m == nil {
		return
	}
	m.SecondaryUnresolved.Inc()
}

// RecordDelivery 记录投递
func (m *Metrics) RecordDelivery(status string) {
	if m == nil {
		return
	}
	m.DeliveriesRecorded.WithLabelValues(status).Inc()
}

// RecordStatisticsFailure 记录统计失败
func (m *Metrics) RecordStatisticsFailure() {
	if m == nil {
		return
	}
	m.StatisticsFailures.Inc()
}

// RecordNotificationQueued 记录通知入队
func (m *Metrics) RecordNotificationQueued(event string) {
	if m == nil {
		return
	}
	m.NotificationsQueued.WithLabelValues(event).Inc()
}

// RecordNotificationDelivered 记录通知投递结果
func (m *Metrics) RecordNotificationDelivered(transport string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.NotificationsDelivered.WithLabelValues(transport, result).Inc()
}

// RecordNotificationDropped 记录被丢弃的通知
func (m *Metrics) RecordNotificationDropped(reason string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(reason).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 更新内存使用
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
