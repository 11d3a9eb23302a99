package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailingest/backend/internal/domain"
)

const namespace = "mailingest"

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 运行指标
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// 邮件指标
	MessagesTotal       *prometheus.CounterVec
	StageFailures       *prometheus.CounterVec
	MessageProcessTime  prometheus.Histogram
	AttachmentsStored   prometheus.Counter
	AttachmentSize      prometheus.Histogram
	SinkRowsInserted    prometheus.Counter
	RetriesTotal        *prometheus.CounterVec
	CursorPosition      prometheus.Gauge
	WatchExpirationTime prometheus.Gauge

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标并注册到独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Ingestion runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Ingestion run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages by processing result",
			},
			[]string{"result"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Terminal message failures by stage and error kind",
			},
			[]string{"stage", "kind"},
		),
		MessageProcessTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_processing_duration_seconds",
				Help:      "Time from fetch to record stored for one message",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AttachmentsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_stored_total",
				Help:      "Attachments written to blob storage",
			},
		),
		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attachment_size_bytes",
				Help:      "Attachment size in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 20),
			},
		),
		SinkRowsInserted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_rows_inserted_total",
				Help:      "Records inserted into the structured sink",
			},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retried blocking calls by operation",
			},
			[]string{"op"},
		),
		CursorPosition: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cursor_position",
				Help:      "Last committed mailbox history position",
			},
		),
		WatchExpirationTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watch_expiration_timestamp_seconds",
				Help:      "Unix time at which the mailbox watch expires",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveRun 把一次运行的汇总计入指标
func (m *Metrics) ObserveRun(s *domain.RunSummary, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case s.Busy:
		outcome = "busy"
	case s.Fallback:
		outcome = "fallback"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	if !s.FinishedAt.IsZero() {
		m.RunDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}

	m.MessagesTotal.WithLabelValues("fetched").Add(float64(s.Fetched))
	m.MessagesTotal.WithLabelValues("stored").Add(float64(s.Stored))
	m.MessagesTotal.WithLabelValues("failed").Add(float64(s.Failed))
	m.MessagesTotal.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.MessagesTotal.WithLabelValues("partial").Add(float64(s.Partial))
	m.MessagesTotal.WithLabelValues("ack_failed").Add(float64(s.AckFailed))
	m.MessagesTotal.WithLabelValues("deferred").Add(float64(s.Deferred))

	for _, f := range s.FailedMessages {
		m.StageFailures.WithLabelValues(f.Stage.String(), f.Kind.String()).Inc()
	}
	if s.CursorAfter > 0 {
		m.CursorPosition.Set(float64(s.CursorAfter))
	}
}

// RecordMessageProcessed 记录单封邮件的处理耗时
func (m *Metrics) RecordMessageProcessed(duration time.Duration) {
	m.MessageProcessTime.Observe(duration.Seconds())
}

// RecordAttachment 记录一个已保存的附件
func (m *Metrics) RecordAttachment(size int64) {
	m.AttachmentsStored.Inc()
	m.AttachmentSize.Observe(float64(size))
}

// RecordInserted 记录写入结构化存储的行数
func (m *Metrics) RecordInserted(n int) {
	m.SinkRowsInserted.Add(float64(n))
}

// RecordRetry 记录一次重试
func (m *Metrics) RecordRetry(op string) {
	m.RetriesTotal.WithLabelValues(op).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateWatchExpiration 更新监听过期时间
func (m *Metrics) UpdateWatchExpiration(t time.Time) {
	m.WatchExpirationTime.Set(float64(t.Unix()))
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
