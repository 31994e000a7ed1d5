package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 发送指标
	SendJobsCreated   prometheus.Counter
	SendJobsCompleted prometheus.Counter
	MailsDelivered    *prometheus.CounterVec
	RenderSkipped     prometheus.Counter
	DeliveryDuration  prometheus.Histogram

	// 调度指标
	SchedulerTicks    *prometheus.CounterVec
	SchedulerDueJobs  prometheus.Gauge
	SchedulerLastTick prometheus.Gauge

	// 导入指标
	ContactsImported prometheus.Counter
	ImportRunning    prometheus.Gauge

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	RedisConnections    prometheus.Gauge
	MemoryUsage         prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 业务指标
	AttachmentSize prometheus.Histogram
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith 在指定注册表上创建监控指标，测试中使用独立的注册表
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leomail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leomail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leomail_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leomail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),

		SendJobsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leomail_send_jobs_created_total",
				Help: "Total number of persisted send jobs",
			},
		),
		SendJobsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leomail_send_jobs_completed_total",
				Help: "Total number of send jobs marked as sent",
			},
		),
		MailsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leomail_mails_delivered_total",
				Help: "Per-recipient delivery attempts by result",
			},
			[]string{"result"},
		),
		RenderSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leomail_render_skipped_total",
				Help: "Recipients skipped because their body could not be rendered",
			},
		),
		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leomail_send_job_delivery_duration_seconds",
				Help:    "Time spent delivering all messages of a send job",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),

		SchedulerTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leomail_scheduler_ticks_total",
				Help: "Scheduler runs by outcome",
			},
			[]string{"result"},
		),
		SchedulerDueJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_scheduler_due_jobs",
				Help: "Number of due send jobs found by the last scheduler run",
			},
		),
		SchedulerLastTick: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_scheduler_last_tick_timestamp_seconds",
				Help: "Unix time of the last completed scheduler run",
			},
		),

		ContactsImported: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leomail_contacts_imported_total",
				Help: "Contacts upserted from the identity provider",
			},
		),
		ImportRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_import_running",
				Help: "1 while an identity import is in progress",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_database_connections",
				Help: "Number of open database connections",
			},
		),
		RedisConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_redis_connections",
				Help: "Number of Redis pool connections",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "leomail_memory_usage_bytes",
				Help: "Heap memory in use",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leomail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "leomail_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leomail_attachment_size_bytes",
				Help:    "Uploaded attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 16),
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordSendJobCreated 记录任务创建
func (m *Metrics) RecordSendJobCreated() {
	m.SendJobsCreated.Inc()
}

// RecordSendJobCompleted 记录任务完成及投递耗时
func (m *Metrics) RecordSendJobCompleted(duration time.Duration) {
	m.SendJobsCompleted.Inc()
	m.DeliveryDuration.Observe(duration.Seconds())
}

// RecordDelivery 记录单封邮件的投递结果
func (m *Metrics) RecordDelivery(ok bool) {
	if ok {
		m.MailsDelivered.WithLabelValues("sent").Inc()
		return
	}
	m.MailsDelivered.WithLabelValues("failed").Inc()
}

// RecordRenderSkipped 记录被跳过的收件人
func (m *Metrics) RecordRenderSkipped(n int) {
	m.RenderSkipped.Add(float64(n))
}

// RecordSchedulerTick 记录一轮调度
//
// result: ok、partial（部分任务出错）、skipped（未拿到租约）、error
func (m *Metrics) RecordSchedulerTick(result string, dueJobs int) {
	m.SchedulerTicks.WithLabelValues(result).Inc()
	m.SchedulerDueJobs.Set(float64(dueJobs))
	m.SchedulerLastTick.SetToCurrentTime()
}

// RecordContactImported 记录导入的联系人
func (m *Metrics) RecordContactImported() {
	m.ContactsImported.Inc()
}

// SetImportRunning 更新导入状态
func (m *Metrics) SetImportRunning(running bool) {
	if running {
		m.ImportRunning.Set(1)
		return
	}
	m.ImportRunning.Set(0)
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateRedisConnections 更新 Redis 连接数
func (m *Metrics) UpdateRedisConnections(count int) {
	m.RedisConnections.Set(float64(count))
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	m.MemoryUsage.Set(float64(bytes))
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	m.AttachmentSize.Observe(float64(size))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
