package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger *logrus.Logger

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 战役指标
	campaignsTotal      *prometheus.CounterVec
	campaignsInProgress prometheus.Gauge
	attackDuration      *prometheus.HistogramVec
	engineTimeoutsTotal *prometheus.CounterVec
	attackSuccessRate   *prometheus.HistogramVec

	// 队列与 worker 指标
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge

	// 数据库指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "libpass_attack"
	}

	pm := &PrometheusMetrics{
		logger: logger,

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		campaignsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_total",
				Help:      "Total number of attack campaigns",
			},
			[]string{"status"}, // queued, running, completed, failed
		),
		campaignsInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "campaigns_in_progress",
				Help:      "Number of campaigns currently running",
			},
		),
		// JVM 引擎单次调用从分钟级到小时级
		attackDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attack_duration_seconds",
				Help:      "Attack engine invocation duration in seconds",
				Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
			},
			[]string{"mode", "status"},
		),
		engineTimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_timeouts_total",
				Help:      "Total number of attack engine timeouts",
			},
			[]string{"mode"},
		),
		attackSuccessRate: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attack_success_rate",
				Help:      "Overall success rate distribution of completed attacks",
				Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.85, 0.95, 1},
			},
			[]string{"mode"},
		),

		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of campaigns waiting in the queue",
			},
		),
		activeWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Number of active campaign workers",
			},
		),

		dbConnectionsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Number of open database connections",
			},
		),
		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_idle",
				Help:      "Number of idle database connections",
			},
		),
		dbConnectionsInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Number of database connections in use",
			},
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCampaignCreated 记录战役创建
func (pm *PrometheusMetrics) RecordCampaignCreated() {
	pm.campaignsTotal.WithLabelValues("queued").Inc()
}

// RecordCampaignStarted 记录战役开始
func (pm *PrometheusMetrics) RecordCampaignStarted() {
	pm.campaignsTotal.WithLabelValues("running").Inc()
	pm.campaignsInProgress.Inc()
}

// RecordCampaignCompleted 记录战役完成
func (pm *PrometheusMetrics) RecordCampaignCompleted(mode string, successRate float64, duration time.Duration) {
	pm.campaignsTotal.WithLabelValues("completed").Inc()
	pm.campaignsInProgress.Dec()
	pm.attackDuration.WithLabelValues(mode, "completed").Observe(duration.Seconds())
	pm.attackSuccessRate.WithLabelValues(mode).Observe(successRate)
}

// RecordCampaignFailed 记录战役失败
func (pm *PrometheusMetrics) RecordCampaignFailed(mode string, errorKind string, duration time.Duration) {
	pm.campaignsTotal.WithLabelValues("failed").Inc()
	pm.campaignsInProgress.Dec()
	pm.attackDuration.WithLabelValues(mode, "failed").Observe(duration.Seconds())

	if errorKind == "timeout" {
		pm.engineTimeoutsTotal.WithLabelValues(mode).Inc()
	}
}

// UpdateQueueDepth 更新队列深度
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	pm.queueDepth.Set(float64(depth))
}

// UpdateActiveWorkers 更新活跃 worker 数量
func (pm *PrometheusMetrics) UpdateActiveWorkers(count int) {
	pm.activeWorkers.Set(float64(count))
}

// UpdateDBStats 更新数据库连接统计
func (pm *PrometheusMetrics) UpdateDBStats(open, idle, inUse int) {
	pm.dbConnectionsOpen.Set(float64(open))
	pm.dbConnectionsIdle.Set(float64(idle))
	pm.dbConnectionsInUse.Set(float64(inUse))
}
