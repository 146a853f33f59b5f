package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标集合。通过 InitMetrics 初始化，多次调用是安全的（幂等）。
var (
	// ScrapeJobsTotal 按结果分类的爬虫进程派发总数。
	// outcome: success / failed / timeout / rejected
	ScrapeJobsTotal *prometheus.CounterVec

	// ScrapeDuration 爬虫进程从启动到退出的耗时分布。
	ScrapeDuration prometheus.Histogram

	// ScrapeQueueDepth 派发队列当前积压的任务数。
	ScrapeQueueDepth prometheus.Gauge

	// ScrapeWorkerPoolSize 派发 worker 池的配置大小。
	ScrapeWorkerPoolSize prometheus.Gauge

	// ScrapeJobsDroppedTotal 因队列满而被丢弃的派发任务数。
	ScrapeJobsDroppedTotal prometheus.Counter

	// AdvisorRequestsTotal 按结果分类的推荐分析次数。
	// result: ai / fallback
	AdvisorRequestsTotal *prometheus.CounterVec

	// AdvisorLatency 外部补全服务调用的耗时分布。
	AdvisorLatency prometheus.Histogram

	// IngestTotal 成功入库的价格观测数。
	IngestTotal prometheus.Counter

	// PriceDropAlertsTotal 触发的降价提醒数。
	PriceDropAlertsTotal prometheus.Counter

	// RateLimitRejectedTotal 因限流被拒绝的请求数。
	RateLimitRejectedTotal prometheus.Counter

	initOnce sync.Once
)

// InitMetrics 注册所有 Prometheus 指标。
//
// workerPoolSize 用于初始化 worker 池大小指标，可传 0。
func InitMetrics(workerPoolSize int) {
	initOnce.Do(func() {
		ScrapeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricehawk_scrape_jobs_total",
			Help: "Scrape process dispatches by outcome.",
		}, []string{"outcome"})

		ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricehawk_scrape_duration_seconds",
			Help:    "Wall clock duration of scrape processes.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		})

		ScrapeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pricehawk_scrape_queue_depth",
			Help: "Pending scrape dispatch jobs.",
		})

		ScrapeWorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pricehawk_scrape_worker_pool_size",
			Help: "Configured scrape dispatch worker count.",
		})
		ScrapeWorkerPoolSize.Set(float64(workerPoolSize))

		ScrapeJobsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricehawk_scrape_jobs_dropped_total",
			Help: "Scrape dispatches dropped because the queue was full.",
		})

		AdvisorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricehawk_advisor_requests_total",
			Help: "Recommendation analyses by result.",
		}, []string{"result"})

		AdvisorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricehawk_advisor_latency_seconds",
			Help:    "Latency of completion service calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		})

		IngestTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricehawk_ingest_total",
			Help: "Price observations accepted through the ingest callback.",
		})

		PriceDropAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricehawk_price_drop_alerts_total",
			Help: "Price drop alert emails attempted.",
		})

		RateLimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricehawk_ratelimit_rejected_total",
			Help: "Requests rejected by the ingest rate limiter.",
		})
	})
}
