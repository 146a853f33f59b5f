package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pricehawk/internal/model"
	"pricehawk/internal/pkg/metrics"
	"pricehawk/internal/pkg/queue"
	"pricehawk/internal/pkg/scrapestatus"
	"pricehawk/internal/scraper"
)

// ProductSource 调度器需要的商品读取能力。
type ProductSource interface {
	FindByID(ctx context.Context, id uint) (*model.Product, error)
	ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)
}

// Runner 一次爬虫进程的执行入口。
type Runner interface {
	Trigger(ctx context.Context, productName string) (*scraper.Outcome, error)
}

// StatusRecorder 派发状态的写入端。
type StatusRecorder interface {
	Set(ctx context.Context, productID uint, state, message string)
}

// Scheduler 爬虫派发调度器。
//
// 两条入口汇聚到同一个 worker 池：追踪请求触发的即时派发（TriggerScrape，
// 发射后不管），和按固定间隔重扫全部商品的后台循环（Run）。
// 派发结果通过日志、指标与 Redis 状态键观测，不回传给触发方。
type Scheduler struct {
	source    ProductSource
	runner    Runner
	status    StatusRecorder
	logger    *slog.Logger
	pool      *queue.Pool
	interval  time.Duration
	batchSize int
}

// New 创建调度器。
//
// 参数:
//
//	source: 商品读取层
//	runner: 爬虫进程执行器
//	status: 派发状态记录器
//	logger: 日志记录器
//	interval: 重扫循环间隔
//	workers: worker 池大小（0 表示默认 8）
//	capacity: 派发队列容量（0 表示默认 64）
//	batchSize: 重扫每批加载的商品数（0 表示默认 50）
func New(source ProductSource, runner Runner, status StatusRecorder, logger *slog.Logger, interval time.Duration, workers, capacity, batchSize int) *Scheduler {
	if workers <= 0 {
		workers = 8
	}
	if capacity <= 0 {
		capacity = 64
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	pool := queue.NewPool(logger, workers, capacity)
	pool.SetFailureHandler(func(label string, err error) {
		logger.Error("scrape dispatch failed",
			slog.String("product", label),
			slog.String("error", err.Error()))
	})

	return &Scheduler{
		source:    source,
		runner:    runner,
		status:    status,
		logger:    logger,
		pool:      pool,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run 启动 worker 池与重扫循环，直到 ctx 被取消。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scrape scheduler started",
		slog.String("interval", s.interval.String()),
		slog.Int("queue_capacity", s.pool.Cap()))

	s.pool.Start(ctx)

	// 首次立即重扫一轮
	s.rescanAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(1 * time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scrape scheduler stopping")
			if err := s.pool.ShutdownWithTimeout(30 * time.Second); err != nil {
				s.logger.Error("dispatch pool shutdown timeout", slog.String("error", err.Error()))
			}
			s.logger.Info("scrape scheduler stopped")
			return

		case <-ticker.C:
			s.rescanAll(ctx)

		case <-statsTicker.C:
			s.printPoolStats()
		}
	}
}

// Shutdown 在不经过 Run 的场景下手动关闭 worker 池（主要给测试用）。
func (s *Scheduler) Shutdown() {
	s.pool.Shutdown()
}

// Start 仅启动 worker 池，不启动重扫循环（主要给测试用）。
func (s *Scheduler) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// TriggerScrape 为单个商品派发一次爬虫进程（发射后不管）。
//
// 返回值仅表示任务是否进入队列：false 表示队列已满被拒绝，
// 此时状态键记为 rejected。入队成功后的执行结果通过状态键观测。
func (s *Scheduler) TriggerScrape(ctx context.Context, product *model.Product) bool {
	productID := product.ID
	productName := product.Name

	ok := s.pool.Enqueue(queue.Task{
		Label: productName,
		Run: func(workerCtx context.Context) error {
			return s.runScrape(workerCtx, productID, productName)
		},
	})
	if !ok {
		if metrics.ScrapeJobsTotal != nil {
			metrics.ScrapeJobsTotal.WithLabelValues("rejected").Inc()
		}
		s.status.Set(ctx, productID, scrapestatus.StateRejected, "dispatch queue full")
		s.logger.Warn("scrape dispatch rejected, queue full",
			slog.Uint64("product_id", uint64(productID)),
			slog.String("product", productName))
		return false
	}

	s.status.Set(ctx, productID, scrapestatus.StateRunning, "")
	return true
}

// runScrape 在 worker 中执行一次爬虫进程并记录结果。
func (s *Scheduler) runScrape(ctx context.Context, productID uint, productName string) error {
	outcome, err := s.runner.Trigger(ctx, productName)
	if err != nil {
		// 进程无法启动（命令缺失等环境问题）
		if metrics.ScrapeJobsTotal != nil {
			metrics.ScrapeJobsTotal.WithLabelValues("failed").Inc()
		}
		s.status.Set(ctx, productID, scrapestatus.StateFailed, err.Error())
		return fmt.Errorf("trigger scrape for %q: %w", productName, err)
	}

	switch {
	case outcome.TimedOut:
		if metrics.ScrapeJobsTotal != nil {
			metrics.ScrapeJobsTotal.WithLabelValues("timeout").Inc()
		}
		s.status.Set(ctx, productID, scrapestatus.StateTimeout, outcome.Error)
		return fmt.Errorf("scrape for %q timed out", productName)

	case !outcome.Success:
		if metrics.ScrapeJobsTotal != nil {
			metrics.ScrapeJobsTotal.WithLabelValues("failed").Inc()
		}
		s.status.Set(ctx, productID, scrapestatus.StateFailed, outcome.Error)
		return fmt.Errorf("scrape for %q exited with code %d", productName, outcome.ExitCode)

	default:
		if metrics.ScrapeJobsTotal != nil {
			metrics.ScrapeJobsTotal.WithLabelValues("success").Inc()
		}
		s.status.Set(ctx, productID, scrapestatus.StateSuccess, "")
		return nil
	}
}

// rescanAll 游标式遍历全部商品并逐个派发。
//
// 重扫走阻塞式入队：全量重扫允许慢慢排队，但不允许丢任务。
func (s *Scheduler) rescanAll(ctx context.Context) {
	var lastID uint
	total := 0
	for {
		if ctx.Err() != nil {
			return
		}

		ids, err := s.source.ListIDs(ctx, lastID, s.batchSize)
		if err != nil {
			s.logger.Error("failed to load products for rescan", slog.String("error", err.Error()))
			return
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			lastID = id
			product, err := s.source.FindByID(ctx, id)
			if err != nil {
				s.logger.Warn("skip rescan for missing product",
					slog.Uint64("product_id", uint64(id)),
					slog.String("error", err.Error()))
				continue
			}

			productID := product.ID
			productName := product.Name
			err = s.pool.EnqueueBlocking(ctx, queue.Task{
				Label: productName,
				Run: func(workerCtx context.Context) error {
					return s.runScrape(workerCtx, productID, productName)
				},
			})
			if err != nil {
				s.logger.Warn("rescan enqueue canceled",
					slog.Uint64("product_id", uint64(id)),
					slog.String("error", err.Error()))
				return
			}
			s.status.Set(ctx, productID, scrapestatus.StateRunning, "")
			total++
		}
	}

	if total > 0 {
		s.logger.Info("rescan sweep dispatched", slog.Int("products", total))
	}
}

// printPoolStats 打印派发池统计。
func (s *Scheduler) printPoolStats() {
	stats := s.pool.Stats()
	s.logger.Info("dispatch pool statistics",
		slog.Int("pending", s.pool.Len()),
		slog.Int("capacity", s.pool.Cap()),
		slog.Int64("enqueued", stats.Enqueued),
		slog.Int64("processed", stats.Processed),
		slog.Int64("succeeded", stats.Succeeded),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("panics", stats.Panics),
	)

	if stats.Dropped > 100 {
		s.logger.Warn("high dispatch drop rate detected, consider increasing workers or queue capacity",
			slog.Int64("dropped", stats.Dropped))
	}
}
