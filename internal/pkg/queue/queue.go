package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pricehawk/internal/pkg/metrics"
)

// Task 一个可执行的派发任务。label 仅用于日志与错误回调。
type Task struct {
	Label string
	Run   func(ctx context.Context) error
}

// FailureHandler 任务失败回调。
type FailureHandler func(label string, err error)

// Pool 固定大小的内存派发池。
//
// 爬虫派发是“发射后不管”的：入队成功只代表任务会被 worker 执行，
// 执行结果通过日志、指标与状态键观测，不回传给入队方。
type Pool struct {
	logger    *slog.Logger
	workers   int
	tasks     chan Task
	onFailure FailureHandler

	wg     sync.WaitGroup
	closed atomic.Bool

	stats poolStats
}

// poolStats 内部统计（atomic 类型）。
type poolStats struct {
	Enqueued  atomic.Int64
	Processed atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Dropped   atomic.Int64
	Panics    atomic.Int64
}

// PoolStats 统计快照（普通值类型，可安全拷贝）。
type PoolStats struct {
	Enqueued  int64
	Processed int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// NewPool 创建派发池。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewPool(logger *slog.Logger, workers int, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		tasks:   make(chan Task, capacity),
	}
}

// SetFailureHandler 设置任务失败回调。
func (p *Pool) SetFailureHandler(handler FailureHandler) {
	p.onFailure = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("dispatch worker stopped", slog.Int("worker_id", id))
			return

		case task, ok := <-p.tasks:
			if !ok {
				p.logger.Debug("dispatch worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			p.updateDepth()
			if task.Run != nil {
				p.execute(ctx, task, id)
			}
		}
	}
}

// execute 执行单个任务，带 panic 恢复。
func (p *Pool) execute(ctx context.Context, task Task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.Panics.Add(1)
			p.logger.Error("dispatch task panic recovered",
				slog.Int("worker_id", workerID),
				slog.String("task", task.Label),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := task.Run(ctx)
	p.stats.Processed.Add(1)

	if err != nil {
		p.stats.Failed.Add(1)
		p.logger.Warn("dispatch task failed",
			slog.Int("worker_id", workerID),
			slog.String("task", task.Label),
			slog.String("error", err.Error()))
		if p.onFailure != nil {
			p.onFailure(task.Label, err)
		}
		return
	}
	p.stats.Succeeded.Add(1)
}

// Enqueue 非阻塞入队，队列已满或已关闭时返回 false。
func (p *Pool) Enqueue(task Task) bool {
	if task.Run == nil {
		return false
	}
	if p.closed.Load() {
		p.logger.Warn("dispatch pool is closed, reject task", slog.String("task", task.Label))
		return false
	}

	select {
	case p.tasks <- task:
		p.stats.Enqueued.Add(1)
		p.updateDepth()
		return true
	default:
		p.stats.Dropped.Add(1)
		if metrics.ScrapeJobsDroppedTotal != nil {
			metrics.ScrapeJobsDroppedTotal.Inc()
		}
		p.logger.Warn("dispatch pool full, drop task",
			slog.String("task", task.Label),
			slog.Int("capacity", cap(p.tasks)),
			slog.Int("pending", len(p.tasks)))
		return false
	}
}

// EnqueueBlocking 阻塞式入队，直到成功或 ctx 被取消。
func (p *Pool) EnqueueBlocking(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task has no run function")
	}
	if p.closed.Load() {
		return fmt.Errorf("dispatch pool is closed")
	}

	select {
	case p.tasks <- task:
		p.stats.Enqueued.Add(1)
		p.updateDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 优雅关闭：拒绝新任务，关闭通道，等待 worker 清空队列。
func (p *Pool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.logger.Info("dispatch pool shutdown initiated, waiting for workers to finish")
		p.wg.Wait()
		p.logger.Info("dispatch pool shutdown completed")
	}
}

// ShutdownWithTimeout 带超时的优雅关闭。
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatch pool already closed")
	}

	close(p.tasks)
	p.logger.Info("dispatch pool shutdown initiated with timeout",
		slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("dispatch pool shutdown completed")
		return nil
	case <-time.After(timeout):
		p.logger.Error("dispatch pool shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 获取统计快照。
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Enqueued:  p.stats.Enqueued.Load(),
		Processed: p.stats.Processed.Load(),
		Succeeded: p.stats.Succeeded.Load(),
		Failed:    p.stats.Failed.Load(),
		Dropped:   p.stats.Dropped.Load(),
		Panics:    p.stats.Panics.Load(),
	}
}

// Len 当前待处理任务数。
func (p *Pool) Len() int {
	return len(p.tasks)
}

// Cap 队列容量。
func (p *Pool) Cap() int {
	return cap(p.tasks)
}

// IsClosed 返回池是否已关闭。
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

func (p *Pool) updateDepth() {
	if metrics.ScrapeQueueDepth != nil {
		metrics.ScrapeQueueDepth.Set(float64(len(p.tasks)))
	}
}

// String 返回池的状态描述。
func (p *Pool) String() string {
	stats := p.Stats()
	return fmt.Sprintf("Pool[workers=%d, capacity=%d, pending=%d, closed=%v, enqueued=%d, processed=%d, succeeded=%d, failed=%d, dropped=%d, panics=%d]",
		p.workers,
		p.Cap(),
		p.Len(),
		p.IsClosed(),
		stats.Enqueued,
		stats.Processed,
		stats.Succeeded,
		stats.Failed,
		stats.Dropped,
		stats.Panics,
	)
}
