package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"pricehawk/internal/config"
	"pricehawk/internal/pkg/metrics"
)

// Outcome 一次爬虫进程运行的结果。
//
// 注意区分两类失败：进程启动成功但以非零码退出属于 Outcome 层的失败
// （Success=false），Trigger 仍返回 nil error；只有进程根本无法启动
// 时 Trigger 才返回 error。
type Outcome struct {
	Success  bool
	TimedOut bool
	ExitCode int
	Output   string
	Error    string
	Duration time.Duration
}

// Orchestrator 负责派发外部爬虫进程。
//
// 每次 Trigger 启动一个独立的爬虫进程，传入商品名与回传端点；
// 进程通过 HTTP 回调把价格写回服务端，编排器本身不解析价格。
type Orchestrator struct {
	cfg    *config.ScraperConfig
	logger *slog.Logger
}

// NewOrchestrator 创建进程编排器。
func NewOrchestrator(cfg *config.ScraperConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Trigger 同步运行一次爬虫进程并等待其退出。
//
// 超过配置的墙钟超时（默认 60s）时强杀整个进程组并标记 TimedOut。
// 进程组而非单个子进程：python3 这类解释器会再派生浏览器等子进程，
// 它们继承了输出管道，只杀直接子进程会让 Wait 一直阻塞。
// stdout/stderr 增量收集；超时被杀时已产生的输出被丢弃，
// TimedOut 结果不携带任何部分成功的数据。
func (o *Orchestrator) Trigger(ctx context.Context, productName string) (*Outcome, error) {
	timeout := o.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(o.scriptArgs(),
		"--product-name", productName,
		"--endpoint", o.cfg.IngestURL,
	)
	cmd := exec.CommandContext(runCtx, o.cfg.Command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// 进程组里有杀不掉的残留时也要释放 Wait
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	o.logger.Info("starting scrape process",
		slog.String("product", productName),
		slog.String("command", o.cfg.Command))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start scrape process: %w", err)
	}
	err := cmd.Wait()
	elapsed := time.Since(start)

	if metrics.ScrapeDuration != nil {
		metrics.ScrapeDuration.Observe(elapsed.Seconds())
	}

	outcome := &Outcome{
		Output:   stdout.String(),
		Duration: elapsed,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		outcome.Output = ""
		outcome.Error = fmt.Sprintf("scrape process killed after %s", timeout)
		o.logger.Warn("scrape process timed out",
			slog.String("product", productName),
			slog.Duration("timeout", timeout))
		return outcome, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			outcome.Error = stderr.String()
			o.logger.Warn("scrape process exited with failure",
				slog.String("product", productName),
				slog.Int("exit_code", outcome.ExitCode),
				slog.String("stderr", truncate(outcome.Error, 512)))
			return outcome, nil
		}
		return nil, fmt.Errorf("wait for scrape process: %w", err)
	}

	outcome.Success = true
	o.logger.Info("scrape process completed",
		slog.String("product", productName),
		slog.Duration("duration", elapsed))
	return outcome, nil
}

// Available 检查爬虫命令是否可运行（用于健康检查）。
func (o *Orchestrator) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(checkCtx, o.cfg.Command, "--version").Run() == nil
}

// scriptArgs 组装脚本参数。Command 本身就是可执行爬虫时 Script 可为空。
func (o *Orchestrator) scriptArgs() []string {
	if o.cfg.Script == "" {
		return nil
	}
	return []string{o.cfg.Script}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
