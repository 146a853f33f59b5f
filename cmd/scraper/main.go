package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pricehawk/internal/config"
	"pricehawk/internal/crawler"
	"pricehawk/internal/pkg/logger"
	"pricehawk/internal/pkg/ratelimit"

	"github.com/redis/go-redis/v9"
)

// main 是爬虫进程的入口函数。
//
// 它是一个一次性进程：抓取指定商品在所有平台的价格，
// 逐条回传给 API 服务后退出。任一平台回传成功则退出码为 0。
func main() {
	var (
		productName = flag.String("product-name", "", "product to scrape")
		endpoint    = flag.String("endpoint", "", "ingest endpoint URL")
	)
	flag.Parse()

	if strings.TrimSpace(*productName) == "" {
		log.Fatal("--product-name is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *endpoint == "" {
		*endpoint = cfg.Scraper.IngestURL
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis 可达时启用分布式限速，否则只靠抖动控制节奏
	var limiter *ratelimit.Limiter
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		appLogger.Warn("redis unreachable, scraping without distributed rate limit",
			slog.String("error", err.Error()))
	} else {
		limiter = ratelimit.New(rdb, "pricehawk:ratelimit:crawl", cfg.App.RateLimit, cfg.App.RateBurst)
	}
	pingCancel()
	defer rdb.Close()

	service := crawler.NewService(cfg, appLogger, limiter)
	if err := service.Start(ctx); err != nil {
		appLogger.Error("start browser failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer service.Close()

	quotes := service.Crawl(ctx, *productName)
	if len(quotes) == 0 {
		appLogger.Error("no prices found", slog.String("product", *productName))
		os.Exit(1)
	}

	sender := crawler.NewIngestSender(*endpoint, appLogger)
	reported := 0
	for _, quote := range quotes {
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := sender.Send(sendCtx, crawler.IngestPayload{
			ProductName: *productName,
			Platform:    string(quote.Platform),
			Price:       quote.Price,
			Currency:    quote.Currency,
		})
		cancel()
		if err != nil {
			appLogger.Error("report price failed",
				slog.String("platform", string(quote.Platform)),
				slog.String("error", err.Error()))
			continue
		}
		reported++
	}

	if reported == 0 {
		appLogger.Error("all price reports failed", slog.String("product", *productName))
		os.Exit(1)
	}
	appLogger.Info("scrape completed",
		slog.String("product", *productName),
		slog.Int("reported", reported))
}
