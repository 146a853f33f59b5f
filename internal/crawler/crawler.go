package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"pricehawk/internal/config"
	"pricehawk/internal/pkg/ratelimit"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	pageTimeout    = 25 * time.Second
	jitterMinDelay = 500 * time.Millisecond
	jitterMaxDelay = 2 * time.Second
	defaultUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Quote 一次抓取得到的平台报价。
type Quote struct {
	Platform Platform
	Price    float64
	Currency string
}

// Service 基于无头浏览器的价格抓取服务。
//
// 每个商品打开各平台的搜索页，取首个搜索结果的价格。
// limiter 可为 nil（无 Redis 时退化为仅靠随机抖动控制节奏）。
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	browser *rod.Browser
}

// NewService 创建抓取服务（浏览器在 Start 时才启动）。
func NewService(cfg *config.Config, logger *slog.Logger, limiter *ratelimit.Limiter) *Service {
	return &Service{cfg: cfg, logger: logger, limiter: limiter}
}

// Start 启动浏览器实例。
func (s *Service) Start(ctx context.Context) error {
	l := launcher.New().
		Headless(s.cfg.Browser.Headless).
		NoSandbox(true)
	if s.cfg.Browser.BinPath != "" {
		l = l.Bin(s.cfg.Browser.BinPath)
	}
	if s.cfg.Browser.ProxyURL != "" {
		l = l.Proxy(s.cfg.Browser.ProxyURL)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser
	s.logger.Info("browser started", slog.Bool("headless", s.cfg.Browser.Headless))
	return nil
}

// Close 关闭浏览器。
func (s *Service) Close() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("close browser failed", slog.String("error", err.Error()))
		}
	}
}

// Crawl 依次抓取所有平台，返回拿到的报价。
//
// 单个平台失败只记日志，不影响其余平台；全部失败时返回空切片。
func (s *Service) Crawl(ctx context.Context, productName string) []Quote {
	quotes := make([]Quote, 0, len(Platforms()))
	for _, platform := range Platforms() {
		if s.limiter != nil {
			if err := s.limiter.Acquire(ctx); err != nil {
				s.logger.Warn("rate limit wait aborted",
					slog.String("platform", string(platform)),
					slog.String("error", err.Error()))
				return quotes
			}
		}

		quote, err := s.FetchPrice(ctx, platform, productName)
		if err != nil {
			s.logger.Warn("platform scrape failed",
				slog.String("product", productName),
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()))
			continue
		}
		quotes = append(quotes, *quote)
	}
	return quotes
}

// FetchPrice 抓取单个平台的首个搜索结果价格。
//
// 流程：
// 1. 构建搜索 URL
// 2. 打开新标签页并注入 stealth 脚本
// 3. 导航并等待价格元素出现
// 4. 解析价格文本
func (s *Service) FetchPrice(ctx context.Context, platform Platform, productName string) (*Quote, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("browser not started")
	}

	searchURL := BuildSearchURL(platform, productName)
	if searchURL == "" {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}

	// 随机抖动，降低被识别为爬虫的风险
	jitter := jitterMinDelay + time.Duration(rand.Int63n(int64(jitterMaxDelay-jitterMinDelay)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}

	page = page.Timeout(pageTimeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUA}); err != nil {
		s.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	// 屏蔽高带宽资源，价格抓取不需要图片和媒体
	if err := (proto.NetworkSetBlockedURLs{Urls: []string{
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
		"*.woff", "*.woff2", "*.ttf",
		"*.mp4", "*.webm",
	}}).Call(page); err != nil {
		s.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}

	s.logger.Info("loading search page",
		slog.String("platform", string(platform)),
		slog.String("url", searchURL))

	if err := page.Navigate(searchURL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		s.logger.Warn("WaitLoad failed, continuing anyway",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()))
	}

	el, err := page.Element(priceSelector(platform))
	if err != nil {
		return nil, fmt.Errorf("find price element: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return nil, fmt.Errorf("read price text: %w", err)
	}

	price, err := ParsePrice(text)
	if err != nil {
		return nil, err
	}

	s.logger.Info("price extracted",
		slog.String("product", productName),
		slog.String("platform", string(platform)),
		slog.Float64("price", price))

	return &Quote{
		Platform: platform,
		Price:    price,
		Currency: DetectCurrency(text),
	}, nil
}
