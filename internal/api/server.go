package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pricehawk/internal/advisor"
	"pricehawk/internal/api/middleware"
	"pricehawk/internal/api/scheduler"
	"pricehawk/internal/config"
	"pricehawk/internal/model"
	"pricehawk/internal/pkg/metrics"
	"pricehawk/internal/pkg/notify"
	"pricehawk/internal/pkg/ratelimit"
	"pricehawk/internal/pkg/scrapestatus"
	"pricehawk/internal/ranker"
	"pricehawk/internal/scraper"
	"pricehawk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、爬虫派发调度器以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *gorm.DB
	rdb        *redis.Client
	router     *gin.Engine
	sched      *scheduler.Scheduler
	store      ProductStore
	dispatcher Dispatcher
	advisor    Advisor
	status     StatusReader
	limiter    IngestLimiter
	notifier   notify.Notifier
}

// ProductStore 商品与价格的持久化能力。
type ProductStore interface {
	FindByID(ctx context.Context, id uint) (*model.Product, error)
	FindByName(ctx context.Context, name string) (*model.Product, error)
	FindOrCreate(ctx context.Context, name, url string) (*model.Product, error)
	List(ctx context.Context) ([]model.Product, error)
	Append(ctx context.Context, entry *model.PriceEntry) error
	Observations(ctx context.Context, productID uint) ([]model.PriceEntry, error)
	History(ctx context.Context, productID uint, platform string, limit int) ([]model.PriceEntry, error)
	LatestForPlatform(ctx context.Context, productID uint, platform string) (*model.PriceEntry, error)
}

// Dispatcher 爬虫派发入口（发射后不管）。
type Dispatcher interface {
	TriggerScrape(ctx context.Context, product *model.Product) bool
}

// Advisor 购买建议引擎。
type Advisor interface {
	Analyze(ctx context.Context, product *model.Product, latest []ranker.LatestPrice, history []model.PriceEntry) advisor.Recommendation
	CheckStatus(ctx context.Context) advisor.Status
}

// StatusReader 派发状态的读取端。
type StatusReader interface {
	Get(ctx context.Context, productID uint) (scrapestatus.Status, bool, error)
}

// IngestLimiter ingest 入口的限流判定。
type IngestLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化爬虫派发调度器、推荐引擎与限流器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	productStore, err := store.New(db)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	recorder := scrapestatus.NewRecorder(rdb, logger)
	orchestrator := scraper.NewOrchestrator(&cfg.Scraper, logger)
	sched := scheduler.New(
		productStore,
		orchestrator,
		recorder,
		logger,
		cfg.App.ScheduleInterval,
		cfg.App.WorkerPoolSize,
		cfg.App.QueueCapacity,
		cfg.App.ScheduleBatch,
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		router:     r,
		sched:      sched,
		store:      productStore,
		dispatcher: sched,
		advisor:    advisor.NewEngine(&cfg.Ollama, logger),
		status:     recorder,
		limiter:    ratelimit.New(rdb, "pricehawk:ratelimit:ingest", cfg.App.RateLimit, cfg.App.RateBurst),
		notifier:   notify.NewEmailNotifier(&cfg.Email, logger),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 启动重扫调度循环。
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in scrape scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil {
			if firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/products", s.handleTrackProduct)
	s.router.GET("/products", s.handleListProducts)
	s.router.GET("/prices", s.handlePrices)
	s.router.GET("/history", s.handleHistory)
	s.router.GET("/ai-status", s.handleAIStatus)
	s.router.POST("/ingest", s.handleIngest)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// trackProductRequest 追踪商品的请求参数。
type trackProductRequest struct {
	Name string `json:"name" binding:"required"`
	URL  string `json:"url"`
}

// ingestRequest 爬虫进程回传价格的请求参数。
//
// Price 用指针区分“缺失”和“显式的 0”：缺失是 400，0 是合法观测。
type ingestRequest struct {
	ProductName string   `json:"productName" binding:"required"`
	ProductURL  string   `json:"productUrl"`
	Platform    string   `json:"platform" binding:"required"`
	Price       *float64 `json:"price" binding:"required"`
	Currency    string   `json:"currency"`
}

// comparisonResponse 对比汇总。Savings 固定两位小数的字符串。
type comparisonResponse struct {
	LowestPrice   float64 `json:"lowestPrice"`
	HighestPrice  float64 `json:"highestPrice"`
	PlatformCount int     `json:"platformCount"`
	Savings       string  `json:"savings"`
}

// handleTrackProduct 登记一个待追踪商品并触发首次抓取。
//
// 抓取是发射后不管的：无论派发是否被接受，只要商品落库成功就返回 201。
func (s *Server) handleTrackProduct(c *gin.Context) {
	var req trackProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 || len(name) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be between 2 and 255 characters"})
		return
	}
	if req.URL != "" {
		parsed, err := url.Parse(req.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url must be a valid http(s) URL"})
			return
		}
	}

	product, err := s.store.FindOrCreate(c.Request.Context(), name, req.URL)
	if err != nil {
		s.logger.Error("track product failed", slog.String("name", name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to track product"})
		return
	}

	s.dispatcher.TriggerScrape(c.Request.Context(), product)

	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// handleListProducts 返回所有已追踪商品，按创建时间倒序。
func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list products failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// handlePrices 商品读取路径：最新价格、对比汇总、购买建议与近期历史。
//
// 该路径不会等待抓取完成：没有任何观测时返回空价格列表与兜底建议。
// 客户端约定以 2-5 秒间隔轮询（建议上限 30 次），价格非空即停止。
func (s *Server) handlePrices(c *gin.Context) {
	ctx := c.Request.Context()

	product, ok := s.resolveProduct(c)
	if !ok {
		return
	}

	observations, err := s.store.Observations(ctx, product.ID)
	if err != nil {
		s.logger.Error("load observations failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load prices"})
		return
	}

	latest := ranker.Latest(observations)
	comparison := ranker.Compare(latest)

	historyLimit := s.cfg.App.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 30
	}
	history, err := s.store.History(ctx, product.ID, "", historyLimit)
	if err != nil {
		s.logger.Error("load history failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load price history"})
		return
	}

	recommendation := s.advisor.Analyze(ctx, product, latest, history)

	var scrapeStatus *scrapestatus.Status
	if s.status != nil {
		if status, found, err := s.status.Get(ctx, product.ID); err != nil {
			s.logger.Warn("load scrape status failed",
				slog.Uint64("product_id", uint64(product.ID)),
				slog.String("error", err.Error()))
		} else if found {
			scrapeStatus = &status
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"product": product,
		"prices":  latest,
		"comparison": comparisonResponse{
			LowestPrice:   comparison.LowestPrice,
			HighestPrice:  comparison.HighestPrice,
			PlatformCount: comparison.PlatformCount,
			Savings:       fmt.Sprintf("%.2f", comparison.Savings),
		},
		"recommendation": recommendation,
		"history":        history,
		"scrapeStatus":   scrapeStatus,
	})
}

// handleHistory 返回商品的价格历史，可按平台过滤。
func (s *Server) handleHistory(c *gin.Context) {
	product, ok := s.resolveProduct(c)
	if !ok {
		return
	}

	limit := s.cfg.App.HistoryLimit
	if limit <= 0 {
		limit = 30
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	history, err := s.store.History(c.Request.Context(), product.ID, c.Query("platform"), limit)
	if err != nil {
		s.logger.Error("load history failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load price history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product": product,
		"history": history,
	})
}

// handleAIStatus 返回补全服务的可用性。
func (s *Server) handleAIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.advisor.CheckStatus(c.Request.Context()))
}

// handleIngest 爬虫进程的价格回传入口。
//
// 写入在响应前已持久化。若新价格低于该平台此前的最新价，异步发送降价提醒。
func (s *Server) handleIngest(c *gin.Context) {
	ctx := c.Request.Context()

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx)
		if err != nil {
			s.logger.Warn("ingest rate limit check failed", slog.String("error", err.Error()))
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productName, platform and price are required"})
		return
	}

	name := strings.TrimSpace(req.ProductName)
	platform := strings.TrimSpace(req.Platform)
	if name == "" || platform == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productName, platform and price are required"})
		return
	}
	price := *req.Price
	if price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be non-negative"})
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency must be a 3-letter code"})
		return
	}

	product, err := s.store.FindOrCreate(ctx, name, req.ProductURL)
	if err != nil {
		s.logger.Error("ingest find or create failed", slog.String("name", name), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store price"})
		return
	}

	previous, err := s.store.LatestForPlatform(ctx, product.ID, platform)
	if err != nil {
		s.logger.Warn("load previous price failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("platform", platform),
			slog.String("error", err.Error()))
	}

	entry := &model.PriceEntry{
		ProductID: product.ID,
		Platform:  platform,
		Price:     price,
		Currency:  currency,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		s.logger.Error("append price failed",
			slog.Uint64("product_id", uint64(product.ID)),
			slog.String("platform", platform),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store price"})
		return
	}

	if metrics.IngestTotal != nil {
		metrics.IngestTotal.Inc()
	}
	s.logger.Info("price ingested",
		slog.Uint64("product_id", uint64(product.ID)),
		slog.String("product", product.Name),
		slog.String("platform", platform),
		slog.Float64("price", price))

	if previous != nil && price < previous.Price {
		s.sendPriceDropAlert(product, platform, previous.Price, price, currency)
	}

	c.JSON(http.StatusOK, gin.H{
		"productId": product.ID,
		"platform":  platform,
		"price":     price,
		"currency":  currency,
	})
}

// sendPriceDropAlert 异步发送降价提醒。提醒失败只记日志。
func (s *Server) sendPriceDropAlert(product *model.Product, platform string, oldPrice, newPrice float64, currency string) {
	toEmail := s.cfg.App.AlertEmail
	if s.notifier == nil || toEmail == "" {
		return
	}
	if metrics.PriceDropAlertsTotal != nil {
		metrics.PriceDropAlertsTotal.Inc()
	}

	alert := notify.PriceDropAlert{
		Product:  product,
		Platform: platform,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Currency: currency,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.SendPriceDrop(ctx, alert, toEmail); err != nil {
			s.logger.Warn("price drop alert failed",
				slog.String("product", product.Name),
				slog.String("error", err.Error()))
		}
	}()
}

// resolveProduct 从 ?product= 参数解析商品：纯数字按 ID，否则按名称。
func (s *Server) resolveProduct(c *gin.Context) (*model.Product, bool) {
	raw := strings.TrimSpace(c.Query("product"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product query parameter is required"})
		return nil, false
	}

	var (
		product *model.Product
		err     error
	)
	if id, parseErr := strconv.ParseUint(raw, 10, 32); parseErr == nil {
		product, err = s.store.FindByID(c.Request.Context(), uint(id))
	} else {
		product, err = s.store.FindByName(c.Request.Context(), raw)
	}

	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("resolve product failed", slog.String("product", raw), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load product"})
		return nil, false
	}
	return product, true
}
