package scrapestatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// 爬虫派发的生命周期状态。
const (
	StateRunning  = "running"
	StateSuccess  = "success"
	StateFailed   = "failed"
	StateTimeout  = "timeout"
	StateRejected = "rejected"
)

const (
	statusKeyPrefix  = "pricehawk:scrape:status:"
	messageKeyPrefix = "pricehawk:scrape:message:"
	statusTTL        = 24 * time.Hour
)

// Status 某商品最近一次爬虫派发的状态。
type Status struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// Recorder 把每个商品最近一次派发的状态写入 Redis。
//
// 派发是发射后不管的，这里就是调用方观测结果的通道之一。
// 状态键带 24h TTL，过期视为“最近没有派发”。
type Recorder struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRecorder 创建状态记录器。
func NewRecorder(rdb *redis.Client, logger *slog.Logger) *Recorder {
	return &Recorder{rdb: rdb, logger: logger}
}

// Set 记录商品的派发状态。Redis 故障只记日志，不影响派发流程。
func (r *Recorder) Set(ctx context.Context, productID uint, state, message string) {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, statusKey(productID), state, statusTTL)
	if message != "" {
		pipe.Set(ctx, messageKey(productID), message, statusTTL)
	} else {
		pipe.Del(ctx, messageKey(productID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to record scrape status",
			slog.Uint64("product_id", uint64(productID)),
			slog.String("state", state),
			slog.String("error", err.Error()))
	}
}

// Get 读取商品的派发状态。键不存在（从未派发或已过期）时返回 ok=false。
func (r *Recorder) Get(ctx context.Context, productID uint) (Status, bool, error) {
	state, err := r.rdb.Get(ctx, statusKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("read scrape status: %w", err)
	}

	message, err := r.rdb.Get(ctx, messageKey(productID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, false, fmt.Errorf("read scrape status message: %w", err)
	}
	return Status{State: state, Message: message}, true, nil
}

func statusKey(productID uint) string {
	return fmt.Sprintf("%s%d", statusKeyPrefix, productID)
}

func messageKey(productID uint) string {
	return fmt.Sprintf("%s%d", messageKeyPrefix, productID)
}
