package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// IngestPayload 回传给 API 服务的单条价格观测。
type IngestPayload struct {
	ProductName string  `json:"productName"`
	Platform    string  `json:"platform"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

// IngestSender 把抓到的价格 POST 回 API 服务的 ingest 入口。
type IngestSender struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewIngestSender 创建回传客户端。
func NewIngestSender(endpoint string, logger *slog.Logger) *IngestSender {
	return &IngestSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Send 回传一条价格观测，非 2xx 响应视为失败。
func (s *IngestSender) Send(ctx context.Context, payload IngestPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ingest payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post ingest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest endpoint returned status %d", resp.StatusCode)
	}

	s.logger.Info("price reported",
		slog.String("product", payload.ProductName),
		slog.String("platform", payload.Platform),
		slog.Float64("price", payload.Price))
	return nil
}
