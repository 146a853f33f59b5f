package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pricehawk/internal/config"
	"pricehawk/internal/model"
	"pricehawk/internal/pkg/metrics"
	"pricehawk/internal/ranker"
)

// Recommendation 购买建议。
//
// Confidence 始终保持 "NN%" 形式的不透明字符串，核心不做数值归一化。
// AIAvailable 为 false 表示走了确定性兜底路径。
type Recommendation struct {
	BestPlatform   string `json:"bestPlatform"`
	Recommendation string `json:"recommendation"`
	Confidence     string `json:"confidence"`
	Summary        string `json:"summary"`
	Why            string `json:"why"`
	AnalysisDate   string `json:"analysisDate"`
	AIAvailable    bool   `json:"aiAvailable"`
}

// Status 补全服务的可用性探测结果。
type Status struct {
	Available   bool   `json:"available"`
	ModelLoaded bool   `json:"modelLoaded"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	Error       string `json:"error,omitempty"`
}

// Engine 推荐引擎。
//
// 它封装对外部补全服务（Ollama 协议）的调用：构造固定模板的提示词、
// 解析半结构化的文本回复，并在任何外部失败时退化为确定性兜底建议。
// Analyze 永远不向调用方传播外部服务错误。
type Engine struct {
	cfg    *config.OllamaConfig
	logger *slog.Logger
	client *http.Client
}

// NewEngine 创建推荐引擎。
func NewEngine(cfg *config.OllamaConfig, logger *slog.Logger) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// generateRequest Ollama /api/generate 的请求体。
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Analyze 为商品生成购买建议。
//
// 规则：
//  1. latest 为空时直接返回兜底建议，不发起任何外部调用（策略决定，非错误路径）。
//  2. 其余情况调用补全服务；任何网络错误、非 2xx 响应或超时都被就地捕获，
//     转换为兜底建议并仅记录日志。
//  3. 回复文本按字段独立解析，缺失的字段各自取默认值（部分解析成功是常态）。
func (e *Engine) Analyze(ctx context.Context, product *model.Product, latest []ranker.LatestPrice, history []model.PriceEntry) Recommendation {
	if len(latest) == 0 {
		return e.fallback(latest)
	}

	prompt := buildPrompt(product, latest, history)

	start := time.Now()
	reply, err := e.generate(ctx, prompt)
	if metrics.AdvisorLatency != nil {
		metrics.AdvisorLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Warn("completion service unavailable, using fallback recommendation",
			slog.String("product", product.Name),
			slog.String("error", err.Error()))
		if metrics.AdvisorRequestsTotal != nil {
			metrics.AdvisorRequestsTotal.WithLabelValues("fallback").Inc()
		}
		return e.fallback(latest)
	}

	if metrics.AdvisorRequestsTotal != nil {
		metrics.AdvisorRequestsTotal.WithLabelValues("ai").Inc()
	}
	return parseReply(reply, latest)
}

// generate 调用补全服务，返回原始回复文本。
func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	body := generateRequest{
		Model:  e.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: e.cfg.Temperature,
			TopP:        e.cfg.TopP,
			TopK:        e.cfg.TopK,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.cfg.BaseURL, "/")+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return parsed.Response, nil
}

// fallback 确定性兜底建议。
//
// 在补全服务不可用、解析全部失败或没有任何价格数据时使用。
func (e *Engine) fallback(latest []ranker.LatestPrice) Recommendation {
	return Recommendation{
		BestPlatform:   ranker.CheapestPlatform(latest),
		Recommendation: "Buy Now",
		Confidence:     "70%",
		Summary:        defaultSummary(latest),
		Why:            "Lowest price currently detected in the market.",
		AnalysisDate:   time.Now().Format(time.RFC3339),
		AIAvailable:    false,
	}
}

// CheckStatus 探测补全服务是否在线、模型是否已加载。
func (e *Engine) CheckStatus(ctx context.Context) Status {
	status := Status{URL: e.cfg.BaseURL, Model: e.cfg.Model}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		strings.TrimRight(e.cfg.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	resp, err := e.client.Do(req)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return status
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		status.Error = err.Error()
		return status
	}

	status.Available = true
	for _, m := range tags.Models {
		if strings.Contains(m.Name, e.cfg.Model) {
			status.ModelLoaded = true
			break
		}
	}
	return status
}
