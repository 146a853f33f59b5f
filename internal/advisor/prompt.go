package advisor

import (
	"fmt"
	"strings"

	"pricehawk/internal/model"
	"pricehawk/internal/ranker"
)

// buildPrompt 构造固定模板的分析提示词。
//
// 模板要求模型按五行标签格式回复，便于 parseReply 逐字段提取。
// 历史记录最多带最近 10 条，避免提示词无界增长。
func buildPrompt(product *model.Product, latest []ranker.LatestPrice, history []model.PriceEntry) string {
	var b strings.Builder

	b.WriteString("You are a professional retail analyst. Analyze the following product pricing data and provide a recommendation.\n\n")
	fmt.Fprintf(&b, "Product: %s\n\n", product.Name)

	b.WriteString("Current Prices:\n")
	for _, p := range latest {
		fmt.Fprintf(&b, "- %s: %s %.2f\n", p.Platform, p.Currency, p.Price)
	}

	if len(latest) > 0 {
		cmp := ranker.Compare(latest)
		currency := latest[0].Currency
		if currency == "" {
			currency = "USD"
		}
		fmt.Fprintf(&b, "\nHighest Price: %s %.2f\n", currency, cmp.HighestPrice)
		fmt.Fprintf(&b, "Lowest Price: %s %.2f\n", currency, cmp.LowestPrice)
		fmt.Fprintf(&b, "Price Gap: %s %.2f\n", currency, cmp.Savings)
	}

	if len(history) > 0 {
		b.WriteString("\nRecent Price History:\n")
		limit := len(history)
		if limit > 10 {
			limit = 10
		}
		for _, h := range history[:limit] {
			fmt.Fprintf(&b, "- %s: %s %.2f (%s)\n",
				h.Platform, h.Currency, h.Price, h.CreatedAt.Format("2006-01-02"))
		}
	}

	b.WriteString(`
Respond in EXACTLY this format:
BEST_PLATFORM: <platform name with the best deal>
RECOMMENDATION: <Buy Now or Wait>
CONFIDENCE: <confidence as a percentage, e.g. 85%>
SUMMARY: <one or two sentence summary of the price situation>
WHY: <short reason for the recommendation>
`)
	return b.String()
}
