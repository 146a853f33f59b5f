package crawler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var priceRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// ParsePrice 从价格元素文本中提取数值。
//
// 能处理 "₹1,29,999"、"$12.99"、"Rs. 499" 这类带货币符号与千分位的文本。
// 找不到数字或数值非正时返回错误。
func ParsePrice(text string) (float64, error) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no numeric price in %q", text)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", m, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive price %v in %q", v, text)
	}
	return v, nil
}

// DetectCurrency 根据价格文本判断货币，识别不了时返回 INR。
func DetectCurrency(text string) string {
	switch {
	case strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	case strings.Contains(text, "¥"):
		return "JPY"
	default:
		// ₹ 与 "Rs." 以及无符号文本都归到 INR
		return "INR"
	}
}
