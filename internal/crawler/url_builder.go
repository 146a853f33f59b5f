package crawler

import (
	"net/url"
	"strings"
)

// Platform 爬虫支持的电商平台。
type Platform string

const (
	PlatformAmazon   Platform = "Amazon"
	PlatformFlipkart Platform = "Flipkart"
)

// Platforms 默认抓取的平台列表。
func Platforms() []Platform {
	return []Platform{PlatformAmazon, PlatformFlipkart}
}

// BuildSearchURL 构造平台搜索页面的 URL。
//
// 参数:
//
//	platform: 平台标识
//	query: 商品名称
//
// 返回值:
//
//	string: 完整的搜索 URL，未知平台返回空串
func BuildSearchURL(platform Platform, query string) string {
	q := strings.TrimSpace(query)
	switch platform {
	case PlatformAmazon:
		values := url.Values{}
		values.Set("k", q)
		return "https://www.amazon.in/s?" + values.Encode()
	case PlatformFlipkart:
		values := url.Values{}
		values.Set("q", q)
		return "https://www.flipkart.com/search?" + values.Encode()
	default:
		return ""
	}
}

// priceSelector 返回平台搜索结果页上首个商品价格元素的选择器。
func priceSelector(platform Platform) string {
	switch platform {
	case PlatformAmazon:
		return `div[data-component-type="s-search-result"] span.a-price span.a-offscreen`
	case PlatformFlipkart:
		return `div[data-id] div._30jeq3`
	default:
		return ""
	}
}
