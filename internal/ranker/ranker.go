package ranker

import (
	"math"
	"sort"

	"pricehawk/internal/model"
)

// LatestPrice 某平台当前生效的价格（该平台时间戳最大的观测）。
type LatestPrice struct {
	Platform  string  `json:"platform"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Timestamp string  `json:"timestamp"`
}

// Comparison 跨平台价格对比汇总。
//
// latest 为空时所有字段为零值。单平台时最高价等于最低价，节省额为 0。
type Comparison struct {
	LowestPrice   float64 `json:"lowestPrice"`
	HighestPrice  float64 `json:"highestPrice"`
	PlatformCount int     `json:"platformCount"`
	Savings       float64 `json:"savings"`
}

// Latest 从观测全集中提取每个平台的最新价格，按价格升序返回。
//
// 分组规则：每个平台保留 CreatedAt 最大的观测；时间戳相同时保留
// 插入更晚的记录（ID 更大者）。观测为空时返回空切片。
func Latest(observations []model.PriceEntry) []LatestPrice {
	byPlatform := make(map[string]model.PriceEntry, len(observations))
	for _, obs := range observations {
		cur, ok := byPlatform[obs.Platform]
		if !ok {
			byPlatform[obs.Platform] = obs
			continue
		}
		if obs.CreatedAt.After(cur.CreatedAt) ||
			(obs.CreatedAt.Equal(cur.CreatedAt) && obs.ID > cur.ID) {
			byPlatform[obs.Platform] = obs
		}
	}

	latest := make([]LatestPrice, 0, len(byPlatform))
	for _, obs := range byPlatform {
		latest = append(latest, LatestPrice{
			Platform:  obs.Platform,
			Price:     obs.Price,
			Currency:  obs.Currency,
			Timestamp: obs.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sort.SliceStable(latest, func(i, j int) bool {
		return latest[i].Price < latest[j].Price
	})
	return latest
}

// Compare 基于升序的 LatestPrice 列表计算对比汇总。
func Compare(latest []LatestPrice) Comparison {
	if len(latest) == 0 {
		return Comparison{}
	}
	lowest := latest[0].Price
	highest := latest[len(latest)-1].Price
	return Comparison{
		LowestPrice:   lowest,
		HighestPrice:  highest,
		PlatformCount: len(latest),
		Savings:       round2(highest - lowest),
	}
}

// CheapestPlatform 返回价格最低的平台名，列表为空时返回 "N/A"。
func CheapestPlatform(latest []LatestPrice) string {
	if len(latest) == 0 {
		return "N/A"
	}
	cheapest := latest[0]
	for _, p := range latest[1:] {
		if p.Price < cheapest.Price {
			cheapest = p
		}
	}
	return cheapest.Platform
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
