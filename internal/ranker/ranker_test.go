package ranker

import (
	"testing"
	"time"

	"pricehawk/internal/model"
)

func entry(id uint, platform string, price float64, at time.Time) model.PriceEntry {
	return model.PriceEntry{
		ID:        id,
		CreatedAt: at,
		Platform:  platform,
		Price:     price,
		Currency:  "USD",
	}
}

func TestLatest_OnePerPlatformMaxTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := []model.PriceEntry{
		entry(1, "AmazonX", 120, base),
		entry(2, "MartY", 90, base.Add(time.Minute)),
		entry(3, "AmazonX", 100, base.Add(2*time.Minute)), // AmazonX 的最新观测
		entry(4, "MartY", 95, base.Add(3*time.Minute)),    // MartY 的最新观测
	}

	latest := Latest(obs)
	if len(latest) != 2 {
		t.Fatalf("expected 2 platforms, got %d", len(latest))
	}
	// 按价格升序：MartY 95 < AmazonX 100
	if latest[0].Platform != "MartY" || latest[0].Price != 95 {
		t.Fatalf("unexpected first entry: %+v", latest[0])
	}
	if latest[1].Platform != "AmazonX" || latest[1].Price != 100 {
		t.Fatalf("unexpected second entry: %+v", latest[1])
	}
}

func TestLatest_TimestampTieKeepsLaterRow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := []model.PriceEntry{
		entry(1, "AmazonX", 100, at),
		entry(2, "AmazonX", 80, at), // 同一时间戳，ID 更大者生效
	}

	latest := Latest(obs)
	if len(latest) != 1 {
		t.Fatalf("expected 1 platform, got %d", len(latest))
	}
	if latest[0].Price != 80 {
		t.Fatalf("expected later row to win, got price %.2f", latest[0].Price)
	}
}

func TestLatest_Empty(t *testing.T) {
	latest := Latest(nil)
	if len(latest) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(latest))
	}
}

func TestCompare_Savings(t *testing.T) {
	latest := []LatestPrice{
		{Platform: "AmazonX", Price: 100},
		{Platform: "MartY", Price: 120},
		{Platform: "ShopZ", Price: 133.333},
	}

	cmp := Compare(latest)
	if cmp.LowestPrice != 100 || cmp.HighestPrice != 133.333 {
		t.Fatalf("unexpected bounds: %+v", cmp)
	}
	if cmp.PlatformCount != 3 {
		t.Fatalf("expected 3 platforms, got %d", cmp.PlatformCount)
	}
	if cmp.Savings != 33.33 {
		t.Fatalf("expected savings rounded to 33.33, got %v", cmp.Savings)
	}
}

func TestCompare_SinglePlatform(t *testing.T) {
	cmp := Compare([]LatestPrice{{Platform: "AmazonX", Price: 49.99}})
	if cmp.LowestPrice != cmp.HighestPrice {
		t.Fatalf("expected equal bounds, got %+v", cmp)
	}
	if cmp.Savings != 0 {
		t.Fatalf("expected zero savings, got %v", cmp.Savings)
	}
	if cmp.PlatformCount != 1 {
		t.Fatalf("expected 1 platform, got %d", cmp.PlatformCount)
	}
}

func TestCompare_Empty(t *testing.T) {
	cmp := Compare(nil)
	if cmp != (Comparison{}) {
		t.Fatalf("expected zero comparison, got %+v", cmp)
	}
}

func TestCheapestPlatform(t *testing.T) {
	latest := []LatestPrice{
		{Platform: "MartY", Price: 90},
		{Platform: "AmazonX", Price: 100},
	}
	if got := CheapestPlatform(latest); got != "MartY" {
		t.Fatalf("expected MartY, got %s", got)
	}
	if got := CheapestPlatform(nil); got != "N/A" {
		t.Fatalf("expected N/A for empty input, got %s", got)
	}
}
