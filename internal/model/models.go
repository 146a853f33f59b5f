package model

import (
	"time"
)

// Product 表示一个被追踪的商品。
//
// Name 是业务上的唯一键（大小写敏感）。商品有两条创建路径：
// 用户发起追踪请求，或爬虫回调首次上报一个未知的商品名。
// 核心逻辑不会删除商品。
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 商品唯一标识
	CreatedAt time.Time `json:"created_at"`           // 首次追踪时间

	Name string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"` // 商品名（唯一业务键）
	URL  string `json:"url"`                                                // 商品链接（可选，自由格式）
}

// PriceEntry 表示一次价格观测记录。
//
// 价格历史是只追加的日志：核心逻辑不更新也不删除记录，
// 重复上报同一 (平台, 价格) 只会追加新的观测。
type PriceEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"timestamp"` // 观测时间（随插入单调递增）

	ProductID uint    `gorm:"index;not null" json:"-"`                     // 所属商品 ID
	Platform  string  `gorm:"type:varchar(191);not null" json:"platform"`  // 平台名（零售商，自由文本）
	Price     float64 `gorm:"not null" json:"price"`                       // 价格（非负）
	Currency  string  `gorm:"type:varchar(3);default:USD" json:"currency"` // 货币代码（3 字母）
}
