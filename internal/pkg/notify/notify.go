package notify

import (
	"context"

	"pricehawk/internal/model"
)

// PriceDropAlert 降价提醒的内容。
type PriceDropAlert struct {
	Product  *model.Product
	Platform string
	OldPrice float64
	NewPrice float64
	Currency string
}

// Notifier 定义降价提醒接口。
type Notifier interface {
	// SendPriceDrop 发送降价提醒。
	//
	// 参数:
	//   ctx: 上下文
	//   alert: 提醒内容
	//   toEmail: 接收邮箱
	SendPriceDrop(ctx context.Context, alert PriceDropAlert, toEmail string) error
}
