package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pricehawk/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件降价提醒。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendPriceDrop 发送降价提醒邮件。
//
// SMTP 未配置或收件人为空时静默跳过（提醒是可选能力，不算错误）。
func (n *EmailNotifier) SendPriceDrop(ctx context.Context, alert PriceDropAlert, toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip price drop alert")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip price drop alert")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[PriceHawk] 📉 Price drop: %s", alert.Product.Name))
	m.SetBody("text/html", n.buildHTMLBody(alert))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("price drop alert sent",
		slog.String("to", toEmail),
		slog.String("product", alert.Product.Name),
		slog.String("platform", alert.Platform))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(alert PriceDropAlert) string {
	currency := alert.Currency
	if currency == "" {
		currency = "USD"
	}
	priceLine := fmt.Sprintf("%s %.2f → %s %.2f 📉", currency, alert.OldPrice, currency, alert.NewPrice)
	savings := alert.OldPrice - alert.NewPrice

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[PriceHawk] 📉 Price Drop Alert</div>
    <div class="content">
      <div class="title">%s on %s</div>
      <div class="price">%s</div>
      <div>You save %s %.2f compared to the previous price on this platform.</div>
      <div class="footer">Tracked by PriceHawk.</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, alert.Product.Name, alert.Platform, priceLine, currency, savings)
}
