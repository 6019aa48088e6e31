//go:build integration
// +build integration

package execution

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

func TestDeskIntegration_SandboxRestingLimit(t *testing.T) {
	configPath := os.Getenv("TRADES_CONFIG")
	if configPath == "" {
		configPath = "../../configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if !cfg.Exchange.UseSandbox {
		t.Skip("exchange.use_sandbox=false，出于安全考虑跳过真实下单测试")
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		t.Skip("缺少交易所 API 凭证，跳过测试")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := exchange.NewClient(cfg.Exchange, cfg.Gateway.Breaker, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化交易所客户端失败: %v", err)
	}
	gateway := exchange.NewLimitedGateway(client, cfg.Gateway.RateLimit, cfg.Gateway.Burst)
	validator := validation.NewValidator(ctx, gateway, validation.LimitsFromConfig(cfg.Limits), zap.NewNop())
	desk := NewDesk(gateway, validator, nil, zap.NewNop())

	const symbol = "BTCUSDT"
	price, err := desk.Price(ctx, symbol)
	if err != nil {
		t.Fatalf("获取价格失败: %v", err)
	}
	if !price.IsPositive() {
		t.Fatalf("无法解析有效市场价格")
	}

	// 远离盘口的买单不会成交。
	resting := price.Mul(decimal.RequireFromString("0.7")).Round(1)
	order, err := desk.PlaceLimit(ctx, symbol, exchange.SideBuy, decimal.RequireFromString("0.002"), resting, exchange.TimeInForceGTC, Options{})
	if err != nil {
		t.Fatalf("限价单提交失败: %v", err)
	}
	t.Logf("已提交 %s", order)

	open, err := desk.OpenOrders(ctx, symbol)
	if err != nil {
		t.Fatalf("查询挂单失败: %v", err)
	}
	found := false
	for _, o := range open {
		if o.OrderID == order.OrderID {
			found = true
		}
	}
	if !found {
		t.Errorf("挂单列表中缺少 %s", order.OrderID)
	}

	if err := desk.Cancel(ctx, symbol, order.OrderID); err != nil {
		t.Fatalf("撤单失败: %v", err)
	}
}
