package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"trades-algo/internal/exchange"
)

// Trader 抽象单笔委托操作。App 对外只暴露此接口，命令行经由它下单。
type Trader interface {
	PlaceMarket(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, opts Options) (exchange.OrderResult, error)
	PlaceLimit(ctx context.Context, symbol string, side exchange.Side, quantity, price decimal.Decimal, tif exchange.TimeInForce, opts Options) (exchange.OrderResult, error)
	PlaceStopLimit(ctx context.Context, symbol string, side exchange.Side, quantity, stop, limit decimal.Decimal, opts Options) (exchange.OrderResult, error)
	Place(ctx context.Context, ticket Ticket, opts Options) (exchange.OrderResult, error)
	OpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

var _ Trader = (*Desk)(nil)
