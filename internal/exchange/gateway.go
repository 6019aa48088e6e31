package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway 抽象委托提交、撤单与行情查询，实盘与模拟各有一份实现。
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// ListOpenOrders 在 symbol 为空时返回全部挂单。
	ListOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SymbolCatalog 由能够提供交易对清单的网关实现。
type SymbolCatalog interface {
	Symbols(ctx context.Context) ([]string, error)
}

// OrderLookup 由能够按 ID 查询委托的网关实现。
type OrderLookup interface {
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
}

// NativeOCO 由支持原生 OCO 组合委托的网关实现。
type NativeOCO interface {
	SubmitOCO(ctx context.Context, req OCORequest) (OCOResult, error)
}
