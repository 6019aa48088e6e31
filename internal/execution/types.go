package execution

import (
	"github.com/shopspring/decimal"

	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

// component 为单笔委托在事件日志中的来源标识。
const component = "desk"

// Options 控制单笔委托的附加参数。
type Options struct {
	ReduceOnly bool
	// ClientOrderID 非空时作为幂等键，网关据此允许重试提交。
	ClientOrderID string
	// Limits 覆盖本次委托的数量与价格边界。
	Limits *validation.Limits
}

// Ticket 为一次手动委托的描述。
type Ticket struct {
	Symbol      string
	Side        exchange.Side
	Type        exchange.OrderType
	Quantity    decimal.Decimal
	Price       decimal.NullDecimal
	StopPrice   decimal.NullDecimal
	TimeInForce exchange.TimeInForce
}

func (t Ticket) request(opts Options) exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:        exchange.NormalizeSymbol(t.Symbol),
		Side:          t.Side,
		Type:          t.Type,
		Quantity:      t.Quantity,
		Price:         t.Price,
		StopPrice:     t.StopPrice,
		TimeInForce:   t.TimeInForce,
		ReduceOnly:    opts.ReduceOnly,
		ClientOrderID: opts.ClientOrderID,
	}
}
