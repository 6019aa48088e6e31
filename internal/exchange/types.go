package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 为交易所委托类型。
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderTypes 为可提交的全部委托类型。
var OrderTypes = []OrderType{
	OrderTypeMarket,
	OrderTypeLimit,
	OrderTypeStop,
	OrderTypeStopMarket,
	OrderTypeTakeProfit,
	OrderTypeTakeProfitMarket,
}

// Resting 表示该类型提交后会挂在盘口或等待触发。
func (t OrderType) Resting() bool {
	return t != OrderTypeMarket
}

// TimeInForce 为委托有效期。
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus 为统一后的委托状态。
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Done 表示委托已不再存活。
func (s OrderStatus) Done() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest 为一次提交的完整描述，构造后不再修改。
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.NullDecimal
	StopPrice   decimal.NullDecimal
	TimeInForce TimeInForce
	ReduceOnly  bool
	// ClientOrderID 为调用方提供的幂等键，存在时允许重试提交。
	ClientOrderID string
}

// NormalizedSymbol 返回大写去空格的交易对。
func (r OrderRequest) NormalizedSymbol() string {
	return NormalizeSymbol(r.Symbol)
}

// OrderResult 为交易所回报，回显请求字段。
type OrderResult struct {
	OrderID       string              `json:"order_id"`
	ClientOrderID string              `json:"client_order_id,omitempty"`
	Symbol        string              `json:"symbol"`
	Side          Side                `json:"side"`
	Type          OrderType           `json:"type"`
	Status        OrderStatus         `json:"status"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Filled        decimal.Decimal     `json:"filled"`
	Price         decimal.NullDecimal `json:"price"`
	StopPrice     decimal.NullDecimal `json:"stop_price"`
	TimeInForce   TimeInForce         `json:"time_in_force,omitempty"`
	ReduceOnly    bool                `json:"reduce_only,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// OrderUpdate 为委托状态推送，由订阅或轮询产生。
type OrderUpdate struct {
	Symbol  string
	OrderID string
	Status  OrderStatus
	At      time.Time
}

// OCORequest 为原生 OCO 委托请求。
type OCORequest struct {
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopPrice       decimal.Decimal
	StopLimitPrice  decimal.NullDecimal
}

// OCOResult 为原生 OCO 回报。
type OCOResult struct {
	ListID     string
	TakeProfit OrderResult
	StopLoss   OrderResult
}

// NormalizeSymbol 统一交易对格式。
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Price 构造可选价格。
func Price(value decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(value)
}

// NoPrice 表示未提供价格。
var NoPrice = decimal.NullDecimal{}
