package monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrder    EventType = "order"
	EventStrategy EventType = "strategy"
	EventError    EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type       EventType   `json:"type"`
	Symbol     string      `json:"symbol,omitempty"`
	StrategyID string      `json:"strategy_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// OrderEvent 记录一次委托提交、撤单或失败。
type OrderEvent struct {
	StrategyKind string              `json:"strategy_kind,omitempty"`
	StrategyID   string              `json:"strategy_id,omitempty"`
	OrderID      string              `json:"order_id,omitempty"`
	Symbol       string              `json:"symbol"`
	Side         string              `json:"side,omitempty"`
	Type         string              `json:"type"`
	Quantity     decimal.Decimal     `json:"quantity"`
	Price        decimal.NullDecimal `json:"price"`
	Status       string              `json:"status"`
}

// StrategyEvent 记录策略状态迁移。
type StrategyEvent struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Detail string `json:"detail,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Sink 接收订单、策略与异常事件。实现不得阻塞或让交易逻辑失败。
type Sink interface {
	LogOrder(ctx context.Context, event OrderEvent)
	LogStrategy(ctx context.Context, event StrategyEvent)
	LogError(ctx context.Context, component, message string, cause error, fields map[string]interface{})
}

// Nop 返回丢弃全部事件的 Sink。
func Nop() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) LogOrder(context.Context, OrderEvent)       {}
func (nopSink) LogStrategy(context.Context, StrategyEvent) {}
func (nopSink) LogError(context.Context, string, string, error, map[string]interface{}) {
}
