package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
)

// Kind 标识策略类型。
type Kind string

const (
	KindGrid    Kind = "grid"
	KindTWAP    Kind = "twap"
	KindOCO     Kind = "oco"
	KindBracket Kind = "bracket"
)

// Status 为策略生命周期状态。
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusPendingEntry Status = "PENDING_ENTRY"
	StatusPlaced       Status = "PLACED"
	StatusCompleted    Status = "COMPLETED"
	StatusCancelled    Status = "CANCELLED"
	StatusFailed       Status = "FAILED"
)

// Terminal 表示状态不会再变化，可以被回收。
func (s Status) Terminal() bool {
	switch s {
	case StatusPlaced, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Summary 为注册表列表使用的策略摘要。
type Summary struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Symbol    string    `json:"symbol"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strategy 为注册表中保存的对象。
type Strategy interface {
	Summary() Summary
	// Detail 返回可序列化的完整快照。
	Detail() interface{}
}

// Outcome 记录批量提交中单笔委托的结果。
type Outcome struct {
	Leg      string              `json:"leg"`
	Side     exchange.Side       `json:"side"`
	Quantity decimal.Decimal     `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	OrderID  string              `json:"order_id,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// OK 表示该笔委托已被交易所受理。
func (o Outcome) OK() bool {
	return o.Error == ""
}

func newOutcome(leg string, req exchange.OrderRequest, result exchange.OrderResult, err error) Outcome {
	out := Outcome{
		Leg:      leg,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		OrderID:  result.OrderID,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Settings 为未显式指定参数时使用的默认值。
type Settings struct {
	GridLevels        int
	GridSpread        decimal.Decimal
	TWAPDuration      time.Duration
	TWAPIntervals     int
	BracketOptimistic bool
}

// SettingsFromConfig 从配置提取策略默认值。
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		GridLevels:        cfg.Grid.Levels,
		GridSpread:        decimal.NewFromFloat(cfg.Grid.Spread),
		TWAPDuration:      cfg.TWAP.Duration,
		TWAPIntervals:     cfg.TWAP.Intervals,
		BracketOptimistic: cfg.OCO.BracketOptimistic,
	}
}
