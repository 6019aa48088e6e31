package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
)

// Limits 为单笔委托的静态边界。
type Limits struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	MinPrice decimal.Decimal
}

// LimitsFromConfig 将配置转换为十进制边界。
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		MinQty:   decimal.NewFromFloat(cfg.MinQty),
		MaxQty:   decimal.NewFromFloat(cfg.MaxQty),
		MinPrice: decimal.NewFromFloat(cfg.MinPrice),
	}
}

// Option 调整单次校验行为。
type Option func(*Limits)

// WithLimits 在单次校验中覆盖默认边界。
func WithLimits(limits Limits) Option {
	return func(l *Limits) {
		*l = limits
	}
}

// Validator 依次检查交易对、方向、类型、数量与价格。
type Validator struct {
	limits  Limits
	symbols map[string]struct{}
	logger  *zap.Logger
}

// NewValidator 创建校验器，并通过网关的 SymbolCatalog 加载一次交易对清单。
// 加载失败时交易对检查放行。
func NewValidator(ctx context.Context, gateway exchange.Gateway, limits Limits, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Validator{
		limits: limits,
		logger: logger,
	}

	catalog, ok := gateway.(exchange.SymbolCatalog)
	if !ok {
		logger.Warn("网关未提供交易对清单，跳过交易对校验")
		return v
	}

	symbols, err := catalog.Symbols(ctx)
	if err != nil {
		logger.Warn("加载交易对清单失败，跳过交易对校验", zap.Error(err))
		return v
	}

	v.symbols = make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		v.symbols[exchange.NormalizeSymbol(symbol)] = struct{}{}
	}
	logger.Info("交易对清单已加载", zap.Int("symbols", len(v.symbols)))
	return v
}

// NewStatic 使用给定交易对清单构造校验器，symbols 为 nil 表示清单不可用。
func NewStatic(symbols []string, limits Limits) *Validator {
	v := &Validator{limits: limits, logger: zap.NewNop()}
	if symbols != nil {
		v.symbols = make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			v.symbols[exchange.NormalizeSymbol(symbol)] = struct{}{}
		}
	}
	return v
}

// Limits 返回默认边界。
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate 返回全部违反的规则，按交易对、方向、类型、数量、价格排序。空切片表示通过。
func (v *Validator) Validate(symbol, side, orderType string, quantity decimal.Decimal, price decimal.NullDecimal, opts ...Option) []string {
	limits := v.limits
	for _, opt := range opts {
		opt(&limits)
	}

	var problems []string

	if !v.validSymbol(symbol) {
		problems = append(problems, fmt.Sprintf("Invalid symbol: %s", symbol))
	}
	if !validSide(side) {
		problems = append(problems, fmt.Sprintf("Invalid side: %s", side))
	}
	if !validType(orderType) {
		problems = append(problems, fmt.Sprintf("Invalid order type: %s", orderType))
	}
	if !validQuantity(quantity, limits) {
		problems = append(problems, fmt.Sprintf("Invalid quantity: %s", quantity))
	}
	if !validPrice(price, limits) {
		problems = append(problems, fmt.Sprintf("Invalid price: %s", price.Decimal))
	}

	return problems
}

// Check 与 Validate 相同，但以 *Error 返回。
func (v *Validator) Check(symbol, side, orderType string, quantity decimal.Decimal, price decimal.NullDecimal, opts ...Option) error {
	problems := v.Validate(symbol, side, orderType, quantity, price, opts...)
	if len(problems) == 0 {
		return nil
	}
	return &Error{Problems: problems}
}

// CheckRequest 校验一笔完整委托。
func (v *Validator) CheckRequest(req exchange.OrderRequest, opts ...Option) error {
	return v.Check(req.Symbol, string(req.Side), string(req.Type), req.Quantity, req.Price, opts...)
}

func (v *Validator) validSymbol(symbol string) bool {
	normalized := exchange.NormalizeSymbol(symbol)
	if normalized == "" {
		return false
	}
	if v.symbols == nil {
		return true
	}
	_, ok := v.symbols[normalized]
	return ok
}

func validSide(side string) bool {
	switch exchange.Side(strings.ToUpper(strings.TrimSpace(side))) {
	case exchange.SideBuy, exchange.SideSell:
		return true
	default:
		return false
	}
}

func validType(orderType string) bool {
	candidate := exchange.OrderType(strings.ToUpper(strings.TrimSpace(orderType)))
	for _, t := range exchange.OrderTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

func validQuantity(quantity decimal.Decimal, limits Limits) bool {
	if !quantity.IsPositive() {
		return false
	}
	return quantity.GreaterThanOrEqual(limits.MinQty) && quantity.LessThanOrEqual(limits.MaxQty)
}

func validPrice(price decimal.NullDecimal, limits Limits) bool {
	if !price.Valid {
		return true
	}
	if !price.Decimal.IsPositive() {
		return false
	}
	return price.Decimal.GreaterThanOrEqual(limits.MinPrice)
}
