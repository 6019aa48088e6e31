package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

// priceScale 为价格舍入的小数位数。
const priceScale = 8

// GridParams 描述一次网格挂单。Levels 与 Spread 为零时使用默认值。
type GridParams struct {
	Symbol    string
	BasePrice decimal.Decimal
	Levels    int
	Spread    decimal.Decimal
	Quantity  decimal.Decimal
	Limits    *validation.Limits
}

// GridLevel 为阶梯中的一档。
type GridLevel struct {
	Index int             `json:"index"`
	Side  exchange.Side   `json:"side"`
	Price decimal.Decimal `json:"price"`
}

// GridStrategy 为提交后不再变化的网格记录。
type GridStrategy struct {
	ID        string                 `json:"id"`
	Symbol    string                 `json:"symbol"`
	BasePrice decimal.Decimal        `json:"base_price"`
	Levels    int                    `json:"levels"`
	Spread    decimal.Decimal        `json:"spread"`
	Quantity  decimal.Decimal        `json:"quantity"`
	Planned   []GridLevel            `json:"planned"`
	Orders    []exchange.OrderResult `json:"orders"`
	Outcomes  []Outcome              `json:"outcomes"`
	Requested int                    `json:"requested"`
	Placed    int                    `json:"placed"`
	Status    Status                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
}

func (g *GridStrategy) Summary() Summary {
	return Summary{
		ID:        g.ID,
		Kind:      KindGrid,
		Symbol:    g.Symbol,
		Status:    g.Status,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.CreatedAt,
	}
}

func (g *GridStrategy) Detail() interface{} {
	return g
}

// BuildGridLevels 计算对称价格阶梯：先 levels 档买单（由近到远），再 levels 档卖单。
func BuildGridLevels(base, spread decimal.Decimal, levels int) []GridLevel {
	out := make([]GridLevel, 0, levels*2)
	one := decimal.NewFromInt(1)
	for i := 1; i <= levels; i++ {
		offset := spread.Mul(decimal.NewFromInt(int64(i)))
		out = append(out, GridLevel{
			Index: i,
			Side:  exchange.SideBuy,
			Price: base.Mul(one.Sub(offset)).Round(priceScale),
		})
	}
	for i := 1; i <= levels; i++ {
		offset := spread.Mul(decimal.NewFromInt(int64(i)))
		out = append(out, GridLevel{
			Index: i,
			Side:  exchange.SideSell,
			Price: base.Mul(one.Add(offset)).Round(priceScale),
		})
	}
	return out
}

// StartGrid 校验参数后逐档提交限价单。单档失败只记录结果，不会中断其余档位。
func (e *Engine) StartGrid(ctx context.Context, p GridParams) (*GridStrategy, error) {
	if p.Levels == 0 {
		p.Levels = e.settings.GridLevels
	}
	if p.Spread.IsZero() {
		p.Spread = e.settings.GridSpread
	}
	symbol := exchange.NormalizeSymbol(p.Symbol)

	problems := e.validator.Validate(symbol, string(exchange.SideBuy), string(exchange.OrderTypeLimit), p.Quantity, exchange.Price(p.BasePrice), e.limits(p.Limits)...)
	if p.Levels <= 0 {
		problems = append(problems, fmt.Sprintf("Invalid grid levels: %d", p.Levels))
	}
	if !p.Spread.IsPositive() {
		problems = append(problems, fmt.Sprintf("Invalid grid spread: %s", p.Spread))
	}

	var levels []GridLevel
	if p.Levels > 0 && p.Spread.IsPositive() {
		levels = BuildGridLevels(p.BasePrice, p.Spread, p.Levels)
		lowest := levels[p.Levels-1].Price
		if lowest.LessThan(e.effectiveLimits(p.Limits).MinPrice) || !lowest.IsPositive() {
			problems = append(problems, fmt.Sprintf("Invalid grid spread: lowest level price %s below minimum", lowest))
		}
		// 按 8 位小数取整后，首档必须严格位于中心价两侧。
		if !levels[0].Price.LessThan(p.BasePrice) || !levels[p.Levels].Price.GreaterThan(p.BasePrice) {
			problems = append(problems, fmt.Sprintf("Invalid grid spread: levels collapse onto base price %s", p.BasePrice))
		}
	}
	if len(problems) > 0 {
		err := &validation.Error{Problems: problems}
		e.sink.LogError(ctx, string(KindGrid), "网格参数校验失败", err, map[string]interface{}{"symbol": symbol})
		return nil, err
	}

	grid := &GridStrategy{
		ID:        e.registry.NewID(KindGrid, symbol),
		Symbol:    symbol,
		BasePrice: p.BasePrice,
		Levels:    p.Levels,
		Spread:    p.Spread,
		Quantity:  p.Quantity,
		Planned:   levels,
		Requested: len(levels),
		CreatedAt: now(),
	}

	for _, level := range levels {
		req := exchange.OrderRequest{
			Symbol:      symbol,
			Side:        level.Side,
			Type:        exchange.OrderTypeLimit,
			Quantity:    p.Quantity,
			Price:       exchange.Price(level.Price),
			TimeInForce: exchange.TimeInForceGTC,
		}
		leg := fmt.Sprintf("%s-%d", level.Side, level.Index)

		result, err := e.submit(ctx, KindGrid, grid.ID, req)
		grid.Outcomes = append(grid.Outcomes, newOutcome(leg, req, result, err))
		if err != nil {
			e.logger.Warn("网格档位提交失败，继续下一档",
				zap.String("strategy_id", grid.ID),
				zap.String("leg", leg),
				zap.Error(err),
			)
			continue
		}
		grid.Orders = append(grid.Orders, result)
	}

	grid.Placed = len(grid.Orders)
	grid.Status = StatusPlaced
	if grid.Placed == 0 {
		grid.Status = StatusFailed
	}

	if err := e.register(ctx, grid); err != nil {
		return nil, err
	}
	e.transition(ctx, KindGrid, grid.ID, symbol, "", grid.Status,
		fmt.Sprintf("placed %d/%d", grid.Placed, grid.Requested))

	return grid, nil
}
