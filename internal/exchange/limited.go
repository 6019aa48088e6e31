package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// LimitedGateway 在网关之前放置一个共享令牌桶，所有策略共用同一份调用预算。
type LimitedGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewLimitedGateway 包装网关。perSecond 或 burst 非正时不限流。
func NewLimitedGateway(inner Gateway, perSecond float64, burst int) *LimitedGateway {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 || burst <= 0 {
		limit = rate.Inf
		burst = 1
	}
	return &LimitedGateway{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (g *LimitedGateway) wait(ctx context.Context, op, symbol string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return wrapErr(op, symbol, err)
	}
	return nil
}

func (g *LimitedGateway) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := g.wait(ctx, "submit_order", req.Symbol); err != nil {
		return OrderResult{}, err
	}
	return g.inner.SubmitOrder(ctx, req)
}

func (g *LimitedGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := g.wait(ctx, "cancel_order", symbol); err != nil {
		return err
	}
	return g.inner.CancelOrder(ctx, symbol, orderID)
}

func (g *LimitedGateway) ListOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	if err := g.wait(ctx, "list_open_orders", symbol); err != nil {
		return nil, err
	}
	return g.inner.ListOpenOrders(ctx, symbol)
}

func (g *LimitedGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.wait(ctx, "get_price", symbol); err != nil {
		return decimal.Zero, err
	}
	return g.inner.GetPrice(ctx, symbol)
}

// Symbols 委托给内层网关，不具备该能力时返回 ErrUnsupported。
func (g *LimitedGateway) Symbols(ctx context.Context) ([]string, error) {
	catalog, ok := g.inner.(SymbolCatalog)
	if !ok {
		return nil, ErrUnsupported
	}
	if err := g.wait(ctx, "symbols", ""); err != nil {
		return nil, err
	}
	return catalog.Symbols(ctx)
}

// GetOrder 委托给内层网关，不具备该能力时返回 ErrUnsupported。
func (g *LimitedGateway) GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	lookup, ok := g.inner.(OrderLookup)
	if !ok {
		return OrderResult{}, ErrUnsupported
	}
	if err := g.wait(ctx, "get_order", symbol); err != nil {
		return OrderResult{}, err
	}
	return lookup.GetOrder(ctx, symbol, orderID)
}

// SubmitOCO 委托给内层网关，不具备该能力时返回 ErrUnsupported。
func (g *LimitedGateway) SubmitOCO(ctx context.Context, req OCORequest) (OCOResult, error) {
	native, ok := g.inner.(NativeOCO)
	if !ok {
		return OCOResult{}, ErrUnsupported
	}
	if err := g.wait(ctx, "submit_oco", req.Symbol); err != nil {
		return OCOResult{}, err
	}
	return native.SubmitOCO(ctx, req)
}
