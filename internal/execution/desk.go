package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/monitor"
	"trades-algo/internal/validation"
)

// Desk 将单笔手动委托经校验后提交到网关，并写入事件日志。
type Desk struct {
	gateway   exchange.Gateway
	validator *validation.Validator
	sink      monitor.Sink
	logger    *zap.Logger
}

// NewDesk 创建下单台。
func NewDesk(gateway exchange.Gateway, validator *validation.Validator, sink monitor.Sink, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = monitor.Nop()
	}
	return &Desk{
		gateway:   gateway,
		validator: validator,
		sink:      sink,
		logger:    logger,
	}
}

// PlaceMarket 提交市价单。
func (d *Desk) PlaceMarket(ctx context.Context, symbol string, side exchange.Side, quantity decimal.Decimal, opts Options) (exchange.OrderResult, error) {
	return d.Place(ctx, Ticket{
		Symbol:   symbol,
		Side:     side,
		Type:     exchange.OrderTypeMarket,
		Quantity: quantity,
	}, opts)
}

// PlaceLimit 提交限价单，tif 为空时使用 GTC。
func (d *Desk) PlaceLimit(ctx context.Context, symbol string, side exchange.Side, quantity, price decimal.Decimal, tif exchange.TimeInForce, opts Options) (exchange.OrderResult, error) {
	if tif == "" {
		tif = exchange.TimeInForceGTC
	}
	return d.Place(ctx, Ticket{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeLimit,
		Quantity:    quantity,
		Price:       exchange.Price(price),
		TimeInForce: tif,
	}, opts)
}

// PlaceStopLimit 提交止损限价单：触发价 stop，触发后以 limit 挂单。
func (d *Desk) PlaceStopLimit(ctx context.Context, symbol string, side exchange.Side, quantity, stop, limit decimal.Decimal, opts Options) (exchange.OrderResult, error) {
	return d.Place(ctx, Ticket{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeStop,
		Quantity:    quantity,
		Price:       exchange.Price(limit),
		StopPrice:   exchange.Price(stop),
		TimeInForce: exchange.TimeInForceGTC,
	}, opts)
}

// Place 校验并提交任意类型的委托。触发价与限价分别校验。
func (d *Desk) Place(ctx context.Context, ticket Ticket, opts Options) (exchange.OrderResult, error) {
	ticket.Side = exchange.Side(strings.ToUpper(string(ticket.Side)))
	req := ticket.request(opts)

	var vopts []validation.Option
	if opts.Limits != nil {
		vopts = append(vopts, validation.WithLimits(*opts.Limits))
	}

	problems := validation.Problems(d.validator.CheckRequest(req, vopts...))
	if req.StopPrice.Valid {
		stopReq := req
		stopReq.Price = req.StopPrice
		for _, problem := range validation.Problems(d.validator.CheckRequest(stopReq, vopts...)) {
			if strings.HasPrefix(problem, "Invalid price") {
				problems = append(problems, "Invalid stop price"+strings.TrimPrefix(problem, "Invalid price"))
			}
		}
	}
	if req.Type.Resting() && !req.Price.Valid && !req.StopPrice.Valid {
		problems = append(problems, fmt.Sprintf("Invalid price: %s order requires a price", req.Type))
	}
	if len(problems) > 0 {
		err := &validation.Error{Problems: problems}
		d.sink.LogError(ctx, component, "委托参数校验失败", err, map[string]interface{}{
			"symbol": req.Symbol,
			"type":   string(req.Type),
		})
		return exchange.OrderResult{}, err
	}

	event := monitor.OrderEvent{
		StrategyKind: component,
		Symbol:       req.Symbol,
		Side:         string(req.Side),
		Type:         string(req.Type),
		Quantity:     req.Quantity,
		Price:        req.Price,
	}
	if !event.Price.Valid {
		event.Price = req.StopPrice
	}

	result, err := d.gateway.SubmitOrder(ctx, req)
	if err != nil {
		event.Status = "FAILED"
		d.sink.LogOrder(ctx, event)
		d.sink.LogError(ctx, component, "委托提交失败", err, map[string]interface{}{
			"symbol": req.Symbol,
			"type":   string(req.Type),
		})
		return exchange.OrderResult{}, err
	}

	event.OrderID = result.OrderID
	event.Status = string(result.Status)
	d.sink.LogOrder(ctx, event)

	d.logger.Info("委托已提交",
		zap.String("order_id", result.OrderID),
		zap.String("symbol", result.Symbol),
		zap.String("side", string(result.Side)),
		zap.String("type", string(result.Type)),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// OpenOrders 列出挂单，symbol 为空时返回全部交易对。
func (d *Desk) OpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	orders, err := d.gateway.ListOpenOrders(ctx, exchange.NormalizeSymbol(symbol))
	if err != nil {
		d.sink.LogError(ctx, component, "查询挂单失败", err, map[string]interface{}{"symbol": symbol})
		return nil, err
	}
	return orders, nil
}

// Cancel 撤销指定委托。
func (d *Desk) Cancel(ctx context.Context, symbol, orderID string) error {
	symbol = exchange.NormalizeSymbol(symbol)
	if err := d.gateway.CancelOrder(ctx, symbol, orderID); err != nil {
		d.sink.LogError(ctx, component, "撤单失败", err, map[string]interface{}{
			"symbol":   symbol,
			"order_id": orderID,
		})
		return err
	}
	d.logger.Info("委托已撤销", zap.String("symbol", symbol), zap.String("order_id", orderID))
	return nil
}

// Price 返回最新价格。
func (d *Desk) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return d.gateway.GetPrice(ctx, exchange.NormalizeSymbol(symbol))
}
