package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/metrics"
	"trades-algo/internal/monitor"
	"trades-algo/internal/validation"
)

// Engine 将网格、TWAP 与 OCO/括号单意图转换为经过校验的委托序列。
type Engine struct {
	gateway   exchange.Gateway
	validator *validation.Validator
	registry  *Registry
	sink      monitor.Sink
	logger    *zap.Logger
	settings  Settings

	// ctx 贯穿后台任务的生命周期，Close 时取消。
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	legs    map[string]legRef
	entries map[string]*BracketOrder
}

// NewEngine 构造策略引擎。
func NewEngine(gateway exchange.Gateway, validator *validation.Validator, registry *Registry, sink monitor.Sink, settings Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = monitor.Nop()
	}
	if registry == nil {
		registry = NewRegistry(time.Hour, time.Minute, logger)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		gateway:   gateway,
		validator: validator,
		registry:  registry,
		sink:      sink,
		logger:    logger,
		settings:  settings,
		ctx:       ctx,
		stop:      stop,
		legs:      make(map[string]legRef),
		entries:   make(map[string]*BracketOrder),
	}
}

// Registry 返回引擎使用的注册表。
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Close 停止全部后台任务并等待退出，运行中的 TWAP 转为 CANCELLED。
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

// Cancel 按策略类型撤销。
func (e *Engine) Cancel(ctx context.Context, id string) error {
	s, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	switch s.(type) {
	case *TWAPStrategy:
		return e.CancelTWAP(id)
	case *OCOPair:
		return e.CancelOCO(ctx, id)
	case *BracketOrder:
		return e.CancelBracket(ctx, id)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, s.Summary().Kind)
	}
}

func (e *Engine) register(ctx context.Context, s Strategy) error {
	if err := e.registry.Put(s); err != nil {
		e.sink.LogError(ctx, string(s.Summary().Kind), "策略登记失败", err, nil)
		return err
	}
	metrics.StrategiesTotal.WithLabelValues(string(s.Summary().Kind)).Inc()
	return nil
}

func (e *Engine) limits(override *validation.Limits) []validation.Option {
	if override == nil {
		return nil
	}
	return []validation.Option{validation.WithLimits(*override)}
}

func (e *Engine) effectiveLimits(override *validation.Limits) validation.Limits {
	if override != nil {
		return *override
	}
	return e.validator.Limits()
}

// submit 提交一笔委托并写入事件日志。
func (e *Engine) submit(ctx context.Context, kind Kind, id string, req exchange.OrderRequest) (exchange.OrderResult, error) {
	result, err := e.gateway.SubmitOrder(ctx, req)

	event := monitor.OrderEvent{
		StrategyKind: string(kind),
		StrategyID:   id,
		Symbol:       req.NormalizedSymbol(),
		Side:         string(req.Side),
		Type:         string(req.Type),
		Quantity:     req.Quantity,
		Price:        req.Price,
	}
	if !event.Price.Valid {
		event.Price = req.StopPrice
	}

	if err != nil {
		event.Status = string(StatusFailed)
		e.sink.LogOrder(ctx, event)
		e.sink.LogError(ctx, string(kind), "委托提交失败", err, map[string]interface{}{
			"strategy_id": id,
			"symbol":      event.Symbol,
			"type":        event.Type,
		})
		return exchange.OrderResult{}, err
	}

	event.OrderID = result.OrderID
	event.Status = string(result.Status)
	e.sink.LogOrder(ctx, event)
	return result, nil
}

// cancelOrder 撤单，委托已不存在视为成功。
func (e *Engine) cancelOrder(ctx context.Context, kind Kind, id, symbol, orderID string) error {
	err := e.gateway.CancelOrder(ctx, symbol, orderID)
	if err == nil || errors.Is(err, exchange.ErrOrderNotFound) {
		return nil
	}
	e.sink.LogError(ctx, string(kind), "撤单失败", err, map[string]interface{}{
		"strategy_id": id,
		"symbol":      symbol,
		"order_id":    orderID,
	})
	return err
}

func (e *Engine) transition(ctx context.Context, kind Kind, id, symbol string, from, to Status, detail string) {
	e.sink.LogStrategy(ctx, monitor.StrategyEvent{
		Kind:   string(kind),
		ID:     id,
		Symbol: symbol,
		From:   string(from),
		To:     string(to),
		Detail: detail,
	})
}

func now() time.Time {
	return time.Now().UTC()
}
