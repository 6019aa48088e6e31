package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-algo/internal/exchange"
)

// WatchOCO 周期轮询挂单，把消失的 OCO 腿与括号单入场单转换为状态推送，直到 ctx 结束。
func (e *Engine) WatchOCO(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.PollOrders(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("轮询委托状态失败", zap.Error(err))
			}
		}
	}
}

// PollOrders 执行一次轮询。不再挂单的委托通过 OrderLookup 查询最终状态，
// 网关不支持查询时按成交处理。
func (e *Engine) PollOrders(ctx context.Context) error {
	tracked := e.trackedOrders()
	if len(tracked) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		updates []exchange.OrderUpdate
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for symbol, orderIDs := range tracked {
		group.Go(func() error {
			open, err := e.gateway.ListOpenOrders(groupCtx, symbol)
			if err != nil {
				return err
			}
			live := make(map[string]struct{}, len(open))
			for _, order := range open {
				live[order.OrderID] = struct{}{}
			}

			for _, orderID := range orderIDs {
				if _, ok := live[orderID]; ok {
					continue
				}
				status, err := e.resolveStatus(groupCtx, symbol, orderID)
				if err != nil {
					e.logger.Warn("查询委托状态失败",
						zap.String("symbol", symbol),
						zap.String("order_id", orderID),
						zap.Error(err),
					)
					continue
				}
				mu.Lock()
				updates = append(updates, exchange.OrderUpdate{
					Symbol:  symbol,
					OrderID: orderID,
					Status:  status,
					At:      now(),
				})
				mu.Unlock()
			}
			return nil
		})
	}

	err := group.Wait()

	for _, update := range updates {
		if !update.Status.Done() {
			continue
		}
		e.OnOrderUpdate(ctx, update)
	}
	return err
}

func (e *Engine) resolveStatus(ctx context.Context, symbol, orderID string) (exchange.OrderStatus, error) {
	lookup, ok := e.gateway.(exchange.OrderLookup)
	if !ok {
		return exchange.OrderStatusFilled, nil
	}

	order, err := lookup.GetOrder(ctx, symbol, orderID)
	switch {
	case err == nil:
		return order.Status, nil
	case errors.Is(err, exchange.ErrUnsupported):
		return exchange.OrderStatusFilled, nil
	default:
		return "", err
	}
}
