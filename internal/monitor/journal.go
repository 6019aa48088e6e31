package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trades-algo/internal/metrics"
)

// Journal 将事件同时写入日志、SQLite 与 Prometheus 计数器。
// 持久化失败只记录告警。
type Journal struct {
	service *Service
	logger  *zap.Logger
	timeout time.Duration
}

// NewJournal 创建事件日志，service 为空时只输出日志与指标。
func NewJournal(service *Service, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		service: service,
		logger:  logger,
		timeout: 2 * time.Second,
	}
}

// LogOrder 实现 Sink。
func (j *Journal) LogOrder(ctx context.Context, event OrderEvent) {
	fields := []zap.Field{
		zap.String("symbol", event.Symbol),
		zap.String("side", event.Side),
		zap.String("type", event.Type),
		zap.String("quantity", event.Quantity.String()),
		zap.String("status", event.Status),
	}
	if event.Price.Valid {
		fields = append(fields, zap.String("price", event.Price.Decimal.String()))
	}
	if event.OrderID != "" {
		fields = append(fields, zap.String("order_id", event.OrderID))
	}
	if event.StrategyID != "" {
		fields = append(fields, zap.String("strategy_id", event.StrategyID))
	}
	j.logger.Info("委托事件", fields...)

	metrics.OrdersTotal.WithLabelValues(event.Symbol, event.Side, event.Type, event.Status).Inc()
	j.persist(ctx, Event{Type: EventOrder, Symbol: event.Symbol, StrategyID: event.StrategyID, Payload: event})
}

// LogStrategy 实现 Sink。
func (j *Journal) LogStrategy(ctx context.Context, event StrategyEvent) {
	j.logger.Info("策略状态变化",
		zap.String("kind", event.Kind),
		zap.String("strategy_id", event.ID),
		zap.String("symbol", event.Symbol),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.String("detail", event.Detail),
	)
	j.persist(ctx, Event{Type: EventStrategy, Symbol: event.Symbol, StrategyID: event.ID, Payload: event})
}

// LogError 实现 Sink。
func (j *Journal) LogError(ctx context.Context, component, message string, cause error, fields map[string]interface{}) {
	payload := ErrorPayload{
		Component: component,
		Message:   message,
		Context:   fields,
	}
	zapFields := []zap.Field{zap.String("component", component)}
	if cause != nil {
		payload.Error = cause.Error()
		zapFields = append(zapFields, zap.Error(cause))
	}
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	j.logger.Error(message, zapFields...)

	metrics.ErrorsTotal.WithLabelValues(component).Inc()
	j.persist(ctx, Event{Type: EventError, Payload: payload})
}

// ListEvents 返回最近事件，未启用持久化时返回空。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if j.service == nil {
		return []Event{}, nil
	}
	return j.service.ListEvents(ctx, eventType, limit)
}

// Query 按条件检索事件，未启用持久化时返回空。
func (j *Journal) Query(ctx context.Context, filter EventFilter) ([]Event, error) {
	if j.service == nil {
		return []Event{}, nil
	}
	return j.service.Query(ctx, filter)
}

func (j *Journal) persist(ctx context.Context, event Event) {
	if j.service == nil {
		return
	}
	// 调用方已取消时仍然落盘。
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	event.Timestamp = time.Now().UTC()
	if err := j.service.Record(writeCtx, event); err != nil {
		j.logger.Warn("记录监控事件失败", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
