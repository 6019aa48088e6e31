package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

// quantityScale 为 TWAP 分片数量的小数位数。
const quantityScale = 8

// TWAPParams 描述一次 TWAP 执行。Duration 与 Intervals 为零时使用默认值。
type TWAPParams struct {
	Symbol        string
	Side          exchange.Side
	TotalQuantity decimal.Decimal
	Duration      time.Duration
	Intervals     int
	Limits        *validation.Limits
}

// TWAPPlan 为分片计划。
type TWAPPlan struct {
	ChunkSize     decimal.Decimal
	IntervalDelay time.Duration
	Chunks        []decimal.Decimal
}

// PlanTWAP 将总量按 intervals 均分，分片截断到 8 位小数，最后一片吸收余数。
func PlanTWAP(total decimal.Decimal, duration time.Duration, intervals int) (TWAPPlan, error) {
	if intervals <= 0 || duration <= 0 {
		return TWAPPlan{}, fmt.Errorf("strategy: intervals 与 duration 必须为正")
	}
	if !total.IsPositive() {
		return TWAPPlan{}, fmt.Errorf("strategy: 总量必须为正")
	}

	n := decimal.NewFromInt(int64(intervals))
	chunk := total.Div(n).Truncate(quantityScale)

	chunks := make([]decimal.Decimal, intervals)
	allocated := decimal.Zero
	for i := 0; i < intervals-1; i++ {
		chunks[i] = chunk
		allocated = allocated.Add(chunk)
	}
	chunks[intervals-1] = total.Sub(allocated)

	return TWAPPlan{
		ChunkSize:     chunk,
		IntervalDelay: duration / time.Duration(intervals),
		Chunks:        chunks,
	}, nil
}

// TWAPSnapshot 为 TWAP 状态的只读副本。
type TWAPSnapshot struct {
	ID               string                 `json:"id"`
	Symbol           string                 `json:"symbol"`
	Side             exchange.Side          `json:"side"`
	TotalQuantity    decimal.Decimal        `json:"total_quantity"`
	ChunkSize        decimal.Decimal        `json:"chunk_size"`
	IntervalDelay    time.Duration          `json:"interval_delay"`
	IntervalsTotal   int                    `json:"intervals_total"`
	IntervalsDone    int                    `json:"intervals_done"`
	Attempted        int                    `json:"attempted"`
	ExecutedQuantity decimal.Decimal        `json:"executed_quantity"`
	Orders           []exchange.OrderResult `json:"orders"`
	Outcomes         []Outcome              `json:"outcomes"`
	Status           Status                 `json:"status"`
	Reason           string                 `json:"reason,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// TWAPStrategy 的字段只由其调度协程写入，取消标志除外。
type TWAPStrategy struct {
	mu   sync.Mutex
	snap TWAPSnapshot
	plan TWAPPlan

	wake     chan struct{}
	wakeOnce sync.Once
	done     chan struct{}
}

func (s *TWAPStrategy) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:        s.snap.ID,
		Kind:      KindTWAP,
		Symbol:    s.snap.Symbol,
		Status:    s.snap.Status,
		CreatedAt: s.snap.CreatedAt,
		UpdatedAt: s.snap.UpdatedAt,
	}
}

func (s *TWAPStrategy) Detail() interface{} {
	return s.Snapshot()
}

// Snapshot 在锁内复制当前状态。
func (s *TWAPStrategy) Snapshot() TWAPSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.snap
	out.Orders = append([]exchange.OrderResult(nil), s.snap.Orders...)
	out.Outcomes = append([]Outcome(nil), s.snap.Outcomes...)
	return out
}

// Done 在调度协程退出时关闭。
func (s *TWAPStrategy) Done() <-chan struct{} {
	return s.done
}

// beginChunk 在锁内确认仍处于 ACTIVE 并返回本片数量。
func (s *TWAPStrategy) beginChunk(index int) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Status != StatusActive {
		return decimal.Zero, false
	}
	s.snap.Attempted++
	s.snap.UpdatedAt = now()

	if index == len(s.plan.Chunks)-1 {
		return s.snap.TotalQuantity.Sub(s.snap.ExecutedQuantity), true
	}
	return s.plan.Chunks[index], true
}

func (s *TWAPStrategy) record(outcome Outcome, result *exchange.OrderResult, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Outcomes = append(s.snap.Outcomes, outcome)
	if result != nil {
		s.snap.IntervalsDone++
		s.snap.ExecutedQuantity = s.snap.ExecutedQuantity.Add(qty)
		s.snap.Orders = append(s.snap.Orders, *result)
	}
	s.snap.UpdatedAt = now()
}

// finish 只允许从 ACTIVE 迁移，终态保持不变。
func (s *TWAPStrategy) finish(to Status, reason string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.snap.Status
	if from != StatusActive {
		return from, false
	}
	s.snap.Status = to
	s.snap.Reason = reason
	s.snap.UpdatedAt = now()
	return from, true
}

func (s *TWAPStrategy) wakeUp() {
	s.wakeOnce.Do(func() { close(s.wake) })
}

// TWAPHandle 为调用方持有的运行句柄。
type TWAPHandle struct {
	strategy *TWAPStrategy
}

// ID 返回策略 ID。
func (h *TWAPHandle) ID() string {
	return h.strategy.snap.ID
}

// Done 在调度结束时关闭。
func (h *TWAPHandle) Done() <-chan struct{} {
	return h.strategy.Done()
}

// Snapshot 返回当前状态副本。
func (h *TWAPHandle) Snapshot() TWAPSnapshot {
	return h.strategy.Snapshot()
}

// ExecuteTWAP 校验参数并在独立协程中按时间分片提交市价单。
func (e *Engine) ExecuteTWAP(ctx context.Context, p TWAPParams) (*TWAPHandle, error) {
	if p.Duration == 0 {
		p.Duration = e.settings.TWAPDuration
	}
	if p.Intervals == 0 {
		p.Intervals = e.settings.TWAPIntervals
	}
	symbol := exchange.NormalizeSymbol(p.Symbol)

	problems := e.validator.Validate(symbol, string(p.Side), string(exchange.OrderTypeMarket), p.TotalQuantity, exchange.NoPrice, e.limits(p.Limits)...)
	if p.Intervals <= 0 || p.Duration <= 0 {
		problems = append(problems, "Invalid TWAP parameters: intervals and duration must be positive")
	}

	var plan TWAPPlan
	if len(problems) == 0 {
		var err error
		plan, err = PlanTWAP(p.TotalQuantity, p.Duration, p.Intervals)
		if err != nil {
			problems = append(problems, err.Error())
		} else if plan.ChunkSize.LessThan(e.effectiveLimits(p.Limits).MinQty) {
			problems = append(problems, fmt.Sprintf("Invalid TWAP chunk size: %s", plan.ChunkSize))
		}
	}
	if len(problems) > 0 {
		err := &validation.Error{Problems: problems}
		e.sink.LogError(ctx, string(KindTWAP), "TWAP 参数校验失败", err, map[string]interface{}{"symbol": symbol})
		return nil, err
	}

	created := now()
	s := &TWAPStrategy{
		snap: TWAPSnapshot{
			ID:               e.registry.NewID(KindTWAP, symbol),
			Symbol:           symbol,
			Side:             exchange.Side(strings.ToUpper(string(p.Side))),
			TotalQuantity:    p.TotalQuantity,
			ChunkSize:        plan.ChunkSize,
			IntervalDelay:    plan.IntervalDelay,
			IntervalsTotal:   p.Intervals,
			ExecutedQuantity: decimal.Zero,
			Status:           StatusActive,
			CreatedAt:        created,
			UpdatedAt:        created,
		},
		plan: plan,
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}

	if err := e.register(ctx, s); err != nil {
		return nil, err
	}
	e.transition(ctx, KindTWAP, s.snap.ID, symbol, "", StatusActive,
		fmt.Sprintf("chunks=%d chunk_size=%s delay=%s", p.Intervals, plan.ChunkSize, plan.IntervalDelay))

	e.wg.Add(1)
	go e.runTWAP(s)

	return &TWAPHandle{strategy: s}, nil
}

// CancelTWAP 将 ACTIVE 的 TWAP 标记为 CANCELLED 并唤醒等待中的调度协程。
// 返回后不会再开始新的分片，已在途的提交仍会完成并被记录。对终态策略调用无副作用。
func (e *Engine) CancelTWAP(id string) error {
	entry, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	s, ok := entry.(*TWAPStrategy)
	if !ok {
		return notFound(id)
	}

	from, changed := s.finish(StatusCancelled, "cancelled by caller")
	s.wakeUp()
	if changed {
		e.transition(e.ctx, KindTWAP, id, s.snap.Symbol, from, StatusCancelled, "cancelled by caller")
	}
	return nil
}

// TWAPStatus 返回 TWAP 快照。
func (e *Engine) TWAPStatus(id string) (TWAPSnapshot, error) {
	entry, err := e.registry.Get(id)
	if err != nil {
		return TWAPSnapshot{}, err
	}
	s, ok := entry.(*TWAPStrategy)
	if !ok {
		return TWAPSnapshot{}, notFound(id)
	}
	return s.Snapshot(), nil
}

func (e *Engine) runTWAP(s *TWAPStrategy) {
	ctx := e.ctx
	id, symbol, side := s.snap.ID, s.snap.Symbol, s.snap.Side
	total := len(s.plan.Chunks)

	defer e.wg.Done()
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			err := &InternalError{Op: "twap.run", Cause: r}
			if from, changed := s.finish(StatusFailed, err.Error()); changed {
				e.transition(ctx, KindTWAP, id, symbol, from, StatusFailed, err.Error())
			}
			e.sink.LogError(ctx, string(KindTWAP), "TWAP 执行异常", err, map[string]interface{}{"strategy_id": id})
		}
	}()

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			if from, changed := s.finish(StatusCancelled, "engine shutdown"); changed {
				e.transition(context.Background(), KindTWAP, id, symbol, from, StatusCancelled, "engine shutdown")
			}
			return
		}

		qty, ok := s.beginChunk(i)
		if !ok {
			return
		}

		req := exchange.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Type:     exchange.OrderTypeMarket,
			Quantity: qty,
		}
		leg := fmt.Sprintf("chunk-%d/%d", i+1, total)

		result, err := e.submit(ctx, KindTWAP, id, req)
		if err != nil {
			e.logger.Warn("TWAP 分片提交失败，继续下一片",
				zap.String("strategy_id", id),
				zap.String("leg", leg),
				zap.Error(err),
			)
			s.record(newOutcome(leg, req, result, err), nil, qty)
		} else {
			s.record(newOutcome(leg, req, result, nil), &result, qty)
		}

		if i == total-1 {
			break
		}

		timer := time.NewTimer(s.plan.IntervalDelay)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if from, changed := s.finish(StatusCompleted, ""); changed {
		snap := s.Snapshot()
		e.transition(ctx, KindTWAP, id, symbol, from, StatusCompleted,
			fmt.Sprintf("executed %d/%d chunks, quantity %s", snap.IntervalsDone, total, snap.ExecutedQuantity))
	}
}
