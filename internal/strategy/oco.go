package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

// Leg 标识 OCO 中的一条腿。
type Leg string

const (
	LegTakeProfit Leg = "take_profit"
	LegStopLoss   Leg = "stop_loss"
)

func (l Leg) sibling() Leg {
	if l == LegTakeProfit {
		return LegStopLoss
	}
	return LegTakeProfit
}

// OCOParams 描述一组止盈止损。Side 为两条腿的下单方向。
type OCOParams struct {
	Symbol          string
	Side            exchange.Side
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopPrice       decimal.Decimal
	StopLimitPrice  decimal.NullDecimal
	Limits          *validation.Limits
}

// OCOSnapshot 为 OCO 状态的只读副本。
type OCOSnapshot struct {
	ID              string               `json:"id"`
	BracketID       string               `json:"bracket_id,omitempty"`
	Symbol          string               `json:"symbol"`
	Side            exchange.Side        `json:"side"`
	Quantity        decimal.Decimal      `json:"quantity"`
	TakeProfitPrice decimal.Decimal      `json:"take_profit_price"`
	StopPrice       decimal.Decimal      `json:"stop_price"`
	StopLimitPrice  decimal.NullDecimal  `json:"stop_limit_price"`
	Native          bool                 `json:"native"`
	ListID          string               `json:"list_id,omitempty"`
	TakeProfit      exchange.OrderResult `json:"take_profit"`
	StopLoss        exchange.OrderResult `json:"stop_loss"`
	Outcomes        []Outcome            `json:"outcomes"`
	Status          Status               `json:"status"`
	FilledLeg       Leg                  `json:"filled_leg,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// OCOPair 保存两条腿的关联，用于一腿成交后撤销另一腿。
type OCOPair struct {
	mu      sync.Mutex
	snap    OCOSnapshot
	bracket *BracketOrder
}

func (p *OCOPair) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Summary{
		ID:        p.snap.ID,
		Kind:      KindOCO,
		Symbol:    p.snap.Symbol,
		Status:    p.snap.Status,
		CreatedAt: p.snap.CreatedAt,
		UpdatedAt: p.snap.UpdatedAt,
	}
}

func (p *OCOPair) Detail() interface{} {
	return p.Snapshot()
}

// Snapshot 返回当前状态副本。
func (p *OCOPair) Snapshot() OCOSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.snap
	out.Outcomes = append([]Outcome(nil), p.snap.Outcomes...)
	return out
}

func (p *OCOPair) order(leg Leg) exchange.OrderResult {
	if leg == LegTakeProfit {
		return p.snap.TakeProfit
	}
	return p.snap.StopLoss
}

// settle 只允许从 ACTIVE 迁移。
func (p *OCOPair) settle(to Status, filled Leg, reason string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.snap.Status
	if from != StatusActive {
		return from, false
	}
	p.snap.Status = to
	p.snap.FilledLeg = filled
	p.snap.Reason = reason
	p.snap.UpdatedAt = now()
	return from, true
}

type legRef struct {
	pair *OCOPair
	leg  Leg
}

// BracketSnapshot 为括号单状态的只读副本。
type BracketSnapshot struct {
	ID         string               `json:"id"`
	Symbol     string               `json:"symbol"`
	Side       exchange.Side        `json:"side"`
	Quantity   decimal.Decimal      `json:"quantity"`
	EntryPrice decimal.Decimal      `json:"entry_price"`
	TakeProfit decimal.Decimal      `json:"take_profit"`
	StopLoss   decimal.Decimal      `json:"stop_loss"`
	Entry      exchange.OrderResult `json:"entry"`
	ExitID     string               `json:"exit_id,omitempty"`
	Status     Status               `json:"status"`
	Reason     string               `json:"reason,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// BracketOrder 为入场单加上出场 OCO。出场 OCO 在入场成交后才提交。
type BracketOrder struct {
	mu     sync.Mutex
	snap   BracketSnapshot
	params OCOParams
	exit   *OCOPair
	// cancelRequested 记录出场 OCO 提交期间收到的撤销。
	cancelRequested bool
}

func (b *BracketOrder) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Summary{
		ID:        b.snap.ID,
		Kind:      KindBracket,
		Symbol:    b.snap.Symbol,
		Status:    b.snap.Status,
		CreatedAt: b.snap.CreatedAt,
		UpdatedAt: b.snap.UpdatedAt,
	}
}

func (b *BracketOrder) Detail() interface{} {
	return b.Snapshot()
}

// Snapshot 返回当前状态副本。
func (b *BracketOrder) Snapshot() BracketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Exit 返回出场 OCO，入场未成交前为 nil。
func (b *BracketOrder) Exit() *OCOPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exit
}

// move 在 from 匹配时迁移状态。
func (b *BracketOrder) move(from, to Status, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap.Status != from {
		return false
	}
	b.snap.Status = to
	b.snap.Reason = reason
	b.snap.UpdatedAt = now()
	return true
}

// BracketParams 描述一笔括号单，Side 为入场方向。
type BracketParams struct {
	Symbol         string
	Side           exchange.Side
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	StopLimitPrice decimal.NullDecimal
	Limits         *validation.Limits
}

func (e *Engine) validateOCO(p OCOParams) []string {
	problems := e.validator.Validate(p.Symbol, string(p.Side), string(exchange.OrderTypeLimit), p.Quantity, exchange.Price(p.TakeProfitPrice), e.limits(p.Limits)...)

	minPrice := e.effectiveLimits(p.Limits).MinPrice
	if !p.StopPrice.IsPositive() || p.StopPrice.LessThan(minPrice) {
		problems = append(problems, fmt.Sprintf("Invalid stop price: %s", p.StopPrice))
	}
	if p.StopLimitPrice.Valid && !p.StopLimitPrice.Decimal.IsPositive() {
		problems = append(problems, fmt.Sprintf("Invalid stop limit price: %s", p.StopLimitPrice.Decimal))
	}
	return problems
}

// ocoLegRequests 构造止盈与止损两条腿。未提供止损限价时止损腿为 STOP_MARKET，不携带限价与有效期。
func ocoLegRequests(p OCOParams) (tp, sl exchange.OrderRequest) {
	symbol := exchange.NormalizeSymbol(p.Symbol)

	tp = exchange.OrderRequest{
		Symbol:      symbol,
		Side:        p.Side,
		Type:        exchange.OrderTypeTakeProfit,
		Quantity:    p.Quantity,
		Price:       exchange.Price(p.TakeProfitPrice),
		StopPrice:   exchange.Price(p.TakeProfitPrice),
		TimeInForce: exchange.TimeInForceGTC,
		ReduceOnly:  true,
	}

	sl = exchange.OrderRequest{
		Symbol:     symbol,
		Side:       p.Side,
		Type:       exchange.OrderTypeStopMarket,
		Quantity:   p.Quantity,
		StopPrice:  exchange.Price(p.StopPrice),
		ReduceOnly: true,
	}
	if p.StopLimitPrice.Valid {
		sl.Type = exchange.OrderTypeStop
		sl.Price = p.StopLimitPrice
		sl.TimeInForce = exchange.TimeInForceGTC
	}
	return tp, sl
}

// PlaceOCO 校验后提交止盈止损两条腿并登记关联。网关支持原生 OCO 时直接提交组合单。
// 第二条腿失败时撤销第一条腿，返回的 OCOPair 状态为 FAILED 并附带错误。
func (e *Engine) PlaceOCO(ctx context.Context, p OCOParams) (*OCOPair, error) {
	p.Symbol = exchange.NormalizeSymbol(p.Symbol)
	p.Side = exchange.Side(strings.ToUpper(string(p.Side)))

	if problems := e.validateOCO(p); len(problems) > 0 {
		err := &validation.Error{Problems: problems}
		e.sink.LogError(ctx, string(KindOCO), "OCO 参数校验失败", err, map[string]interface{}{"symbol": p.Symbol})
		return nil, err
	}
	return e.placeOCO(ctx, p, nil)
}

func (e *Engine) placeOCO(ctx context.Context, p OCOParams, bracket *BracketOrder) (*OCOPair, error) {
	created := now()
	pair := &OCOPair{
		snap: OCOSnapshot{
			ID:              e.registry.NewID(KindOCO, p.Symbol),
			Symbol:          p.Symbol,
			Side:            p.Side,
			Quantity:        p.Quantity,
			TakeProfitPrice: p.TakeProfitPrice,
			StopPrice:       p.StopPrice,
			StopLimitPrice:  p.StopLimitPrice,
			Status:          StatusActive,
			CreatedAt:       created,
			UpdatedAt:       created,
		},
		bracket: bracket,
	}
	if bracket != nil {
		pair.snap.BracketID = bracket.snap.ID
	}

	var err error
	if native, ok := e.gateway.(exchange.NativeOCO); ok {
		err = e.submitNativeOCO(ctx, native, pair, p)
		if errors.Is(err, exchange.ErrUnsupported) {
			err = e.submitOCOLegs(ctx, pair, p)
		}
	} else {
		err = e.submitOCOLegs(ctx, pair, p)
	}

	if regErr := e.register(ctx, pair); regErr != nil {
		return nil, regErr
	}

	if err != nil {
		pair.settle(StatusFailed, "", err.Error())
		e.transition(ctx, KindOCO, pair.snap.ID, p.Symbol, "", StatusFailed, err.Error())
		return pair, err
	}

	e.mu.Lock()
	e.legs[pair.snap.TakeProfit.OrderID] = legRef{pair: pair, leg: LegTakeProfit}
	e.legs[pair.snap.StopLoss.OrderID] = legRef{pair: pair, leg: LegStopLoss}
	e.mu.Unlock()

	e.transition(ctx, KindOCO, pair.snap.ID, p.Symbol, "", StatusActive,
		fmt.Sprintf("tp=%s sl=%s", pair.snap.TakeProfit.OrderID, pair.snap.StopLoss.OrderID))
	return pair, nil
}

func (e *Engine) submitNativeOCO(ctx context.Context, native exchange.NativeOCO, pair *OCOPair, p OCOParams) error {
	result, err := native.SubmitOCO(ctx, exchange.OCORequest{
		Symbol:          p.Symbol,
		Side:            p.Side,
		Quantity:        p.Quantity,
		TakeProfitPrice: p.TakeProfitPrice,
		StopPrice:       p.StopPrice,
		StopLimitPrice:  p.StopLimitPrice,
	})
	if err != nil {
		if !errors.Is(err, exchange.ErrUnsupported) {
			e.sink.LogError(ctx, string(KindOCO), "原生 OCO 提交失败", err, map[string]interface{}{"symbol": p.Symbol})
		}
		return err
	}

	pair.mu.Lock()
	pair.snap.Native = true
	pair.snap.ListID = result.ListID
	pair.snap.TakeProfit = result.TakeProfit
	pair.snap.StopLoss = result.StopLoss
	pair.mu.Unlock()
	return nil
}

func (e *Engine) submitOCOLegs(ctx context.Context, pair *OCOPair, p OCOParams) error {
	id := pair.snap.ID
	tpReq, slReq := ocoLegRequests(p)

	tp, err := e.submit(ctx, KindOCO, id, tpReq)
	pair.mu.Lock()
	pair.snap.Outcomes = append(pair.snap.Outcomes, newOutcome(string(LegTakeProfit), tpReq, tp, err))
	pair.snap.TakeProfit = tp
	pair.mu.Unlock()
	if err != nil {
		return err
	}

	sl, err := e.submit(ctx, KindOCO, id, slReq)
	pair.mu.Lock()
	pair.snap.Outcomes = append(pair.snap.Outcomes, newOutcome(string(LegStopLoss), slReq, sl, err))
	pair.snap.StopLoss = sl
	pair.mu.Unlock()
	if err != nil {
		if cancelErr := e.cancelOrder(ctx, KindOCO, id, p.Symbol, tp.OrderID); cancelErr != nil {
			e.logger.Error("止损腿失败后撤销止盈腿失败，需人工处理",
				zap.String("strategy_id", id),
				zap.String("order_id", tp.OrderID),
				zap.Error(cancelErr),
			)
		}
		return err
	}
	return nil
}

// OnOrderUpdate 处理委托状态推送：OCO 任一腿成交则撤销另一腿；一腿被撤或过期时同样撤销另一腿。
// 括号单入场成交后提交出场 OCO。
func (e *Engine) OnOrderUpdate(ctx context.Context, update exchange.OrderUpdate) {
	e.mu.Lock()
	ref, isLeg := e.legs[update.OrderID]
	bracket, isEntry := e.entries[update.OrderID]
	e.mu.Unlock()

	if isEntry {
		e.onEntryUpdate(ctx, bracket, update)
	}
	if isLeg {
		e.onLegUpdate(ctx, ref, update)
	}
}

func (e *Engine) onLegUpdate(ctx context.Context, ref legRef, update exchange.OrderUpdate) {
	pair := ref.pair

	var (
		to     Status
		filled Leg
	)
	switch update.Status {
	case exchange.OrderStatusFilled:
		to, filled = StatusCompleted, ref.leg
	case exchange.OrderStatusCanceled, exchange.OrderStatusExpired, exchange.OrderStatusRejected:
		to = StatusCancelled
	default:
		return
	}

	reason := fmt.Sprintf("%s %s", ref.leg, strings.ToLower(string(update.Status)))
	from, changed := pair.settle(to, filled, reason)
	if !changed {
		return
	}
	e.unindexPair(pair)

	snap := pair.Snapshot()
	sibling := pair.order(ref.leg.sibling())
	if err := e.cancelOrder(ctx, KindOCO, snap.ID, snap.Symbol, sibling.OrderID); err != nil {
		e.logger.Error("撤销 OCO 另一腿失败，需人工处理",
			zap.String("strategy_id", snap.ID),
			zap.String("order_id", sibling.OrderID),
			zap.Error(err),
		)
	}
	e.transition(ctx, KindOCO, snap.ID, snap.Symbol, from, to, reason)

	if pair.bracket != nil {
		b := pair.bracket
		if b.move(StatusActive, to, reason) {
			e.transition(ctx, KindBracket, b.snap.ID, b.snap.Symbol, StatusActive, to, reason)
		}
	}
}

func (e *Engine) unindexPair(pair *OCOPair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.legs, pair.snap.TakeProfit.OrderID)
	delete(e.legs, pair.snap.StopLoss.OrderID)
}

// CancelOCO 撤销两条腿并将 OCO 标记为 CANCELLED。
func (e *Engine) CancelOCO(ctx context.Context, id string) error {
	entry, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	pair, ok := entry.(*OCOPair)
	if !ok {
		return notFound(id)
	}

	from, changed := pair.settle(StatusCancelled, "", "cancelled by caller")
	if !changed {
		return nil
	}
	e.unindexPair(pair)

	var cancelErr error
	for _, leg := range []Leg{LegTakeProfit, LegStopLoss} {
		order := pair.order(leg)
		if err := e.cancelOrder(ctx, KindOCO, id, pair.snap.Symbol, order.OrderID); err != nil {
			cancelErr = errors.Join(cancelErr, err)
		}
	}
	e.transition(ctx, KindOCO, id, pair.snap.Symbol, from, StatusCancelled, "cancelled by caller")

	if b := pair.bracket; b != nil && b.move(StatusActive, StatusCancelled, "cancelled by caller") {
		e.transition(ctx, KindBracket, b.snap.ID, b.snap.Symbol, StatusActive, StatusCancelled, "cancelled by caller")
	}
	return cancelErr
}

// PlaceBracket 提交限价入场单，出场 OCO（反方向）在入场成交后提交。
// 开启 oco.bracket_optimistic 时入场后立即提交出场 OCO。
func (e *Engine) PlaceBracket(ctx context.Context, p BracketParams) (*BracketOrder, error) {
	symbol := exchange.NormalizeSymbol(p.Symbol)
	side := exchange.Side(strings.ToUpper(string(p.Side)))

	exit := OCOParams{
		Symbol:          symbol,
		Side:            side.Opposite(),
		Quantity:        p.Quantity,
		TakeProfitPrice: p.TakeProfit,
		StopPrice:       p.StopLoss,
		StopLimitPrice:  p.StopLimitPrice,
		Limits:          p.Limits,
	}

	problems := e.validator.Validate(symbol, string(side), string(exchange.OrderTypeLimit), p.Quantity, exchange.Price(p.EntryPrice), e.limits(p.Limits)...)
	for _, problem := range e.validateOCO(exit) {
		if !contains(problems, problem) {
			problems = append(problems, problem)
		}
	}
	if len(problems) > 0 {
		err := &validation.Error{Problems: problems}
		e.sink.LogError(ctx, string(KindBracket), "括号单参数校验失败", err, map[string]interface{}{"symbol": symbol})
		return nil, err
	}

	created := now()
	b := &BracketOrder{
		snap: BracketSnapshot{
			ID:         e.registry.NewID(KindBracket, symbol),
			Symbol:     symbol,
			Side:       side,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			TakeProfit: p.TakeProfit,
			StopLoss:   p.StopLoss,
			Status:     StatusPendingEntry,
			CreatedAt:  created,
			UpdatedAt:  created,
		},
		params: exit,
	}

	entryReq := exchange.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Type:        exchange.OrderTypeLimit,
		Quantity:    p.Quantity,
		Price:       exchange.Price(p.EntryPrice),
		TimeInForce: exchange.TimeInForceGTC,
	}
	entry, err := e.submit(ctx, KindBracket, b.snap.ID, entryReq)
	if err != nil {
		b.snap.Status = StatusFailed
		b.snap.Reason = err.Error()
		if regErr := e.register(ctx, b); regErr != nil {
			return nil, regErr
		}
		e.transition(ctx, KindBracket, b.snap.ID, symbol, "", StatusFailed, err.Error())
		return b, err
	}
	b.snap.Entry = entry

	if err := e.register(ctx, b); err != nil {
		return nil, err
	}
	e.transition(ctx, KindBracket, b.snap.ID, symbol, "", StatusPendingEntry, "entry "+entry.OrderID)

	if entry.Status == exchange.OrderStatusFilled || e.settings.BracketOptimistic {
		if err := e.placeExit(ctx, b); err != nil {
			return b, err
		}
		return b, nil
	}

	e.mu.Lock()
	e.entries[entry.OrderID] = b
	e.mu.Unlock()
	return b, nil
}

func (e *Engine) onEntryUpdate(ctx context.Context, b *BracketOrder, update exchange.OrderUpdate) {
	switch update.Status {
	case exchange.OrderStatusFilled:
		e.unindexEntry(update.OrderID)
		if err := e.placeExit(ctx, b); err != nil {
			e.logger.Warn("括号单出场 OCO 提交失败", zap.String("strategy_id", b.snap.ID), zap.Error(err))
		}
	case exchange.OrderStatusCanceled, exchange.OrderStatusExpired, exchange.OrderStatusRejected:
		e.unindexEntry(update.OrderID)
		reason := "entry " + strings.ToLower(string(update.Status))
		if b.move(StatusPendingEntry, StatusCancelled, reason) {
			e.transition(ctx, KindBracket, b.snap.ID, b.snap.Symbol, StatusPendingEntry, StatusCancelled, reason)
		}
	}
}

// placeExit 提交出场 OCO。PENDING_ENTRY 只会迁移一次，重复的成交推送不会重复下单。
func (e *Engine) placeExit(ctx context.Context, b *BracketOrder) error {
	if !b.move(StatusPendingEntry, StatusActive, "entry filled") {
		return nil
	}

	pair, err := e.placeOCO(ctx, b.params, b)

	b.mu.Lock()
	if pair != nil {
		b.exit = pair
		b.snap.ExitID = pair.snap.ID
	}
	cancelRequested := b.cancelRequested
	b.mu.Unlock()

	if err != nil {
		b.move(StatusActive, StatusFailed, err.Error())
		e.transition(ctx, KindBracket, b.snap.ID, b.snap.Symbol, StatusPendingEntry, StatusFailed, err.Error())
		return err
	}
	e.transition(ctx, KindBracket, b.snap.ID, b.snap.Symbol, StatusPendingEntry, StatusActive, "exit "+pair.snap.ID)

	if cancelRequested {
		return e.CancelOCO(ctx, pair.snap.ID)
	}
	return nil
}

func (e *Engine) unindexEntry(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, orderID)
}

// CancelBracket 撤销入场单或出场 OCO。
func (e *Engine) CancelBracket(ctx context.Context, id string) error {
	entry, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	b, ok := entry.(*BracketOrder)
	if !ok {
		return notFound(id)
	}

	snap := b.Snapshot()
	switch snap.Status {
	case StatusPendingEntry:
		// 撤单失败时保持跟踪入场单。
		if err := e.cancelOrder(ctx, KindBracket, id, snap.Symbol, snap.Entry.OrderID); err != nil {
			return err
		}
		if !b.move(StatusPendingEntry, StatusCancelled, "cancelled by caller") {
			return nil
		}
		e.unindexEntry(snap.Entry.OrderID)
		e.transition(ctx, KindBracket, id, snap.Symbol, StatusPendingEntry, StatusCancelled, "cancelled by caller")
		return nil
	case StatusActive:
		b.mu.Lock()
		exit := b.exit
		if exit == nil {
			// 出场 OCO 仍在提交，由 placeExit 在提交完成后撤销。
			b.cancelRequested = true
		}
		b.mu.Unlock()
		if exit == nil {
			return nil
		}
		return e.CancelOCO(ctx, exit.snap.ID)
	default:
		return nil
	}
}

// trackedOrders 返回等待状态推送的委托，按交易对分组。
func (e *Engine) trackedOrders() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	bySymbol := make(map[string][]string)
	for orderID, ref := range e.legs {
		bySymbol[ref.pair.snap.Symbol] = append(bySymbol[ref.pair.snap.Symbol], orderID)
	}
	for orderID, b := range e.entries {
		bySymbol[b.snap.Symbol] = append(bySymbol[b.snap.Symbol], orderID)
	}
	return bySymbol
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
