package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-algo/internal/config"
)

const simulatedFirstOrderID = 10000001

// Simulated 为无外部调用的本地网关。市价单立即成交，其余委托挂单等待 Fill。
type Simulated struct {
	logger *zap.Logger

	mu           sync.Mutex
	nextID       int64
	symbols      []string
	prices       map[string]decimal.Decimal
	defaultPrice decimal.Decimal
	orders       map[string]*OrderResult
	submitted    []OrderRequest
	reject       func(OrderRequest) error
	now          func() time.Time
}

// NewSimulated 根据配置构造模拟网关。
func NewSimulated(cfg config.SimulatedConfig, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}

	prices := make(map[string]decimal.Decimal, len(cfg.Prices))
	for symbol, price := range cfg.Prices {
		// viper 会把 map 键转为小写。
		prices[NormalizeSymbol(symbol)] = decimal.NewFromFloat(price)
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		if s := NormalizeSymbol(symbol); s != "" {
			symbols = append(symbols, s)
		}
	}

	return &Simulated{
		logger:       logger,
		nextID:       simulatedFirstOrderID,
		symbols:      symbols,
		prices:       prices,
		defaultPrice: decimal.NewFromFloat(cfg.DefaultPrice),
		orders:       make(map[string]*OrderResult),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetRejector 设置提交前的拒单钩子，返回非空错误时该笔委托被拒。
func (s *Simulated) SetRejector(fn func(OrderRequest) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = fn
}

// SetPrice 更新交易对的模拟价格。
func (s *Simulated) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[NormalizeSymbol(symbol)] = price
}

// SubmitOrder 实现 Gateway。
func (s *Simulated) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, wrapErr("submit_order", req.Symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitted = append(s.submitted, req)
	if s.reject != nil {
		if err := s.reject(req); err != nil {
			return OrderResult{}, wrapErr("submit_order", req.Symbol, err)
		}
	}

	symbol := req.NormalizedSymbol()
	result := OrderResult{
		OrderID:       strconv.FormatInt(s.nextID, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        OrderStatusNew,
		Quantity:      req.Quantity,
		Filled:        decimal.Zero,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		Timestamp:     s.now(),
	}
	s.nextID++

	if req.Type == OrderTypeMarket {
		result.Status = OrderStatusFilled
		result.Filled = req.Quantity
		if !result.Price.Valid {
			result.Price = Price(s.priceLocked(symbol))
		}
	}

	stored := result
	s.orders[result.OrderID] = &stored

	s.logger.Debug("模拟委托已受理",
		zap.String("order_id", result.OrderID),
		zap.String("symbol", symbol),
		zap.String("type", string(req.Type)),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// CancelOrder 实现 Gateway。
func (s *Simulated) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("cancel_order", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.Status.Done() || (symbol != "" && order.Symbol != NormalizeSymbol(symbol)) {
		return wrapErr("cancel_order", symbol, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID))
	}
	order.Status = OrderStatusCanceled
	return nil
}

// ListOpenOrders 实现 Gateway。
func (s *Simulated) ListOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("list_open_orders", symbol, err)
	}

	filter := NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]OrderResult, 0, len(s.orders))
	for _, order := range s.orders {
		if order.Status.Done() {
			continue
		}
		if filter != "" && order.Symbol != filter {
			continue
		}
		open = append(open, *order)
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OrderID < open[j].OrderID
	})
	return open, nil
}

// GetPrice 实现 Gateway，未配置的交易对返回默认价。
func (s *Simulated) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, wrapErr("get_price", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priceLocked(NormalizeSymbol(symbol)), nil
}

// GetOrder 实现 OrderLookup。
func (s *Simulated) GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, wrapErr("get_order", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return OrderResult{}, wrapErr("get_order", symbol, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID))
	}
	return *order, nil
}

// Symbols 实现 SymbolCatalog。未配置交易对清单时返回 ErrUnsupported。
func (s *Simulated) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.symbols) == 0 {
		return nil, ErrUnsupported
	}
	return append([]string(nil), s.symbols...), nil
}

// Fill 将挂单标记为全部成交。
func (s *Simulated) Fill(orderID string) (OrderResult, error) {
	return s.settle(orderID, OrderStatusFilled)
}

// Expire 将挂单标记为过期。
func (s *Simulated) Expire(orderID string) (OrderResult, error) {
	return s.settle(orderID, OrderStatusExpired)
}

// Submitted 返回按提交顺序记录的全部请求，包括被拒的请求。
func (s *Simulated) Submitted() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderRequest(nil), s.submitted...)
}

func (s *Simulated) settle(orderID string, status OrderStatus) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.Status.Done() {
		return OrderResult{}, fmt.Errorf("exchange: 模拟委托 %s 不存在或已结束: %w", orderID, ErrOrderNotFound)
	}
	order.Status = status
	if status == OrderStatusFilled {
		order.Filled = order.Quantity
	}
	return *order, nil
}

func (s *Simulated) priceLocked(symbol string) decimal.Decimal {
	if price, ok := s.prices[symbol]; ok {
		return price
	}
	return s.defaultPrice
}
