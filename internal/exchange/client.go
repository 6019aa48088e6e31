package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"trades-algo/internal/config"
)

// venue 为 Client 依赖的 ccxt 方法子集。
type venue interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// Client 为实盘网关，负责与交易所交互并实现重试与熔断。
type Client struct {
	cfg     config.ExchangeConfig
	logger  *zap.Logger
	venue   venue
	raw     *ccxt.Binanceusdm
	breaker *gobreaker.CircuitBreaker[struct{}]

	marketsMu     sync.Mutex
	marketsLoaded bool
	// byID 将交易所原始 ID（BTCUSDT）映射到 ccxt 统一符号（BTC/USDT:USDT）。
	byID map[string]string
}

// NewClient 构造 Binance USDⓈ-M 实盘网关。
func NewClient(cfg config.ExchangeConfig, breaker config.BreakerConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("exchange: 实盘网关需要 api_key 与 api_secret")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"apiKey":          cfg.APIKey,
		"secret":          cfg.APISecret,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	c := newClient(cfg, breaker, ex, logger)
	c.raw = ex
	return c, nil
}

func newClient(cfg config.ExchangeConfig, breakerCfg config.BreakerConfig, v venue, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxFailures := breakerCfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// 业务拒单不代表交易所不可用。
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("交易所熔断状态变化",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		cfg:     cfg,
		logger:  logger,
		venue:   v,
		breaker: breaker,
		byID:    make(map[string]string),
	}
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Binanceusdm {
	return c.raw
}

// SubmitOrder 提交委托。下单不是幂等操作，只有携带 ClientOrderID 时才会重试。
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	symbol, err := c.resolve(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, wrapErr("submit_order", req.Symbol, err)
	}

	params := map[string]interface{}{}
	if req.StopPrice.Valid {
		params["stopPrice"] = req.StopPrice.Decimal.InexactFloat64()
	}
	if req.TimeInForce != "" && req.Type != OrderTypeMarket && req.Type != OrderTypeStopMarket && req.Type != OrderTypeTakeProfitMarket {
		params["timeInForce"] = string(req.TimeInForce)
	}
	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.ClientOrderID != "" {
		params["clientOrderId"] = req.ClientOrderID
	}

	opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
	if req.Price.Valid {
		opts = append(opts, ccxt.WithCreateOrderPrice(req.Price.Decimal.InexactFloat64()))
	}

	var raw ccxt.Order
	call := func() error {
		order, callErr := c.venue.CreateOrder(
			symbol,
			strings.ToLower(string(req.Type)),
			strings.ToLower(string(req.Side)),
			req.Quantity.InexactFloat64(),
			opts...,
		)
		if callErr != nil {
			return callErr
		}
		raw = order
		return nil
	}

	if req.ClientOrderID != "" {
		err = c.callWithRetry(ctx, "submit_order", call)
	} else {
		err = c.callOnce(ctx, "submit_order", call)
	}
	if err != nil {
		return OrderResult{}, wrapErr("submit_order", req.Symbol, err)
	}

	return convertOrder(raw, req), nil
}

// CancelOrder 撤销委托。撤单可以安全重复，因此按读操作重试。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	unified, err := c.resolve(ctx, symbol)
	if err != nil {
		return wrapErr("cancel_order", symbol, err)
	}

	err = c.callWithRetry(ctx, "cancel_order", func() error {
		_, callErr := c.venue.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(unified))
		return callErr
	})
	return wrapErr("cancel_order", symbol, err)
}

// ListOpenOrders 查询挂单。
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	var opts []ccxt.FetchOpenOrdersOptions
	if strings.TrimSpace(symbol) != "" {
		unified, err := c.resolve(ctx, symbol)
		if err != nil {
			return nil, wrapErr("list_open_orders", symbol, err)
		}
		opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(unified))
	}

	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "list_open_orders", func() error {
		orders, callErr := c.venue.FetchOpenOrders(opts...)
		if callErr != nil {
			return callErr
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, wrapErr("list_open_orders", symbol, err)
	}

	results := make([]OrderResult, 0, len(raw))
	for _, order := range raw {
		results = append(results, convertOrder(order, OrderRequest{}))
	}
	return results, nil
}

// GetOrder 按 ID 查询委托。
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	unified, err := c.resolve(ctx, symbol)
	if err != nil {
		return OrderResult{}, wrapErr("get_order", symbol, err)
	}

	var raw ccxt.Order
	err = c.callWithRetry(ctx, "get_order", func() error {
		order, callErr := c.venue.FetchOrder(orderID, ccxt.WithFetchOrderSymbol(unified))
		if callErr != nil {
			return callErr
		}
		raw = order
		return nil
	})
	if err != nil {
		return OrderResult{}, wrapErr("get_order", symbol, err)
	}
	return convertOrder(raw, OrderRequest{}), nil
}

// GetPrice 获取最新成交价。
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	unified, err := c.resolve(ctx, symbol)
	if err != nil {
		return decimal.Zero, wrapErr("get_price", symbol, err)
	}

	var ticker ccxt.Ticker
	err = c.callWithRetry(ctx, "get_price", func() error {
		t, callErr := c.venue.FetchTicker(unified)
		if callErr != nil {
			return callErr
		}
		ticker = t
		return nil
	})
	if err != nil {
		return decimal.Zero, wrapErr("get_price", symbol, err)
	}

	switch {
	case ticker.Last != nil && *ticker.Last > 0:
		return decimal.NewFromFloat(*ticker.Last), nil
	case ticker.Close != nil && *ticker.Close > 0:
		return decimal.NewFromFloat(*ticker.Close), nil
	default:
		return decimal.Zero, wrapErr("get_price", symbol, errors.New("行情缺少最新价"))
	}
}

// Symbols 返回交易所原始交易对 ID 以及 ccxt 统一符号。
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, wrapErr("load_markets", "", err)
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	symbols := make([]string, 0, len(c.byID)*2)
	for id, unified := range c.byID {
		symbols = append(symbols, id, unified)
	}
	return symbols, nil
}

func (c *Client) resolve(ctx context.Context, symbol string) (string, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return "", err
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if unified, ok := c.byID[NormalizeSymbol(symbol)]; ok {
		return unified, nil
	}
	return strings.TrimSpace(symbol), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	loaded := c.marketsLoaded
	c.marketsMu.Unlock()
	if loaded {
		return nil
	}

	var markets map[string]ccxt.MarketInterface
	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		result, err := c.venue.LoadMarkets()
		if err != nil {
			return err
		}
		markets = result
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	for unified, market := range markets {
		if market.Id != nil && *market.Id != "" {
			c.byID[NormalizeSymbol(*market.Id)] = unified
		}
	}
	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Int("markets", len(markets)))
	return nil
}

// callOnce 经过熔断器执行一次，不做重试。
func (c *Client) callOnce(ctx context.Context, operation string, fn func() error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		return nil
	}

	normalizedErr, _ := classifyError(err)
	c.logger.Error("交易所调用失败",
		zap.String("operation", operation),
		zap.Duration("latency", time.Since(start)),
		zap.Error(normalizedErr),
	)
	return normalizedErr
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		_, err := c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, fn()
		})
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertOrder(order ccxt.Order, req OrderRequest) OrderResult {
	result := OrderResult{
		OrderID:       derefString(order.Id),
		ClientOrderID: firstNonEmpty(derefString(order.ClientOrderId), req.ClientOrderID),
		Symbol:        firstNonEmpty(req.NormalizedSymbol(), NormalizeSymbol(derefString(order.Symbol))),
		Side:          Side(firstNonEmpty(string(req.Side), strings.ToUpper(derefString(order.Side)))),
		Type:          OrderType(firstNonEmpty(string(req.Type), strings.ToUpper(derefString(order.Type)))),
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		TimeInForce:   TimeInForce(firstNonEmpty(string(req.TimeInForce), strings.ToUpper(derefString(order.TimeInForce)))),
		ReduceOnly:    req.ReduceOnly,
		Timestamp:     time.Now().UTC(),
	}

	if order.Amount != nil && result.Quantity.IsZero() {
		result.Quantity = decimal.NewFromFloat(*order.Amount)
	}
	if order.Price != nil && *order.Price > 0 && !result.Price.Valid {
		result.Price = Price(decimal.NewFromFloat(*order.Price))
	}
	if order.Filled != nil {
		result.Filled = decimal.NewFromFloat(*order.Filled)
	}
	if order.Timestamp != nil && *order.Timestamp > 0 {
		result.Timestamp = time.UnixMilli(*order.Timestamp).UTC()
	}
	result.Status = convertStatus(derefString(order.Status), result.Filled)

	return result
}

func convertStatus(status string, filled decimal.Decimal) OrderStatus {
	switch strings.ToLower(status) {
	case "closed", "filled":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCanceled
	case "expired":
		return OrderStatusExpired
	case "rejected":
		return OrderStatusRejected
	case "open", "new", "":
		if filled.IsPositive() {
			return OrderStatusPartiallyFilled
		}
		return OrderStatusNew
	default:
		return OrderStatus(strings.ToUpper(status))
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// String 便于日志输出。
func (r OrderResult) String() string {
	return fmt.Sprintf("%s %s %s %s qty=%s status=%s", r.OrderID, r.Symbol, r.Side, r.Type, r.Quantity, r.Status)
}
