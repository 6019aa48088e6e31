package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
	"trades-algo/internal/monitor"
	"trades-algo/internal/validation"
)

func TestDeskPlaceMarket_SubmitsAndJournals(t *testing.T) {
	desk, sim, sink := newTestDesk()

	result, err := desk.PlaceMarket(context.Background(), "btcusdt", "buy", dec("0.01"), Options{})
	if err != nil {
		t.Fatalf("PlaceMarket returned error: %v", err)
	}
	if result.Status != exchange.OrderStatusFilled {
		t.Errorf("expected market order filled, got %s", result.Status)
	}
	if !result.Price.Decimal.Equal(dec("45000")) {
		t.Errorf("expected fill at quote 45000, got %s", result.Price.Decimal)
	}

	submitted := sim.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submitted))
	}
	if submitted[0].Symbol != "BTCUSDT" || submitted[0].Side != exchange.SideBuy {
		t.Errorf("unexpected request %+v", submitted[0])
	}

	if len(sink.orders) != 1 || sink.orders[0].OrderID != result.OrderID {
		t.Fatalf("expected order journaled, got %+v", sink.orders)
	}
	if sink.orders[0].StrategyKind != component {
		t.Errorf("expected journal source %q, got %q", component, sink.orders[0].StrategyKind)
	}
}

func TestDeskPlaceLimit_DefaultsToGTC(t *testing.T) {
	desk, sim, _ := newTestDesk()

	result, err := desk.PlaceLimit(context.Background(), "ETHUSDT", exchange.SideSell, dec("1"), dec("3100"), "", Options{ReduceOnly: true, ClientOrderID: "abc-1"})
	if err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	if result.Status != exchange.OrderStatusNew {
		t.Errorf("expected resting order, got %s", result.Status)
	}

	req := sim.Submitted()[0]
	if req.TimeInForce != exchange.TimeInForceGTC {
		t.Errorf("expected GTC, got %s", req.TimeInForce)
	}
	if !req.ReduceOnly || req.ClientOrderID != "abc-1" {
		t.Errorf("expected options forwarded, got %+v", req)
	}

	if _, err := desk.PlaceLimit(context.Background(), "ETHUSDT", exchange.SideSell, dec("1"), dec("3100"), exchange.TimeInForceIOC, Options{}); err != nil {
		t.Fatalf("PlaceLimit IOC returned error: %v", err)
	}
	if got := sim.Submitted()[1].TimeInForce; got != exchange.TimeInForceIOC {
		t.Errorf("expected IOC, got %s", got)
	}
}

func TestDeskPlaceStopLimit_BuildsStopOrder(t *testing.T) {
	desk, sim, _ := newTestDesk()

	if _, err := desk.PlaceStopLimit(context.Background(), "BTCUSDT", exchange.SideSell, dec("0.5"), dec("43000"), dec("42900"), Options{}); err != nil {
		t.Fatalf("PlaceStopLimit returned error: %v", err)
	}

	req := sim.Submitted()[0]
	if req.Type != exchange.OrderTypeStop {
		t.Errorf("expected STOP, got %s", req.Type)
	}
	if !req.StopPrice.Valid || !req.StopPrice.Decimal.Equal(dec("43000")) {
		t.Errorf("unexpected stop price %+v", req.StopPrice)
	}
	if !req.Price.Valid || !req.Price.Decimal.Equal(dec("42900")) {
		t.Errorf("unexpected limit price %+v", req.Price)
	}
	if req.TimeInForce != exchange.TimeInForceGTC {
		t.Errorf("expected GTC, got %s", req.TimeInForce)
	}
}

func TestDeskPlace_ValidationShortCircuits(t *testing.T) {
	desk, sim, sink := newTestDesk()

	_, err := desk.PlaceStopLimit(context.Background(), "BTCUSDT", "HOLD", dec("-1"), dec("0"), dec("42900"), Options{})
	problems := validation.Problems(err)
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", problems)
	}
	if !strings.HasPrefix(problems[2], "Invalid stop price") {
		t.Errorf("expected stop price problem last, got %q", problems[2])
	}
	if len(sim.Submitted()) != 0 {
		t.Errorf("gateway must not be called on validation failure")
	}
	if len(sink.errors) != 1 {
		t.Errorf("expected validation failure journaled, got %d", len(sink.errors))
	}

	tight := validation.Limits{MinQty: dec("1"), MaxQty: dec("2"), MinPrice: dec("0.01")}
	if _, err := desk.PlaceMarket(context.Background(), "BTCUSDT", exchange.SideBuy, dec("0.5"), Options{Limits: &tight}); err == nil {
		t.Fatalf("expected per-call limits to reject quantity")
	}
}

func TestDeskPlace_GatewayFailureJournaled(t *testing.T) {
	desk, sim, sink := newTestDesk()
	sim.SetRejector(func(exchange.OrderRequest) error { return errors.New("margin is insufficient") })

	if _, err := desk.PlaceMarket(context.Background(), "BTCUSDT", exchange.SideBuy, dec("0.01"), Options{}); err == nil {
		t.Fatalf("expected gateway error")
	}
	if len(sink.orders) != 1 || sink.orders[0].Status != "FAILED" {
		t.Errorf("expected failed order event, got %+v", sink.orders)
	}
	if len(sink.errors) != 1 {
		t.Errorf("expected error event, got %d", len(sink.errors))
	}
}

func TestDeskOpenOrdersAndCancel(t *testing.T) {
	desk, _, _ := newTestDesk()
	ctx := context.Background()

	first, err := desk.PlaceLimit(ctx, "BTCUSDT", exchange.SideBuy, dec("0.01"), dec("44000"), "", Options{})
	if err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	if _, err := desk.PlaceLimit(ctx, "ETHUSDT", exchange.SideBuy, dec("1"), dec("2900"), "", Options{}); err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}

	all, err := desk.OpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("OpenOrders returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(all))
	}
	btc, _ := desk.OpenOrders(ctx, "btcusdt")
	if len(btc) != 1 || btc[0].OrderID != first.OrderID {
		t.Fatalf("expected symbol filter, got %+v", btc)
	}

	if err := desk.Cancel(ctx, "btcusdt", first.OrderID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if err := desk.Cancel(ctx, "BTCUSDT", first.OrderID); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on second cancel, got %v", err)
	}

	price, err := desk.Price(ctx, "ethusdt")
	if err != nil || !price.Equal(dec("3000")) {
		t.Fatalf("unexpected price %s err=%v", price, err)
	}
}

func newTestDesk() (*Desk, *exchange.Simulated, *recordingSink) {
	sim := exchange.NewSimulated(config.SimulatedConfig{
		Prices:       map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 3000},
		DefaultPrice: 100,
	}, nil)
	limits := validation.Limits{MinQty: dec("0.001"), MaxQty: dec("1000"), MinPrice: dec("0.01")}
	sink := &recordingSink{}
	return NewDesk(sim, validation.NewStatic(nil, limits), sink, nil), sim, sink
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recordingSink struct {
	mu     sync.Mutex
	orders []monitor.OrderEvent
	errors []string
}

func (s *recordingSink) LogOrder(_ context.Context, event monitor.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, event)
}

func (s *recordingSink) LogStrategy(context.Context, monitor.StrategyEvent) {}

func (s *recordingSink) LogError(_ context.Context, _ string, message string, _ error, _ map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
}

func TestDeskPlace_RestingOrderRequiresPrice(t *testing.T) {
	desk, sim, _ := newTestDesk()

	_, err := desk.Place(context.Background(), Ticket{
		Symbol:   "BTCUSDT",
		Side:     exchange.SideSell,
		Type:     exchange.OrderTypeLimit,
		Quantity: dec("0.01"),
	}, Options{})
	problems := validation.Problems(err)
	if len(problems) != 1 || !strings.Contains(problems[0], "LIMIT order requires a price") {
		t.Fatalf("expected missing price problem, got %v", problems)
	}

	// 止损市价单只需触发价。
	result, err := desk.Place(context.Background(), Ticket{
		Symbol:    "BTCUSDT",
		Side:      exchange.SideSell,
		Type:      exchange.OrderTypeStopMarket,
		Quantity:  dec("0.01"),
		StopPrice: decimal.NewNullDecimal(dec("43000")),
	}, Options{ReduceOnly: true})
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if result.Status != exchange.OrderStatusNew {
		t.Errorf("expected stop order resting, got %s", result.Status)
	}
	if len(sim.Submitted()) != 1 {
		t.Errorf("expected only the stop order submitted, got %d", len(sim.Submitted()))
	}
}
