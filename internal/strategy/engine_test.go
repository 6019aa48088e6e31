package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testLimits() validation.Limits {
	return validation.Limits{MinQty: d("0.001"), MaxQty: d("1000"), MinPrice: d("0.01")}
}

func testSettings() Settings {
	return Settings{
		GridLevels:    10,
		GridSpread:    d("0.01"),
		TWAPDuration:  300 * time.Second,
		TWAPIntervals: 10,
	}
}

func newSim() *exchange.Simulated {
	return exchange.NewSimulated(config.SimulatedConfig{
		Prices:       map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 3000},
		DefaultPrice: 100,
	}, nil)
}

func newTestEngine(t *testing.T, gw exchange.Gateway, mutate ...func(*Settings)) *Engine {
	t.Helper()
	settings := testSettings()
	for _, fn := range mutate {
		fn(&settings)
	}
	e := NewEngine(gw, validation.NewStatic(nil, testLimits()), NewRegistry(time.Hour, time.Minute, nil), nil, settings, nil)
	t.Cleanup(e.Close)
	return e
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("strategy did not finish in time")
	}
}

// blockingGateway 在指定次数的提交上阻塞，直到测试放行。
type blockingGateway struct {
	*exchange.Simulated
	blockOn  int32
	calls    atomic.Int32
	entered  chan struct{}
	release  chan struct{}
	enterOne sync.Once
}

func newBlockingGateway(blockOn int32) *blockingGateway {
	return &blockingGateway{
		Simulated: newSim(),
		blockOn:   blockOn,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *blockingGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if g.calls.Add(1) == g.blockOn {
		g.enterOne.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.Simulated.SubmitOrder(ctx, req)
}

type panicGateway struct {
	*exchange.Simulated
}

func (panicGateway) SubmitOrder(context.Context, exchange.OrderRequest) (exchange.OrderResult, error) {
	panic("venue exploded")
}

// nativeGateway 提供原生 OCO。
type nativeGateway struct {
	*exchange.Simulated
	requests []exchange.OCORequest
}

func (g *nativeGateway) SubmitOCO(_ context.Context, req exchange.OCORequest) (exchange.OCOResult, error) {
	g.requests = append(g.requests, req)
	return exchange.OCOResult{
		ListID:     "list-1",
		TakeProfit: exchange.OrderResult{OrderID: "tp-1", Symbol: req.Symbol, Status: exchange.OrderStatusNew},
		StopLoss:   exchange.OrderResult{OrderID: "sl-1", Symbol: req.Symbol, Status: exchange.OrderStatusNew},
	}, nil
}

func TestEngineCancel_DispatchesByKind(t *testing.T) {
	sim := newSim()
	e := newTestEngine(t, sim)
	ctx := context.Background()

	grid, err := e.StartGrid(ctx, GridParams{Symbol: "BTCUSDT", BasePrice: d("50000"), Levels: 1, Spread: d("0.01"), Quantity: d("0.01")})
	require.NoError(t, err)
	require.ErrorIs(t, e.Cancel(ctx, grid.ID), ErrUnsupportedKind)

	pair, err := e.PlaceOCO(ctx, OCOParams{Symbol: "BTCUSDT", Side: exchange.SideSell, Quantity: d("0.01"), TakeProfitPrice: d("47000"), StopPrice: d("43000")})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, pair.Snapshot().ID))
	require.Equal(t, StatusCancelled, pair.Snapshot().Status)

	require.ErrorIs(t, e.Cancel(ctx, "twap-NOPE-1-deadbeef"), ErrNotFound)
}

func TestEngineClose_CancelsRunningTWAP(t *testing.T) {
	sim := newSim()
	e := NewEngine(sim, validation.NewStatic(nil, testLimits()), nil, nil, testSettings(), nil)

	handle, err := e.ExecuteTWAP(context.Background(), TWAPParams{
		Symbol:        "ETHUSDT",
		Side:          exchange.SideBuy,
		TotalQuantity: d("1"),
		Duration:      time.Hour,
		Intervals:     2,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return handle.Snapshot().Attempted == 1 }, time.Second, 5*time.Millisecond)

	e.Close()
	waitDone(t, handle.Done())
	require.Equal(t, StatusCancelled, handle.Snapshot().Status)
	require.Equal(t, "engine shutdown", handle.Snapshot().Reason)
}

func TestInternalError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &InternalError{Op: "twap.run", Cause: cause}
	require.ErrorIs(t, err, cause)

	require.Nil(t, (&InternalError{Op: "x", Cause: "text"}).Unwrap())
}
