package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-algo/internal/exchange"
	"trades-algo/internal/validation"
)

func TestBuildGridLevels_Scenario(t *testing.T) {
	levels := BuildGridLevels(d("50000"), d("0.01"), 2)
	require.Len(t, levels, 4)

	want := []struct {
		side  exchange.Side
		price string
	}{
		{exchange.SideBuy, "49500"},
		{exchange.SideBuy, "49000"},
		{exchange.SideSell, "50500"},
		{exchange.SideSell, "51000"},
	}
	for i, w := range want {
		assert.Equal(t, w.side, levels[i].Side, "level %d side", i)
		assert.True(t, levels[i].Price.Equal(d(w.price)), "level %d price %s want %s", i, levels[i].Price, w.price)
	}
}

func TestBuildGridLevels_Properties(t *testing.T) {
	cases := []struct {
		base   string
		spread string
		levels int
	}{
		{"50000", "0.01", 10},
		{"3000", "0.005", 7},
		{"0.5", "0.03", 5},
		{"123.456789", "0.0123", 3},
		{"1", "0.09", 11},
	}

	for _, tc := range cases {
		base, spread := d(tc.base), d(tc.spread)
		levels := BuildGridLevels(base, spread, tc.levels)
		require.Len(t, levels, 2*tc.levels)

		buys, sells := 0, 0
		for _, level := range levels {
			offset := spread.Mul(decimal.NewFromInt(int64(level.Index)))
			switch level.Side {
			case exchange.SideBuy:
				buys++
				assert.True(t, level.Price.LessThan(base), "buy %s not below %s", level.Price, base)
				assert.True(t, level.Price.Equal(base.Mul(d("1").Sub(offset)).Round(8)))
			case exchange.SideSell:
				sells++
				assert.True(t, level.Price.GreaterThan(base), "sell %s not above %s", level.Price, base)
				assert.True(t, level.Price.Equal(base.Mul(d("1").Add(offset)).Round(8)))
			}
		}
		assert.Equal(t, tc.levels, buys)
		assert.Equal(t, tc.levels, sells)
	}
}

func TestStartGrid_SubmitsLadder(t *testing.T) {
	sim := newSim()
	e := newTestEngine(t, sim)

	grid, err := e.StartGrid(context.Background(), GridParams{
		Symbol:    "btcusdt",
		BasePrice: d("50000"),
		Levels:    2,
		Spread:    d("0.01"),
		Quantity:  d("0.01"),
	})
	require.NoError(t, err)
	require.Equal(t, 4, grid.Requested)
	require.Equal(t, 4, grid.Placed)
	require.Equal(t, StatusPlaced, grid.Status)

	submitted := sim.Submitted()
	require.Len(t, submitted, 4)
	sides := []exchange.Side{exchange.SideBuy, exchange.SideBuy, exchange.SideSell, exchange.SideSell}
	for i, req := range submitted {
		assert.Equal(t, "BTCUSDT", req.Symbol)
		assert.Equal(t, sides[i], req.Side)
		assert.Equal(t, exchange.OrderTypeLimit, req.Type)
		assert.Equal(t, exchange.TimeInForceGTC, req.TimeInForce)
		assert.True(t, req.Quantity.Equal(d("0.01")))
	}

	stored, err := e.Registry().Get(grid.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPlaced, stored.Summary().Status)
	require.True(t, stored.Summary().Status.Terminal())
}

func TestStartGrid_PartialFailureKeepsGoing(t *testing.T) {
	sim := newSim()
	sim.SetRejector(func(req exchange.OrderRequest) error {
		if req.Side == exchange.SideBuy && req.Price.Decimal.Equal(d("49000")) {
			return errors.New("price out of band")
		}
		return nil
	})
	e := newTestEngine(t, sim)

	grid, err := e.StartGrid(context.Background(), GridParams{
		Symbol:    "BTCUSDT",
		BasePrice: d("50000"),
		Levels:    2,
		Spread:    d("0.01"),
		Quantity:  d("0.01"),
	})
	require.NoError(t, err)
	require.Equal(t, 4, grid.Requested)
	require.Equal(t, 3, grid.Placed)
	require.Len(t, grid.Outcomes, 4)
	require.False(t, grid.Outcomes[1].OK())
	require.Equal(t, "BUY-2", grid.Outcomes[1].Leg)
	require.Len(t, sim.Submitted(), 4)
}

func TestStartGrid_ValidationShortCircuits(t *testing.T) {
	sim := newSim()
	e := newTestEngine(t, sim)

	_, err := e.StartGrid(context.Background(), GridParams{
		Symbol:    "BTCUSDT",
		BasePrice: d("50000"),
		Levels:    2,
		Spread:    d("0.6"),
		Quantity:  d("-1"),
	})
	require.Error(t, err)
	problems := validation.Problems(err)
	require.Len(t, problems, 2)
	require.Contains(t, problems[0], "Invalid quantity")
	require.Contains(t, problems[1], "lowest level price")
	require.Empty(t, sim.Submitted())
	require.Zero(t, e.Registry().Len())
}

func TestStartGrid_UsesDefaultsAndPerCallLimits(t *testing.T) {
	sim := newSim()
	e := newTestEngine(t, sim)

	grid, err := e.StartGrid(context.Background(), GridParams{
		Symbol:    "ETHUSDT",
		BasePrice: d("3000"),
		Quantity:  d("0.5"),
	})
	require.NoError(t, err)
	require.Equal(t, 10, grid.Levels)
	require.True(t, grid.Spread.Equal(d("0.01")))
	require.Equal(t, 20, grid.Requested)

	tight := validation.Limits{MinQty: d("1"), MaxQty: d("2"), MinPrice: d("0.01")}
	_, err = e.StartGrid(context.Background(), GridParams{
		Symbol:    "ETHUSDT",
		BasePrice: d("3000"),
		Quantity:  d("0.5"),
		Limits:    &tight,
	})
	require.Error(t, err)
}

func TestStartGrid_RejectsLevelsCollapsingOntoBase(t *testing.T) {
	sim := newSim()
	e := newTestEngine(t, sim)

	// 0.01 × (1 ∓ 1e-9) 取 8 位小数后等于中心价。
	_, err := e.StartGrid(context.Background(), GridParams{
		Symbol:    "ADAUSDT",
		BasePrice: d("0.01"),
		Levels:    1,
		Spread:    d("0.000000001"),
		Quantity:  d("1"),
	})
	require.Error(t, err)
	problems := validation.Problems(err)
	require.Len(t, problems, 1)
	require.Contains(t, problems[0], "collapse onto base price")
	require.Empty(t, sim.Submitted())
}
