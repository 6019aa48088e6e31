package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
)

func defaultLimits() Limits {
	return LimitsFromConfig(config.LimitsConfig{MinQty: 0.001, MaxQty: 1000, MinPrice: 0.01})
}

func qty(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestValidate_AcceptsWellFormedOrder(t *testing.T) {
	v := NewStatic([]string{"BTCUSDT"}, defaultLimits())

	problems := v.Validate("btcusdt", "buy", "limit", qty("0.01"), exchange.Price(qty("45000")))
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %v", problems)
	}
}

func TestValidate_OneEntryPerFailingCheck(t *testing.T) {
	v := NewStatic(nil, defaultLimits())

	problems := v.Validate("", "X", "MARKET", qty("-1"), exchange.NoPrice)
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", len(problems), problems)
	}
	prefixes := []string{"Invalid symbol", "Invalid side", "Invalid quantity"}
	for i, prefix := range prefixes {
		if !strings.HasPrefix(problems[i], prefix) {
			t.Errorf("problem %d = %q, want prefix %q", i, problems[i], prefix)
		}
	}
}

func TestValidate_Table(t *testing.T) {
	v := NewStatic([]string{"BTCUSDT", "ETHUSDT"}, defaultLimits())

	cases := []struct {
		name      string
		symbol    string
		side      string
		orderType string
		quantity  decimal.Decimal
		price     decimal.NullDecimal
		want      int
	}{
		{"unknown symbol", "DOGEUSDT", "BUY", "MARKET", qty("1"), exchange.NoPrice, 1},
		{"bad type", "BTCUSDT", "SELL", "ICEBERG", qty("1"), exchange.NoPrice, 1},
		{"quantity below min", "BTCUSDT", "SELL", "MARKET", qty("0.0001"), exchange.NoPrice, 1},
		{"quantity at max", "BTCUSDT", "SELL", "MARKET", qty("1000"), exchange.NoPrice, 0},
		{"quantity above max", "BTCUSDT", "SELL", "MARKET", qty("1000.1"), exchange.NoPrice, 1},
		{"price below min", "BTCUSDT", "BUY", "LIMIT", qty("1"), exchange.Price(qty("0.001")), 1},
		{"zero price", "BTCUSDT", "BUY", "LIMIT", qty("1"), exchange.Price(decimal.Zero), 1},
		{"stop market", "ETHUSDT", "BUY", "STOP_MARKET", qty("1"), exchange.NoPrice, 0},
		{"everything wrong", "", "HOLD", "", decimal.Zero, exchange.Price(qty("-5")), 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := v.Validate(tc.symbol, tc.side, tc.orderType, tc.quantity, tc.price)
			if len(got) != tc.want {
				t.Errorf("got %d problems %v, want %d", len(got), got, tc.want)
			}
		})
	}
}

func TestValidate_LimitsOverridablePerCall(t *testing.T) {
	v := NewStatic(nil, defaultLimits())
	tight := Limits{MinQty: qty("1"), MaxQty: qty("2"), MinPrice: qty("100")}

	if problems := v.Validate("BTCUSDT", "BUY", "LIMIT", qty("0.5"), exchange.Price(qty("50"))); len(problems) != 0 {
		t.Fatalf("default limits should pass, got %v", problems)
	}
	problems := v.Validate("BTCUSDT", "BUY", "LIMIT", qty("0.5"), exchange.Price(qty("50")), WithLimits(tight))
	if len(problems) != 2 {
		t.Fatalf("expected quantity and price problems, got %v", problems)
	}
}

func TestCheck_ReturnsValidationError(t *testing.T) {
	v := NewStatic(nil, defaultLimits())

	err := v.Check("BTCUSDT", "BUY", "MARKET", qty("5000"), exchange.NoPrice)
	var vErr *Error
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(Problems(err)) != 1 {
		t.Errorf("expected single problem, got %v", Problems(err))
	}
	if err := v.Check("BTCUSDT", "BUY", "MARKET", qty("1"), exchange.NoPrice); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNewValidator_LoadsCatalogFromGateway(t *testing.T) {
	sim := exchange.NewSimulated(config.SimulatedConfig{Symbols: []string{"BTCUSDT"}, DefaultPrice: 100}, nil)
	v := NewValidator(context.Background(), sim, defaultLimits(), nil)

	if problems := v.Validate("ETHUSDT", "BUY", "MARKET", qty("1"), exchange.NoPrice); len(problems) != 1 {
		t.Fatalf("expected unknown symbol rejected, got %v", problems)
	}
}

func TestNewValidator_CatalogUnavailablePasses(t *testing.T) {
	sim := exchange.NewSimulated(config.SimulatedConfig{DefaultPrice: 100}, nil)
	v := NewValidator(context.Background(), sim, defaultLimits(), nil)

	if problems := v.Validate("ANYTHING", "BUY", "MARKET", qty("1"), exchange.NoPrice); len(problems) != 0 {
		t.Fatalf("expected symbol check to pass without catalog, got %v", problems)
	}
	if problems := v.Validate("", "BUY", "MARKET", qty("1"), exchange.NoPrice); len(problems) != 1 {
		t.Fatalf("empty symbol must always fail, got %v", problems)
	}
}
