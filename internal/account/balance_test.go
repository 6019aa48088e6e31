package account

import (
	"context"
	"errors"
	"strings"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
)

type fakeBalanceClient struct {
	balances ccxt.Balances
	err      error
}

func (f *fakeBalanceClient) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	return f.balances, f.err
}

func floatPtr(v float64) *float64 { return &v }

func TestFetchBalance_Simulated(t *testing.T) {
	m := NewSimulated(decimal.NewFromInt(10000))

	balance, err := m.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance returned error: %v", err)
	}
	if !balance.Simulated || balance.Asset != "USDT" {
		t.Fatalf("unexpected balance %+v", balance)
	}
	if !balance.Total.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected 10000, got %s", balance.Total)
	}
	if !strings.Contains(balance.String(), "10000.00") {
		t.Errorf("unexpected string %q", balance.String())
	}
}

func TestFetchBalance_PrefersUSDT(t *testing.T) {
	client := &fakeBalanceClient{balances: ccxt.Balances{
		Total: map[string]*float64{"USDC": floatPtr(50), "USDT": floatPtr(1200.5)},
		Free:  map[string]*float64{"USDT": floatPtr(1000)},
		Used:  map[string]*float64{"USDT": floatPtr(200.5)},
		Info:  map[string]interface{}{"totalUnrealizedProfit": "-12.25"},
	}}
	m := NewManager(client, nil)

	balance, err := m.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance returned error: %v", err)
	}
	if balance.Asset != "USDT" {
		t.Errorf("expected USDT, got %s", balance.Asset)
	}
	if !balance.Total.Equal(decimal.RequireFromString("1200.5")) {
		t.Errorf("unexpected total %s", balance.Total)
	}
	if !balance.Free.Equal(decimal.NewFromInt(1000)) || !balance.Used.Equal(decimal.RequireFromString("200.5")) {
		t.Errorf("unexpected free/used %s/%s", balance.Free, balance.Used)
	}
	if !balance.Unrealized.Equal(decimal.RequireFromString("-12.25")) {
		t.Errorf("unexpected unrealized %s", balance.Unrealized)
	}
	if balance.Simulated {
		t.Errorf("live balance flagged simulated")
	}
}

func TestFetchBalance_FreeFallsBackToInfo(t *testing.T) {
	client := &fakeBalanceClient{balances: ccxt.Balances{
		Total: map[string]*float64{"USDC": floatPtr(300)},
		Info:  map[string]interface{}{"availableBalance": 280.0},
	}}

	balance, err := NewManager(client, nil).FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("FetchBalance returned error: %v", err)
	}
	if balance.Asset != "USDC" || !balance.Free.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestFetchBalance_WrapsError(t *testing.T) {
	cause := errors.New("invalid api key")
	_, err := NewManager(&fakeBalanceClient{err: cause}, nil).FetchBalance(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "account:") {
		t.Errorf("expected package prefix, got %q", err.Error())
	}
}
