package main

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecimalFlag(t *testing.T) {
	fs := newFlagSet("test")
	qty := decimalFlag(fs, "qty", "")
	limit := decimalFlag(fs, "limit", "")

	if err := fs.Parse([]string{"-qty", " 0.125 "}); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !qty.Decimal().Equal(decimal.RequireFromString("0.125")) {
		t.Errorf("unexpected qty %s", qty)
	}
	if limit.value.Valid || limit.String() != "" {
		t.Errorf("unset flag should stay invalid, got %q", limit.String())
	}

	if err := newFlagSet("bad").Parse([]string{"-x"}); err == nil {
		t.Fatalf("expected unknown flag error")
	}
	bad := newFlagSet("bad")
	decimalFlag(bad, "qty", "")
	if err := bad.Parse([]string{"-qty", "abc"}); err == nil {
		t.Fatalf("expected invalid decimal error")
	}
}

func TestRequiredReportsAllMissing(t *testing.T) {
	fs := newFlagSet("test")
	fs.String("symbol", "", "")
	decimalFlag(fs, "qty", "")
	fs.String("side", "", "")
	if err := fs.Parse([]string{"-symbol", "BTCUSDT"}); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	err := required(fs, "symbol", "side", "qty")
	if err == nil {
		t.Fatalf("expected missing flags error")
	}
	if !strings.Contains(err.Error(), "-side") || !strings.Contains(err.Error(), "-qty") {
		t.Errorf("unexpected error %v", err)
	}
	if strings.Contains(err.Error(), "-symbol") {
		t.Errorf("symbol was provided, got %v", err)
	}
}

func TestParseSideUppercases(t *testing.T) {
	if got := parseSide(" buy "); got != "BUY" {
		t.Errorf("parseSide returned %q", got)
	}
}

func TestCommandsListed(t *testing.T) {
	if len(commandOrder) != len(commands) {
		t.Fatalf("commandOrder has %d entries, commands has %d", len(commandOrder), len(commands))
	}
	for _, name := range commandOrder {
		if _, ok := commands[name]; !ok {
			t.Errorf("command %q missing", name)
		}
	}
}
