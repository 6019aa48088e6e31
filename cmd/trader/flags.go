package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"trades-algo/internal/exchange"
)

// decimalValue 让十进制数作为命令行参数，未设置时保持无效。
type decimalValue struct {
	value decimal.NullDecimal
}

func (d *decimalValue) String() string {
	if d == nil || !d.value.Valid {
		return ""
	}
	return d.value.Decimal.String()
}

func (d *decimalValue) Set(raw string) error {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("无效的数值 %q", raw)
	}
	d.value = decimal.NewNullDecimal(parsed)
	return nil
}

// Decimal 返回参数值，未设置时为零。
func (d *decimalValue) Decimal() decimal.Decimal {
	return d.value.Decimal
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func decimalFlag(fs *flag.FlagSet, name, usage string) *decimalValue {
	v := &decimalValue{}
	fs.Var(v, name, usage)
	return v
}

// required 检查必填参数，一次报告全部缺失项。
func required(fs *flag.FlagSet, names ...string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var missing []string
	for _, name := range names {
		if !set[name] {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少参数: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseSide(raw string) exchange.Side {
	return exchange.Side(strings.ToUpper(strings.TrimSpace(raw)))
}
