package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"trades-algo/internal/app"
	"trades-algo/internal/exchange"
	"trades-algo/internal/execution"
	"trades-algo/internal/strategy"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app.App, args []string) error
}

var commandOrder = []string{
	"account", "price", "market", "limit", "stop-limit", "orders", "cancel",
	"oco", "bracket", "twap", "grid", "strategies", "serve",
}

var commands = map[string]command{
	"account":    {"显示账户余额", runAccount},
	"price":      {"查询最新价格", runPrice},
	"market":     {"提交市价单", runMarket},
	"limit":      {"提交限价单", runLimit},
	"stop-limit": {"提交止损限价单", runStopLimit},
	"orders":     {"列出挂单", runOrders},
	"cancel":     {"撤销委托", runCancel},
	"oco":        {"提交止盈止损 OCO，等待一腿成交后撤销另一腿", runOCO},
	"bracket":    {"提交括号单，入场成交后挂出场 OCO 并监控至结束", runBracket},
	"twap":       {"按时间分片执行，Ctrl-C 取消", runTWAP},
	"grid":       {"挂出对称网格", runGrid},
	"strategies": {"列出注册表中的策略", runStrategies},
	"serve":      {"运行 OCO 轮询、注册表回收与监控接口", runServe},
}

func runAccount(ctx context.Context, a *app.App, args []string) error {
	if err := newFlagSet("account").Parse(args); err != nil {
		return err
	}
	balance, err := a.Account().FetchBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Println(balance)
	return nil
}

func runPrice(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("price")
	symbol := fs.String("symbol", "", "交易对，如 BTCUSDT")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol"); err != nil {
		return err
	}
	price, err := a.Trader().Price(ctx, *symbol)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", exchange.NormalizeSymbol(*symbol), price)
	return nil
}

type orderFlags struct {
	symbol     *string
	side       *string
	quantity   *decimalValue
	clientID   *string
	reduceOnly *bool
}

func newOrderFlags(name string) (*flag.FlagSet, *orderFlags) {
	fs := newFlagSet(name)
	return fs, &orderFlags{
		symbol:     fs.String("symbol", "", "交易对，如 BTCUSDT"),
		side:       fs.String("side", "", "BUY 或 SELL"),
		quantity:   decimalFlag(fs, "qty", "数量"),
		clientID:   fs.String("client-id", "", "幂等键，设置后网关可安全重试提交"),
		reduceOnly: fs.Bool("reduce-only", false, "只减仓"),
	}
}

func (o *orderFlags) options() execution.Options {
	return execution.Options{ReduceOnly: *o.reduceOnly, ClientOrderID: *o.clientID}
}

func runMarket(ctx context.Context, a *app.App, args []string) error {
	fs, o := newOrderFlags("market")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty"); err != nil {
		return err
	}
	result, err := a.Trader().PlaceMarket(ctx, *o.symbol, parseSide(*o.side), o.quantity.Decimal(), o.options())
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func runLimit(ctx context.Context, a *app.App, args []string) error {
	fs, o := newOrderFlags("limit")
	price := decimalFlag(fs, "price", "限价")
	tif := fs.String("tif", string(exchange.TimeInForceGTC), "有效期 GTC / IOC / FOK")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty", "price"); err != nil {
		return err
	}
	result, err := a.Trader().PlaceLimit(ctx, *o.symbol, parseSide(*o.side), o.quantity.Decimal(), price.Decimal(), exchange.TimeInForce(*tif), o.options())
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func runStopLimit(ctx context.Context, a *app.App, args []string) error {
	fs, o := newOrderFlags("stop-limit")
	stop := decimalFlag(fs, "stop", "触发价")
	limit := decimalFlag(fs, "limit", "触发后的限价")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty", "stop", "limit"); err != nil {
		return err
	}
	result, err := a.Trader().PlaceStopLimit(ctx, *o.symbol, parseSide(*o.side), o.quantity.Decimal(), stop.Decimal(), limit.Decimal(), o.options())
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func runOrders(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("orders")
	symbol := fs.String("symbol", "", "交易对，留空列出全部")
	if err := fs.Parse(args); err != nil {
		return err
	}
	orders, err := a.Trader().OpenOrders(ctx, *symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("无挂单")
		return nil
	}
	for _, order := range orders {
		fmt.Println(order)
	}
	return nil
}

func runCancel(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("cancel")
	symbol := fs.String("symbol", "", "交易对")
	id := fs.String("id", "", "委托 ID 或策略 ID")
	strategyID := fs.Bool("strategy", false, "按策略 ID 撤销")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *strategyID {
		if err := required(fs, "id"); err != nil {
			return err
		}
		if err := a.Engine().Cancel(ctx, *id); err != nil {
			return err
		}
		fmt.Printf("策略 %s 已撤销\n", *id)
		return nil
	}
	if err := required(fs, "symbol", "id"); err != nil {
		return err
	}
	if err := a.Trader().Cancel(ctx, *symbol, *id); err != nil {
		return err
	}
	fmt.Printf("委托 %s 已撤销\n", *id)
	return nil
}

func runOCO(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("oco")
	symbol := fs.String("symbol", "", "交易对")
	side := fs.String("side", "", "两条腿的方向，平多为 SELL")
	quantity := decimalFlag(fs, "qty", "数量")
	takeProfit := decimalFlag(fs, "tp", "止盈价")
	stopLoss := decimalFlag(fs, "sl", "止损触发价")
	stopLimit := decimalFlag(fs, "sl-limit", "止损限价，留空为止损市价")
	detach := detachFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty", "tp", "sl"); err != nil {
		return err
	}

	pair, err := a.Engine().PlaceOCO(ctx, strategy.OCOParams{
		Symbol:          *symbol,
		Side:            parseSide(*side),
		Quantity:        quantity.Decimal(),
		TakeProfitPrice: takeProfit.Decimal(),
		StopPrice:       stopLoss.Decimal(),
		StopLimitPrice:  stopLimit.value,
	})
	if pair == nil {
		return err
	}
	snap := pair.Snapshot()
	printOCO(snap)
	if err != nil || *detach || snap.Status.Terminal() {
		return err
	}

	if err := settle(ctx, a, snap.ID); err != nil {
		return err
	}
	printOCO(pair.Snapshot())
	return nil
}

func runBracket(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("bracket")
	symbol := fs.String("symbol", "", "交易对")
	side := fs.String("side", "", "入场方向")
	quantity := decimalFlag(fs, "qty", "数量")
	entry := decimalFlag(fs, "entry", "入场限价")
	takeProfit := decimalFlag(fs, "tp", "止盈价")
	stopLoss := decimalFlag(fs, "sl", "止损触发价")
	stopLimit := decimalFlag(fs, "sl-limit", "止损限价，留空为止损市价")
	detach := detachFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty", "entry", "tp", "sl"); err != nil {
		return err
	}

	bracket, err := a.Engine().PlaceBracket(ctx, strategy.BracketParams{
		Symbol:         *symbol,
		Side:           parseSide(*side),
		Quantity:       quantity.Decimal(),
		EntryPrice:     entry.Decimal(),
		TakeProfit:     takeProfit.Decimal(),
		StopLoss:       stopLoss.Decimal(),
		StopLimitPrice: stopLimit.value,
	})
	if bracket == nil {
		return err
	}
	snap := bracket.Snapshot()
	fmt.Printf("括号单 %s 状态 %s 入场 %s\n", snap.ID, snap.Status, snap.Entry)
	if exit := bracket.Exit(); exit != nil {
		printOCO(exit.Snapshot())
	}
	if err != nil || *detach || snap.Status.Terminal() {
		return err
	}

	if err := settle(ctx, a, snap.ID); err != nil {
		return err
	}
	final := bracket.Snapshot()
	fmt.Printf("括号单 %s 状态 %s\n", final.ID, final.Status)
	if exit := bracket.Exit(); exit != nil {
		printOCO(exit.Snapshot())
	}
	return nil
}

func detachFlag(fs *flag.FlagSet) *bool {
	return fs.Bool("detach", false, "提交后立即返回，不再轮询互撤；挂单由 serve 接管")
}

// settle 轮询直到策略结束。Ctrl-C 只停止监控，挂单保留。
func settle(ctx context.Context, a *app.App, id string) error {
	fmt.Printf("监控 %s 中，Ctrl-C 停止监控\n", id)
	status, err := a.WatchUntilSettled(ctx, id)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		fmt.Printf("已停止监控，策略 %s 仍为 %s，挂单保留，可运行 serve 继续互撤\n", id, status)
	}
	return nil
}

func runTWAP(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("twap")
	symbol := fs.String("symbol", "", "交易对")
	side := fs.String("side", "", "BUY 或 SELL")
	quantity := decimalFlag(fs, "qty", "总数量")
	duration := fs.Duration("duration", 0, "总时长，默认取配置")
	intervals := fs.Int("intervals", 0, "分片数，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "side", "qty"); err != nil {
		return err
	}

	handle, err := a.Engine().ExecuteTWAP(ctx, strategy.TWAPParams{
		Symbol:        *symbol,
		Side:          parseSide(*side),
		TotalQuantity: quantity.Decimal(),
		Duration:      *duration,
		Intervals:     *intervals,
	})
	if err != nil {
		return err
	}
	snap := handle.Snapshot()
	fmt.Printf("TWAP %s 开始: %d 片，每片 %s，间隔 %s\n", snap.ID, snap.IntervalsTotal, snap.ChunkSize, snap.IntervalDelay)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	reported := 0
	for {
		select {
		case <-handle.Done():
			report(handle.Snapshot(), &reported)
			final := handle.Snapshot()
			fmt.Printf("TWAP %s 结束: %s，成交 %d/%d 片，数量 %s\n",
				final.ID, final.Status, final.IntervalsDone, final.IntervalsTotal, final.ExecutedQuantity)
			return nil
		case <-ctx.Done():
			fmt.Println("收到中断，正在撤销 TWAP")
			if err := a.Engine().CancelTWAP(handle.ID()); err != nil {
				return err
			}
			ctx = context.Background()
		case <-ticker.C:
			report(handle.Snapshot(), &reported)
		}
	}
}

func report(snap strategy.TWAPSnapshot, reported *int) {
	for ; *reported < len(snap.Outcomes); *reported++ {
		outcome := snap.Outcomes[*reported]
		if outcome.OK() {
			fmt.Printf("  %s %s %s -> %s\n", outcome.Leg, outcome.Side, outcome.Quantity, outcome.OrderID)
		} else {
			fmt.Printf("  %s %s %s 失败: %s\n", outcome.Leg, outcome.Side, outcome.Quantity, outcome.Error)
		}
	}
}

func runGrid(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("grid")
	symbol := fs.String("symbol", "", "交易对")
	base := decimalFlag(fs, "base", "中心价")
	quantity := decimalFlag(fs, "qty", "每档数量")
	levels := fs.Int("levels", 0, "每侧档数，默认取配置")
	spread := decimalFlag(fs, "spread", "档间距比例，默认取配置")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "symbol", "base", "qty"); err != nil {
		return err
	}

	grid, err := a.Engine().StartGrid(ctx, strategy.GridParams{
		Symbol:    *symbol,
		BasePrice: base.Decimal(),
		Levels:    *levels,
		Spread:    spread.Decimal(),
		Quantity:  quantity.Decimal(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("网格 %s 状态 %s，已挂 %d/%d 档\n", grid.ID, grid.Status, grid.Placed, grid.Requested)
	for _, outcome := range grid.Outcomes {
		price := ""
		if outcome.Price.Valid {
			price = outcome.Price.Decimal.String()
		}
		if outcome.OK() {
			fmt.Printf("  %-7s @ %s -> %s\n", outcome.Leg, price, outcome.OrderID)
		} else {
			fmt.Printf("  %-7s @ %s 失败: %s\n", outcome.Leg, price, outcome.Error)
		}
	}
	return nil
}

func runStrategies(_ context.Context, a *app.App, args []string) error {
	fs := newFlagSet("strategies")
	kind := fs.String("kind", "", "grid / twap / oco / bracket，留空列出全部")
	if err := fs.Parse(args); err != nil {
		return err
	}
	summaries := a.Engine().Registry().List(strategy.Kind(*kind))
	if len(summaries) == 0 {
		fmt.Println("注册表为空")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s %-8s %-10s %s\n", s.ID, s.Kind, s.Symbol, s.Status)
	}
	return nil
}

func runServe(ctx context.Context, a *app.App, args []string) error {
	if err := newFlagSet("serve").Parse(args); err != nil {
		return err
	}
	return a.Run(ctx)
}

func printOCO(snap strategy.OCOSnapshot) {
	fmt.Printf("OCO %s 状态 %s\n", snap.ID, snap.Status)
	fmt.Printf("  止盈 %s\n", snap.TakeProfit)
	fmt.Printf("  止损 %s\n", snap.StopLoss)
	if snap.Reason != "" {
		fmt.Printf("  原因 %s\n", snap.Reason)
	}
}
