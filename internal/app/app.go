package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-algo/internal/account"
	"trades-algo/internal/config"
	"trades-algo/internal/exchange"
	"trades-algo/internal/execution"
	"trades-algo/internal/monitor"
	"trades-algo/internal/store"
	"trades-algo/internal/strategy"
	"trades-algo/internal/validation"
)

// demoBalance 为模拟模式下展示的账户余额（USDT）。
var demoBalance = decimal.NewFromInt(10000)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	gateway   exchange.Gateway
	simulated *exchange.Simulated
	journal   *monitor.Journal
	validator *validation.Validator
	engine    *strategy.Engine
	desk      *execution.Desk
	account   *account.Manager
	quotes    *exchange.QuoteService
}

// New 按配置选择网关并装配引擎、下单台与事件日志。st 为空时事件只写日志。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}

	var inner exchange.Gateway
	switch cfg.Gateway.Mode {
	case config.GatewayModeLive:
		client, err := exchange.NewClient(cfg.Exchange, cfg.Gateway.Breaker, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
		}
		inner = client
		a.account = account.NewManager(client.Raw(), logger)
	case config.GatewayModeSimulated, "":
		a.simulated = exchange.NewSimulated(cfg.Gateway.Simulated, logger)
		inner = a.simulated
		a.account = account.NewSimulated(demoBalance)
	default:
		return nil, fmt.Errorf("app: 未知的网关模式 %q", cfg.Gateway.Mode)
	}
	a.gateway = exchange.NewLimitedGateway(inner, cfg.Gateway.RateLimit, cfg.Gateway.Burst)

	var svc *monitor.Service
	if st != nil {
		var err error
		svc, err = monitor.NewService(ctx, st, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化监控服务失败: %w", err)
		}
	}
	a.journal = monitor.NewJournal(svc, logger)

	a.validator = validation.NewValidator(ctx, a.gateway, validation.LimitsFromConfig(cfg.Limits), logger)
	registry := strategy.NewRegistry(cfg.Registry.TTL, cfg.Registry.ReapInterval, logger)
	a.engine = strategy.NewEngine(a.gateway, a.validator, registry, a.journal, strategy.SettingsFromConfig(*cfg), logger)
	a.desk = execution.NewDesk(a.gateway, a.validator, a.journal, logger)
	a.quotes = exchange.NewQuoteService(a.gateway, logger)

	logger.Info("交易系统已初始化",
		zap.String("environment", cfg.App.Environment),
		zap.String("gateway", string(cfg.Gateway.Mode)),
		zap.String("exchange", cfg.Exchange.Name),
	)
	return a, nil
}

// Engine 返回策略引擎。
func (a *App) Engine() *strategy.Engine { return a.engine }

// Trader 返回单笔下单接口。
func (a *App) Trader() execution.Trader { return a.desk }

// Account 返回余额查询器。
func (a *App) Account() *account.Manager { return a.account }

// Quotes 返回批量行情服务。
func (a *App) Quotes() *exchange.QuoteService { return a.quotes }

// Journal 返回事件日志。
func (a *App) Journal() *monitor.Journal { return a.journal }

// Simulated 返回模拟网关，实盘模式下为 nil。
func (a *App) Simulated() *exchange.Simulated { return a.simulated }

// Run 运行注册表回收、OCO 轮询与监控接口，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.engine.Registry().Run(groupCtx)
	})
	group.Go(func() error {
		return a.Watch(groupCtx)
	})
	if a.cfg.Monitor.Enabled {
		srv := &monitorServer{
			events: a.journal,
			engine: a.engine,
			quotes: a.quotes,
			logger: a.logger,
		}
		group.Go(func() error {
			return runMonitorServer(groupCtx, srv, a.cfg.Monitor.Port, a.cfg.Monitor.AllowedOrigins)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// Watch 轮询 OCO 腿与括号单入场单，驱动互撤与出场挂单，直到 ctx 结束。
func (a *App) Watch(ctx context.Context) error {
	return a.engine.WatchOCO(ctx, a.cfg.OCO.PollInterval)
}

// WatchUntilSettled 运行 Watch，直到策略 id 进入终态或 ctx 结束，返回最后观察到的状态。
func (a *App) WatchUntilSettled(ctx context.Context, id string) (strategy.Status, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Watch(watchCtx) }()

	interval := a.cfg.OCO.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		entry, err := a.engine.Registry().Get(id)
		if err != nil {
			cancel()
			<-done
			return "", err
		}
		status := entry.Summary().Status
		if status.Terminal() {
			cancel()
			return status, <-done
		}

		select {
		case <-ctx.Done():
			cancel()
			return status, <-done
		case <-ticker.C:
		}
	}
}

// Close 停止引擎的后台任务。
func (a *App) Close() {
	a.engine.Close()
}
