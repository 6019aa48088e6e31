package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// GatewayMode 选择执行网关实现。
type GatewayMode string

const (
	// GatewayModeSimulated 使用本地模拟网关，不产生任何外部调用。
	GatewayModeSimulated GatewayMode = "simulated"
	// GatewayModeLive 通过 ccxt 连接真实交易所。
	GatewayModeLive GatewayMode = "live"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Grid     GridConfig     `mapstructure:"grid"`
	TWAP     TWAPConfig     `mapstructure:"twap"`
	OCO      OCOConfig      `mapstructure:"oco"`
	Registry RegistryConfig `mapstructure:"registry"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// GatewayConfig 控制网关选择以及共享的限流、熔断参数。
type GatewayConfig struct {
	Mode      GatewayMode     `mapstructure:"mode"`
	RateLimit float64         `mapstructure:"rate_limit"`
	Burst     int             `mapstructure:"burst"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Simulated SimulatedConfig `mapstructure:"simulated"`
}

// BreakerConfig 描述实盘网关的熔断器参数。
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SimulatedConfig 描述模拟网关的行情与交易对。
type SimulatedConfig struct {
	Symbols      []string           `mapstructure:"symbols"`
	Prices       map[string]float64 `mapstructure:"prices"`
	DefaultPrice float64            `mapstructure:"default_price"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LimitsConfig 为单笔委托的静态边界。
type LimitsConfig struct {
	MinQty   float64 `mapstructure:"min_qty"`
	MaxQty   float64 `mapstructure:"max_qty"`
	MinPrice float64 `mapstructure:"min_price"`
}

// GridConfig 为网格策略默认参数。
type GridConfig struct {
	Levels int     `mapstructure:"levels"`
	Spread float64 `mapstructure:"spread"`
}

// TWAPConfig 为 TWAP 默认参数。
type TWAPConfig struct {
	Duration  time.Duration `mapstructure:"duration"`
	Intervals int           `mapstructure:"intervals"`
}

// OCOConfig 控制 OCO 监听与括号单行为。
type OCOConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BracketOptimistic bool          `mapstructure:"bracket_optimistic"`
}

// RegistryConfig 控制策略注册表回收。
type RegistryConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控 HTTP 服务。
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch c.Gateway.Mode {
	case GatewayModeSimulated:
	case GatewayModeLive:
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			err = multierr.Append(err, errors.New("live 模式需要配置 exchange.api_key 与 exchange.api_secret"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("gateway.mode 不支持 %q (simulated|live)", c.Gateway.Mode))
	}
	if c.Gateway.RateLimit <= 0 {
		err = multierr.Append(err, errors.New("gateway.rate_limit 必须大于0"))
	}
	if c.Gateway.Burst <= 0 {
		err = multierr.Append(err, errors.New("gateway.burst 必须大于0"))
	}
	if c.Gateway.Breaker.MaxFailures == 0 {
		err = multierr.Append(err, errors.New("gateway.breaker.max_failures 必须大于0"))
	}

	if strings.TrimSpace(c.Exchange.Name) == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if c.Limits.MinQty <= 0 {
		err = multierr.Append(err, errors.New("limits.min_qty 必须大于0"))
	}
	if c.Limits.MaxQty < c.Limits.MinQty {
		err = multierr.Append(err, errors.New("limits.max_qty 不能小于 min_qty"))
	}
	if c.Limits.MinPrice <= 0 {
		err = multierr.Append(err, errors.New("limits.min_price 必须大于0"))
	}

	if c.Grid.Levels <= 0 {
		err = multierr.Append(err, errors.New("grid.levels 必须大于0"))
	}
	if c.Grid.Spread <= 0 || c.Grid.Spread >= 1 {
		err = multierr.Append(err, errors.New("grid.spread 必须位于(0,1)"))
	}
	if c.TWAP.Duration <= 0 {
		err = multierr.Append(err, errors.New("twap.duration 必须大于0"))
	}
	if c.TWAP.Intervals <= 0 {
		err = multierr.Append(err, errors.New("twap.intervals 必须大于0"))
	}
	if c.OCO.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("oco.poll_interval 必须大于0"))
	}
	if c.Registry.TTL < 0 {
		err = multierr.Append(err, errors.New("registry.ttl 不能为负"))
	}
	if c.Registry.ReapInterval <= 0 {
		err = multierr.Append(err, errors.New("registry.reap_interval 必须大于0"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
