package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"
)

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
// 未显式指定路径且默认文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	// .env 只是便捷入口，缺失不影响启动。
	_ = godotenv.Load()

	v := newViper()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	if _, statErr := os.Stat(path); statErr == nil || explicit {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	return decode(v)
}

// Default 返回仅由默认值构成的配置，主要供测试与模拟模式使用。
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("默认配置无效: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("gateway.mode", string(GatewayModeSimulated))
	v.SetDefault("gateway.rate_limit", 10)
	v.SetDefault("gateway.burst", 5)
	v.SetDefault("gateway.breaker.max_failures", 5)
	v.SetDefault("gateway.breaker.max_requests", 1)
	v.SetDefault("gateway.breaker.interval", "1m")
	v.SetDefault("gateway.breaker.timeout", "30s")
	// 为空时不提供交易对清单，模拟模式跳过交易对校验。
	v.SetDefault("gateway.simulated.symbols", []string{})
	v.SetDefault("gateway.simulated.prices", map[string]float64{
		"BTCUSDT": 45000,
		"ETHUSDT": 3000,
		"ADAUSDT": 0.5,
	})
	v.SetDefault("gateway.simulated.default_price", 100)

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.use_sandbox", true)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("limits.min_qty", 0.001)
	v.SetDefault("limits.max_qty", 1000)
	v.SetDefault("limits.min_price", 0.01)

	v.SetDefault("grid.levels", 10)
	v.SetDefault("grid.spread", 0.01)

	v.SetDefault("twap.duration", "300s")
	v.SetDefault("twap.intervals", 10)

	v.SetDefault("oco.poll_interval", "2s")
	v.SetDefault("oco.bracket_optimistic", false)

	v.SetDefault("registry.ttl", "1h")
	v.SetDefault("registry.reap_interval", "1m")

	v.SetDefault("database.path", "data/trades_algo.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8089)
	v.SetDefault("monitor.allowed_origins", []string{"http://localhost:3000"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
