package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trades-algo/internal/config"
)

const serviceName = "trades-algo"

// NewLogger 根据配置创建 zap.Logger。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return nil, fmt.Errorf("解析日志级别失败: %w", err)
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := cfg.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          cfg.Encoding,
		EncoderConfig:     encoderConfig(cfg.Encoding),
		OutputPaths:       outputs,
		ErrorOutputPaths:  errOutputs,
		InitialFields:     map[string]interface{}{"service": serviceName},
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("创建日志实例失败: %w", err)
	}

	return logger, nil
}

// encoderConfig 控制台输出带颜色级别，json 输出保持纯文本级别便于采集。
func encoderConfig(encoding string) zapcore.EncoderConfig {
	base := zap.NewProductionEncoderConfig()
	base.TimeKey = "ts"
	base.NameKey = "logger"
	base.CallerKey = "caller"
	base.FunctionKey = zapcore.OmitKey
	base.EncodeTime = zapcore.ISO8601TimeEncoder
	base.EncodeDuration = zapcore.StringDurationEncoder
	base.EncodeCaller = zapcore.ShortCallerEncoder

	if encoding == "console" {
		base.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		base.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return base
}
