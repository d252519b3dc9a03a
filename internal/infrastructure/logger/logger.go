package logger

import (
	"go.uber.org/zap"
)

// NewZapLog 按配置的日志级别创建 production 风格的 zap logger
func NewZapLog(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	zapcfg.Sampling = nil

	return zapcfg.Build()
}
