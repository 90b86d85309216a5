package config

import (
	"go.uber.org/zap"
)

// NewLogger builds the application logger. The returned level can be
// changed at runtime, e.g. on config reload.
func NewLogger(cfg LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	zcfg.Level.SetLevel(cfg.Level)

	// CLI subcommands write results to stdout
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, zcfg.Level, err
	}
	return logger, zcfg.Level, nil
}
