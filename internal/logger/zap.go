// Package logger provides per-package zap loggers configured from the
// node's debug setting.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nunet-edge/overlay-node/internal/config"
)

type Logger struct {
	*zap.Logger
}

func (l *Logger) init() error {
	var err error
	if _, debug := os.LookupEnv("OVERLAY_DEBUG"); debug || config.GetConfig().General.Debug {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l.Logger, err = zapConfig.Build()
	} else {
		l.Logger, err = zap.NewProduction()
	}

	return err
}

// New takes in a package name to initialize the new Logger in.
func New(pkg string) *Logger {
	Log := &Logger{}
	if err := Log.init(); err != nil {
		panic(err)
	}

	Log.Logger = Log.Logger.With(
		zap.String("package", pkg),
	)

	return Log
}
