package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FileName = "heartbeat.log"
	Service  = "heartbeat"
)

type options struct {
	console      io.Writer
	consoleLevel zapcore.Level
}

type Option func(*options)

// WithConsole mirrors entries at or above min to w in console format.
func WithConsole(w io.Writer, min zapcore.Level) Option {
	return func(o *options) {
		o.console = w
		o.consoleLevel = min
	}
}

// NewLogger writes JSON lines to a rotated file in logDir. level is a zap
// level name; empty means info.
func NewLogger(logDir, level string, opts ...Option) (*zap.Logger, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), file, lvl)}

	if o.console != nil {
		conCfg := encCfg
		conCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		min := max(o.consoleLevel, lvl)
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(conCfg),
			zapcore.Lock(zapcore.AddSync(o.console)),
			min,
		))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", Service)),
	), nil
}
