package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base *zap.Logger

	initOnce sync.Once

	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init builds the process-wide logger. Safe to call more than once.
func Init(debug bool) {
	initOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		if debug {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			panic(fmt.Sprintf("logger init: %v", err))
		}
		base = l
	})
}

func logger() *zap.Logger {
	if base == nil {
		Init(false)
	}
	return base.With(zap.String("service", serviceName))
}

func Debug(format string, args ...interface{}) {
	logger().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	logger().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	logger().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	logger().Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	logger().Fatal(fmt.Sprintf(format, args...))
}
