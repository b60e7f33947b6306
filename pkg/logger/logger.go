package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	mu       sync.RWMutex
)

func init() {
	Init(os.Getenv("ENVIRONMENT") == "development")
}

// Init replaces the process logger. Development mode enables debug output and
// the console encoder.
func Init(development bool) {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		l, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		l = zap.NewNop()
	}

	mu.Lock()
	instance = l.Sugar()
	mu.Unlock()
}

// Set swaps in a caller-provided logger, mainly for tests (zap.NewNop, observer cores).
func Set(l *zap.Logger) {
	mu.Lock()
	instance = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func Info(format string, v ...interface{}) {
	get().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	get().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	get().Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	get().Warnf(format, v...)
}

// With returns a structured child logger, e.g. logger.With("chat_id", id).
// Its calls are made directly by the caller, so the package skip is undone.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return get().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

func Sync() {
	_ = get().Sync()
}
