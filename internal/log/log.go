// Package log is nidx's structured logger: a thin wrapper over zap, shaped
// after the teacher's internal/log + paramtable.BaseTable.Log pairing so the
// rest of the module never imports zap directly.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileConfig controls on-disk log rotation knobs, mirroring
// paramtable.BaseTable's log.file.* settings.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxDays    int
}

// Config is the logger's external configuration, loaded by internal/config.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // console, json
	GrpcLevel string
	File      FileConfig
}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() {
	global, _ = zap.NewDevelopment()
}

// ReplaceGlobals installs a new base logger built from cfg. Safe to call
// repeatedly (e.g. on config reload).
func ReplaceGlobals(cfg Config) error {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writer := zapcore.AddSync(os.Stderr)
	core := zapcore.NewCore(encoder, writer, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	global = logger
	mu.Unlock()
	return nil
}

func l() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debug(msg string, fields ...zap.Field) { l().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { l().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { l().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { l().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { l().Fatal(msg, fields...) }

// With returns a child logger carrying the given fields for the lifetime of
// a request or background task, matching the teacher's per-call
// sub-logger pattern (e.g. shardDelegator.getLogger).
func With(fields ...zap.Field) *zap.Logger {
	return l().With(fields...)
}

// Sync flushes any buffered log entries; call on shutdown.
func Sync() error {
	return l().Sync()
}
