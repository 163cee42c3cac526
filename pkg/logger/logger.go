// Package logger is a thin component-tagged facade over zap. Every call
// carries a component name so log lines from the gate, assembler, loop, and
// store can be filtered apart without per-package logger plumbing.
package logger

import (
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DEBUG = zapcore.DebugLevel
	INFO  = zapcore.InfoLevel
	WARN  = zapcore.WarnLevel
	ERROR = zapcore.ErrorLevel
)

var (
	atomicLevel = zap.NewAtomicLevelAt(INFO)
	base        = newBase()
)

func newBase() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		atomicLevel,
	)
	return zap.New(core)
}

// SetLevel changes the minimum level for all subsequent log calls.
func SetLevel(level Level) {
	atomicLevel.SetLevel(level)
}

func fieldsToZap(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))

	// Deterministic field order keeps log lines diffable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func DebugC(component, msg string) {
	base.Debug(msg, zap.String("component", component))
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	base.Debug(msg, fieldsToZap(component, fields)...)
}

func InfoC(component, msg string) {
	base.Info(msg, zap.String("component", component))
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	base.Info(msg, fieldsToZap(component, fields)...)
}

func WarnC(component, msg string) {
	base.Warn(msg, zap.String("component", component))
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	base.Warn(msg, fieldsToZap(component, fields)...)
}

func ErrorC(component, msg string) {
	base.Error(msg, zap.String("component", component))
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	base.Error(msg, fieldsToZap(component, fields)...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = base.Sync()
}
