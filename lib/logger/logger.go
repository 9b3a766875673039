// Package logger is a thin facade over zap so the rest of the code logs
// through package-level functions.
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings stores config for Logger
type Settings struct {
	Path  string `yaml:"path"`
	Name  string `yaml:"name"`
	Ext   string `yaml:"ext"`
	Level string `yaml:"level"`
}

var sugar *zap.SugaredLogger

func init() {
	// stdout only until Setup runs with the loaded config
	sugar = newLogger(zapcore.AddSync(os.Stdout), zapcore.InfoLevel)
}

func newLogger(sink zapcore.WriteSyncer, level zapcore.Level) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	return zap.New(core, zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Setup initializes the process logger, writing to stdout and, when a path is
// set, to a rotated file
func Setup(settings *Settings) {
	level := parseLevel(settings.Level)
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if settings.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(settings.Path, settings.Name+settings.Ext),
			MaxSize:    64, // MB
			MaxBackups: 8,
			Compress:   true,
		}
		sinks = append(sinks, zapcore.AddSync(rotated))
	}
	sugar = newLogger(zapcore.NewMultiWriteSyncer(sinks...), level)
}

// Debug logs at debug level
func Debug(v ...interface{}) {
	sugar.Debug(v...)
}

// Debugf logs a formatted message at debug level
func Debugf(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Info logs at info level
func Info(v ...interface{}) {
	sugar.Info(v...)
}

// Infof logs a formatted message at info level
func Infof(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Warn logs at warn level
func Warn(v ...interface{}) {
	sugar.Warn(v...)
}

// Warnf logs a formatted message at warn level
func Warnf(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}

// Error logs at error level
func Error(v ...interface{}) {
	sugar.Error(v...)
}

// Errorf logs a formatted message at error level
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Fatal logs the message then exits with a non-zero code
func Fatal(v ...interface{}) {
	sugar.Fatal(v...)
}

// Fatalf logs a formatted message then exits with a non-zero code
func Fatalf(format string, v ...interface{}) {
	sugar.Fatalf(format, v...)
}
