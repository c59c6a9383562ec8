/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log contains the logging subsystem of the control plane
package log

import (
	"context"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The supported log level names
const (
	// ErrorLevelString is the string representation of the error level
	ErrorLevelString = "error"

	// WarningLevelString is the string representation of the warning level
	WarningLevelString = "warning"

	// InfoLevelString is the string representation of the info level
	InfoLevelString = "info"

	// DebugLevelString is the string representation of the debug level
	DebugLevelString = "debug"

	// TraceLevelString is the string representation of the trace level
	TraceLevelString = "trace"

	// DefaultLevelString is the name of the level used when not configured
	DefaultLevelString = InfoLevelString
)

// The zapcore levels backing the level names
const (
	// ErrorLevel is the error level priority
	ErrorLevel = zapcore.ErrorLevel

	// WarningLevel is the warning level priority
	WarningLevel = zapcore.WarnLevel

	// InfoLevel is the info level priority
	InfoLevel = zapcore.InfoLevel

	// DebugLevel is the debug level priority
	DebugLevel = zapcore.DebugLevel

	// TraceLevel is the most verbose level priority
	TraceLevel = zapcore.Level(int8(zapcore.DebugLevel) - 1)

	// DefaultLevel is the level used when not configured
	DefaultLevel = InfoLevel
)

// Logger is a reduced version of logr.Logger extended with the
// leveled messages used across the control plane
type Logger interface {
	Enabled() bool

	Error(err error, msg string, keysAndValues ...interface{})
	Warning(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Trace(msg string, keysAndValues ...interface{})

	WithValues(keysAndValues ...interface{}) Logger
	WithName(name string) Logger

	// GetLogger returns the backing logr.Logger, to be passed to libraries
	// expecting one
	GetLogger() logr.Logger
}

type logger struct {
	sugar *zap.SugaredLogger
}

var (
	// currentLevel is the level every emitted record is filtered against,
	// adjustable at runtime
	currentLevel = zap.NewAtomicLevelAt(DefaultLevel)

	log Logger = &logger{sugar: newZapLogger(zapcore.Lock(os.Stderr)).Sugar()}
)

// newZapLogger builds the zap logger writing to the given sink, honoring
// the package level threshold
func newZapLogger(sink zapcore.WriteSyncer) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(getLogLevelString(l))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, currentLevel)
	return zap.New(core)
}

// SetLogger replaces the logger backing the package level functions
func SetLogger(zapLogger *zap.Logger) {
	log = &logger{sugar: zapLogger.Sugar()}
}

// SetLogLevel changes the level every emitted record is filtered against
func SetLogLevel(levelString string) {
	currentLevel.SetLevel(getLogLevel(levelString))
}

// GetLogger returns the global logger as a logr.Logger, to be passed
// to libraries expecting one
func GetLogger() logr.Logger {
	return log.GetLogger()
}

func (l *logger) Enabled() bool {
	return l.sugar.Desugar().Core().Enabled(currentLevel.Level())
}

func (l *logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

func (l *logger) Warning(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *logger) Trace(msg string, keysAndValues ...interface{}) {
	l.sugar.Logw(TraceLevel, msg, keysAndValues...)
}

func (l *logger) WithValues(keysAndValues ...interface{}) Logger {
	return &logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *logger) WithName(name string) Logger {
	return &logger{sugar: l.sugar.Named(name)}
}

func (l *logger) GetLogger() logr.Logger {
	return zapr.NewLogger(l.sugar.Desugar())
}

// Enabled exposes the status of the global logger
func Enabled() bool {
	return log.Enabled()
}

// Error logs an error message with the global logger
func Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error(err, msg, keysAndValues...)
}

// Warning logs a warning message with the global logger
func Warning(msg string, keysAndValues ...interface{}) {
	log.Warning(msg, keysAndValues...)
}

// Info logs an informative message with the global logger
func Info(msg string, keysAndValues ...interface{}) {
	log.Info(msg, keysAndValues...)
}

// Debug logs a debug message with the global logger
func Debug(msg string, keysAndValues ...interface{}) {
	log.Debug(msg, keysAndValues...)
}

// Trace logs a trace message with the global logger
func Trace(msg string, keysAndValues ...interface{}) {
	log.Trace(msg, keysAndValues...)
}

// WithValues derives from the global logger a logger carrying the
// given key/value pairs
func WithValues(keysAndValues ...interface{}) Logger {
	return log.WithValues(keysAndValues...)
}

// WithName derives from the global logger a logger with the given name
func WithName(name string) Logger {
	return log.WithName(name)
}

type loggerContextKey struct{}

// FromContext returns the logger stored inside the context, falling
// back to the global one
func FromContext(ctx context.Context) Logger {
	if contextLogger, ok := ctx.Value(loggerContextKey{}).(Logger); ok {
		return contextLogger
	}
	return log
}

// IntoContext injects a logger inside a context, to be extracted
// with FromContext
func IntoContext(ctx context.Context, contextLogger Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, contextLogger)
}

func getLogLevel(levelString string) zapcore.Level {
	switch levelString {
	case ErrorLevelString:
		return ErrorLevel
	case WarningLevelString:
		return WarningLevel
	case InfoLevelString:
		return InfoLevel
	case DebugLevelString:
		return DebugLevel
	case TraceLevelString:
		return TraceLevel
	default:
		return DefaultLevel
	}
}

func getLogLevelString(level zapcore.Level) string {
	switch level {
	case ErrorLevel:
		return ErrorLevelString
	case WarningLevel:
		return WarningLevelString
	case InfoLevel:
		return InfoLevelString
	case DebugLevel:
		return DebugLevelString
	case TraceLevel:
		return TraceLevelString
	default:
		return level.String()
	}
}
