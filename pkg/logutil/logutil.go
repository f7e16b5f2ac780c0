// Copyright 2025 The varbox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the global logger.
type LogConfig struct {
	// Level is a zap level string: debug, info, warn, error, panic, fatal.
	Level string `toml:"level"`
	// Format is "console" or "json".
	Format string `toml:"format"`
	// Filename, when set, logs to a rotated file instead of stderr.
	Filename string `toml:"filename"`
	// MaxSize is the size in MB before the file is rotated.
	MaxSize int `toml:"max-size"`
	// MaxDays is the number of days rotated files are retained.
	MaxDays int `toml:"max-days"`
	// MaxBackups is the number of rotated files retained.
	MaxBackups int `toml:"max-backups"`
}

// Adjust fills zero fields with defaults.
func (c *LogConfig) Adjust() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.MaxSize == 0 {
		c.MaxSize = 512
	}
	if c.MaxDays == 0 {
		c.MaxDays = 7
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 10
	}
}

var globalLogger atomic.Pointer[zap.Logger]

func init() {
	SetupLogger(&LogConfig{})
}

// SetupLogger replaces the global logger. Safe to call at any time;
// in-flight log calls keep the logger they started with.
func SetupLogger(config *LogConfig) {
	config.Adjust()

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(config.Level)); err != nil {
		panic(err)
	}

	var encoder zapcore.Encoder
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		panic("unknown log format: " + config.Format)
	}

	var sink zapcore.WriteSyncer
	if config.Filename != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxDays,
			MaxBackups: config.MaxBackups,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	logger := zap.New(
		zapcore.NewCore(encoder, sink, level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.FatalLevel),
	)
	globalLogger.Store(logger)
}

func GetGlobalLogger() *zap.Logger {
	return globalLogger.Load()
}

func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Panic(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Panic(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}
