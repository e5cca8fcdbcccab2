// Package log provides centralized logging functionality using zap logger.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *zap.SugaredLogger
var baseLogger *zap.Logger

// Init initializes the package-level logger. When file is non-empty,
// output is additionally written there with rotation.
func Init(debug bool, file string) error {
	var encoderConfig zapcore.EncoderConfig
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}

	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "message"
	encoderConfig.CallerKey = "caller"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var level zapcore.Level
	if debug {
		level = zapcore.DebugLevel
	} else {
		level = zapcore.InfoLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), level),
	}

	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	baseLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	log = baseLogger.Sugar()

	return nil
}

// GetZapLogger returns the base zap logger for cases where it's needed (like GORM)
func GetZapLogger() *zap.Logger {
	if baseLogger == nil {
		baseLogger, _ = zap.NewProduction()
		log = baseLogger.Sugar()
	}
	return baseLogger
}

// GetSugaredLogger returns the sugared logger instance
func GetSugaredLogger() *zap.SugaredLogger {
	if log == nil {
		baseLogger, _ = zap.NewProduction()
		log = baseLogger.Sugar()
	}
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		log.Sync()
	}
}

// Package-level convenience functions
func Debug(args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Debugf(template, args...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Debugw(msg, keysAndValues...)
}

func Info(args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Info(args...)
}

func Infof(template string, args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Infow(msg, keysAndValues...)
}

func Warn(args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(template, args...)
}

func Error(args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Error(args...)
}

func Errorf(template string, args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Errorw(msg, keysAndValues...)
}

func Fatal(args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Fatal(args...)
}

func Fatalf(template string, args ...interface{}) {
	GetZapLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Fatalf(template, args...)
}
