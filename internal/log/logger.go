package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

// InitLogger initializes the global zap logger for interactive commands.
// Debug gives a colored development console logger, otherwise logging is silent.
func InitLogger(debug bool) {
	if debug {
		install(buildDevelopment())
		return
	}
	install(zap.NewNop())
}

// InitServerLogger initializes the global zap logger for long-running servers.
// Debug gives the development console logger, otherwise JSON lines at info level.
func InitServerLogger(debug bool) {
	if debug {
		install(buildDevelopment())
		return
	}

	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	install(l)
}

func buildDevelopment() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.DisableStacktrace = true

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	return l
}

func install(l *zap.Logger) {
	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l)
	logger = l.Sugar()
}

// GetLogger returns the global sugared logger
func GetLogger() *zap.SugaredLogger {
	if logger == nil {
		InitLogger(false)
	}
	return logger
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
