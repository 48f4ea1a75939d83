package shared

import (
	"go.uber.org/zap"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	ServiceName string // "emailsigner", "server", ...
	Development bool   // true for development mode
	Quiet       bool   // only errors, used by the CLI when --quiet is set
}

// Logger wraps zap.Logger with additional context
type Logger struct {
	*zap.Logger
}

// NewLogger creates a new logger instance based on the configuration
func NewLogger(config LoggerConfig) (*Logger, error) {
	var zapLogger *zap.Logger
	var err error

	if config.Quiet {
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		zapConfig.DisableCaller = true
		zapConfig.DisableStacktrace = true
		zapLogger, err = zapConfig.Build()
	} else if config.Development {
		// Development mode: console logging with debug level
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zapLogger, err = zapConfig.Build()
	} else {
		// Production mode: structured JSON logging
		zapConfig := zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		zapLogger, err = zapConfig.Build()
	}

	if err != nil {
		return nil, err
	}

	zapLogger = zapLogger.With(zap.String("service", config.ServiceName))

	return &Logger{Logger: zapLogger}, nil
}

// NewLoggerFromEnv creates a logger configured from DEVELOPMENT and LOG_QUIET
func NewLoggerFromEnv(serviceName string) (*Logger, error) {
	config := LoggerConfig{
		ServiceName: serviceName,
		Development: GetEnvOrDefault("DEVELOPMENT", "false") == "true",
		Quiet:       GetEnvOrDefault("LOG_QUIET", "false") == "true",
	}
	return NewLogger(config)
}

// WrapLogger adapts an existing zap logger, mostly for tests.
func WrapLogger(l *zap.Logger, serviceName string) *Logger {
	return &Logger{Logger: l.With(zap.String("service", serviceName))}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return WrapLogger(zap.NewNop(), "nop")
}

// Session-aware logging methods
func (l *Logger) WithSession(sessionID string) *zap.Logger {
	if sessionID == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("session_id", sessionID))
}

// Request-aware logging methods
func (l *Logger) WithRequest(requestID string) *zap.Logger {
	if requestID == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("request_id", requestID))
}

// Contract-aware logging methods
func (l *Logger) WithContract(name, address string) *zap.Logger {
	return l.Logger.With(zap.String("contract", name), zap.String("contract_address", address))
}

// Critical error logging
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
