package go_fvm

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// LogInit initializes the logger with the specified level.
func LogInit(level int) {
	switch level {
	case DEBUG, INFO:
		os.Setenv("DEBUG_I2P", "debug")
	case WARNING:
		os.Setenv("DEBUG_I2P", "warn")
	case ERROR:
		os.Setenv("DEBUG_I2P", "error")
	case FATAL:
		os.Setenv("DEBUG_I2P", "fatal")
		os.Setenv("WARNFAIL_I2P", "true")
	default:
		os.Setenv("DEBUG_I2P", "debug")
	}
	logger.InitializeGoI2PLogger()
	log = logger.GetGoI2PLogger()
}

// Debug logs a debug message with optional arguments.
func Debug(message string, args ...interface{}) {
	if len(args) == 0 {
		log.Debug(message)
		return
	}
	log.Debugf(message, args...)
}

// Info logs an info message with optional arguments.
// Info maps to Warn level in the go-i2p logger.
func Info(message string, args ...interface{}) {
	if len(args) == 0 {
		log.Warn(message)
		return
	}
	log.Warnf(message, args...)
}

// Warning logs a warning message with optional arguments.
func Warning(message string, args ...interface{}) {
	if len(args) == 0 {
		log.Warn(message)
		return
	}
	log.Warnf(message, args...)
}

// Error logs an error message with optional arguments.
func Error(message string, args ...interface{}) {
	if len(args) == 0 {
		log.Error(message)
		return
	}
	log.Errorf(message, args...)
}

// fvFields builds the structured context attached to per-id log lines.
func fvFields(op string, id FreshnessValueId) logger.Fields {
	return logger.Fields{
		"at":    op,
		"fv_id": id,
	}
}
