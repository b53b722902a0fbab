package modforge

import (
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05",
})

// SetLogLevel maps the CLI log level names onto the logger. "verbose" is an
// alias for debug.
func SetLogLevel(level string) error {
	switch level {
	case "verbose", "debug":
		logger.SetLevel(log.DebugLevel)
	case "", "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		return errUnknownLogLevel(level)
	}
	return nil
}

type errUnknownLogLevel string

func (e errUnknownLogLevel) Error() string {
	return "unknown log level: " + string(e)
}

// Logger exposes the package logger so cmd can share it.
func Logger() *log.Logger {
	return logger
}
