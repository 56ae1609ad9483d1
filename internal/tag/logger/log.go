// Package logger configures phuslu/log for the tag runtime.
package logger

import (
	"io"
	"os"

	"github.com/phuslu/log"

	"github.com/kolkov/tagdetector/internal/tag/config"
)

// parseLogLevel converts string log level to log.Level
func parseLogLevel(levelStr string) log.Level {
	switch levelStr {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// createWriter builds the writer for the configured format.
func createWriter(format string, w io.Writer) log.Writer {
	if format == "json" {
		return &log.IOWriter{Writer: w}
	}
	return &log.ConsoleWriter{
		ColorOutput:    false,
		QuoteString:    true,
		EndWithMessage: true,
		Writer:         w,
	}
}

// ConfigureLogging configures the global DefaultLogger to write to stderr.
func ConfigureLogging(f *config.Flags) {
	ConfigureLoggingTo(f, os.Stderr)
}

// ConfigureLoggingTo configures the global DefaultLogger to write to w.
func ConfigureLoggingTo(f *config.Flags, w io.Writer) {
	log.DefaultLogger = log.Logger{
		Level:      parseLogLevel(f.LogLevel),
		TimeField:  "time",
		TimeFormat: "",
		Writer:     createWriter(f.LogFormat, w),
	}
}

// NewLoggerWithContext creates a new logger by copying the global DefaultLogger
// and adding component-specific context.
// Call after ConfigureLogging so the component sees the configured level and writer.
func NewLoggerWithContext(component string) log.Logger {
	bl := &log.DefaultLogger
	return log.Logger{
		Level:        bl.Level,
		Caller:       0,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(bl.Context).Str("component", component).Value(),
	}
}
