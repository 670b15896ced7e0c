package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sinkOnce sync.Once
	sink     io.Writer
)

// logSink is stdout, or a rotated file when OPTL_LOG_FILE is set. The file
// writer is shared by every component logger.
func logSink() io.Writer {
	sinkOnce.Do(func() {
		sink = os.Stdout
		if path := os.Getenv("OPTL_LOG_FILE"); path != "" {
			sink = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    100, // megabytes
				MaxBackups: 5,
				MaxAge:     14, // days
				Compress:   true,
			}
		}
	})
	return sink
}

// NewLogger creates a structured JSON logger tagged with component.
// Level is read from OPTL_LOG_LEVEL; the default is info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("OPTL_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logSink()).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
