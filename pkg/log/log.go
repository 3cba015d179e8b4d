package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New builds the root logger. Components receive child loggers derived from
// it via WithComponent; nothing in the core reads a package-level logger.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// WithComponent creates a child logger with a component field
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithProject creates a child logger with a project field
func WithProject(logger zerolog.Logger, project string) zerolog.Logger {
	return logger.With().Str("project", project).Logger()
}

// WithWorkflow creates a child logger with a workflow field
func WithWorkflow(logger zerolog.Logger, workflow string) zerolog.Logger {
	return logger.With().Str("workflow", workflow).Logger()
}

// WithInstanceID creates a child logger with an instance_id field
func WithInstanceID(logger zerolog.Logger, instanceID int64) zerolog.Logger {
	return logger.With().Int64("instance_id", instanceID).Logger()
}
