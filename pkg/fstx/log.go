package fstx

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/fstx/pkg/fstx/batch"
	"github.com/arthur-debert/fstx/pkg/fstx/commands"
)

// NewLogger creates a console logger writing to w at level.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("lib", "fstx").
		Logger()
}

// VerbosityLevel lowers base by one level per verbose step, stopping at
// trace. Levels above warn count as warn, so a single step from a quiet
// configuration still shows info.
func VerbosityLevel(base zerolog.Level, verbose int) zerolog.Level {
	if verbose <= 0 {
		return base
	}
	if base > zerolog.WarnLevel {
		base = zerolog.WarnLevel
	}
	level := base - zerolog.Level(verbose)
	if level < zerolog.TraceLevel {
		return zerolog.TraceLevel
	}
	return level
}

func componentLogger(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func commandLogger(logger zerolog.Logger, cmd commands.Command) zerolog.Logger {
	return logger.With().
		Str("command_id", string(cmd.Metadata().ID)).
		Str("command_type", cmd.Type()).
		Logger()
}

func batchLogger(logger zerolog.Logger, op *batch.Operation) zerolog.Logger {
	return logger.With().
		Str("batch_id", string(op.ID)).
		Str("batch", op.Description).
		Logger()
}
