package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SubSystem tags every record with the pipeline stage that emitted it.
type SubSystem string

const (
	Config   SubSystem = "config"
	Dataset  SubSystem = "dataset"
	Augment  SubSystem = "augment"
	Model    SubSystem = "model"
	Training SubSystem = "training"
	Evaluate SubSystem = "evaluate"
	Explain  SubSystem = "explain"
	Report   SubSystem = "report"
)

// Setup installs the default logger. Format is "text" or "json".
func Setup(w io.Writer, level, format string) error {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func setNoopLogger() {
	var logLevel slog.LevelVar
	// above every real level
	logLevel.Set(slog.Level(100))

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: &logLevel,
	}))
	slog.SetDefault(logger)
}

// WithNoopLogger runs action with logging silenced and restores the previous logger.
func WithNoopLogger(action func() error) error {
	currentLogger := slog.Default()
	defer slog.SetDefault(currentLogger)

	setNoopLogger()
	return action()
}

func Warn(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Warn(msg, withSubsystem...)
}

func Info(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Info(msg, withSubsystem...)
}

func Error(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Error(msg, withSubsystem...)
}

func Debug(msg string, subSystem SubSystem, keyvals ...interface{}) {
	withSubsystem := append([]interface{}{"subsystem", subSystem}, keyvals...)
	slog.Debug(msg, withSubsystem...)
}
