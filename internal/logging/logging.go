// Package logging sets up the zerolog logger used throughout airfuse.
//
// Where logs go depends on whether airfuse runs in ticker, serve or tui mode.
// # Ticker and serve mode
// - console output goes to stdout
// - logs go to stderr
// # TUI mode
// - console output is owned by the TUI
// - logs go to the log file `airfuse.log`
// .
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// DefaultLogFile is where logs are written in TUI mode.
const DefaultLogFile = "airfuse.log"

// Params contains the writers for console output and logs.
type Params struct {
	ConsoleOut io.Writer
	ErrorOut   io.Writer
}

// Config holds logger configuration options.
type Config struct {
	// Level is the minimum log level to output (trace, debug, info, warn, error, disabled).
	Level string `mapstructure:"level"`
	// Format is one of auto, console or json. Auto picks console on terminals.
	Format string `mapstructure:"format"`
	// Output is stderr, stdout, discard or a file path.
	Output string `mapstructure:"output"`
	// NoColor disables color output in console mode.
	NoColor bool `mapstructure:"no_color"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "auto",
		Output:  "stderr",
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

// ParamsFor returns the console and log writers for a run mode. The returned closer releases
// the log file, if one was opened.
func ParamsFor(tui bool, cfg Config) (Params, func() error, error) {
	noop := func() error { return nil }
	if !tui {
		out, closer, err := openOutput(cfg.Output)
		if err != nil {
			return Params{}, noop, err
		}
		return Params{ConsoleOut: os.Stdout, ErrorOut: out}, closer, nil
	}

	path := cfg.Output
	if path == "" || path == "stderr" || path == "stdout" {
		path = DefaultLogFile
	}
	out, closer, err := openOutput(path)
	if err != nil {
		return Params{}, noop, err
	}
	return Params{ConsoleOut: io.Discard, ErrorOut: out}, closer, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:mnd // file mode
	if err != nil {
		return nil, noop, err
	}
	return file, file.Close, nil
}

// New creates a logger writing to params.ErrorOut.
func New(cfg Config, params Params) zerolog.Logger {
	out := params.ErrorOut
	if out == nil {
		out = os.Stderr
	}

	level := ParseLevel(cfg.Level)
	logger := zerolog.New(writerFor(cfg, out)).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}

	return logger
}

func writerFor(cfg Config, out io.Writer) io.Writer {
	format := strings.ToLower(cfg.Format)
	if format == "auto" || format == "" {
		format = "json"
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "console"
		}
	}

	if format == "console" || format == "pretty" {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	}
	return out
}

// ParseLevel parses a log level string, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		return l
	}
	return zerolog.InfoLevel
}
