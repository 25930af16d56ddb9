// Package logging builds the zerolog logger shared by the CLI and the
// bootloader trace.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "UARTBOOT_LOG_LEVEL"
	EnvLogNoColor = "UARTBOOT_LOG_NOCOLOR"
)

// New returns a console logger tagged with app. The level comes from level
// unless UARTBOOT_LOG_LEVEL overrides it. It also becomes the global logger.
func New(app, level string) zerolog.Logger {
	return newLogger(os.Stderr, app, level)
}

func newLogger(out io.Writer, app, level string) zerolog.Logger {
	lvl, ok := parseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		lvl, _ = parseLevel(level)
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		output.NoColor = v
	}

	logger := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
