// Package logging builds the process logger: a log/slog front end over a
// charmbracelet/log handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var formatters = map[string]log.Formatter{
	"text":   log.TextFormatter,
	"json":   log.JSONFormatter,
	"logfmt": log.LogfmtFormatter,
}

// New returns a logger writing to w at the given level ("debug", "info",
// "warn", "error") in the given format ("text", "json", "logfmt").
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	f, ok := formatters[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("log format %q: want text, json or logfmt", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       f,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
