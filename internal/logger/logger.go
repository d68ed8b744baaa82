package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

type Options struct {
	// File дописывается, не перезаписывается. Пустой путь отключает файл.
	File  string
	Level string
	// Console дублирует вывод; nil означает os.Stderr.
	Console io.Writer
}

// New returns a slog.Logger backed by charmbracelet/log and a closer for the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := charmlog.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := charmlog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			return nil, nil, fmt.Errorf("logger: %w", err)
		}
		level = parsed
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	out := console
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logger: open %s: %w", opts.File, err)
		}
		out = io.MultiWriter(f, console)
		closer = f
	}

	handler := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
		Formatter:       charmlog.TextFormatter,
	})
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
