package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. With telemetry.log_file set, records
// go to stdout and a rotating file.
func newLogger(cfg config.TelemetryConfig, stdout io.Writer) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	out := stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    orDefault(cfg.LogMaxSizeMB, 64),
			MaxBackups: orDefault(cfg.LogMaxBackups, 3),
			MaxAge:     orDefault(cfg.LogMaxAgeDays, 7),
			Compress:   true,
		}
		out = io.MultiWriter(stdout, file)
		closeFn = func() { _ = file.Close() }
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
