package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"autoreply/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envLogFormat    = "AUTOREPLY_LOG_FORMAT"
	envLogLevel     = "AUTOREPLY_LOG_LEVEL"
	envLogAddSource = "AUTOREPLY_LOG_ADD_SOURCE"
	envLogFile      = "AUTOREPLY_LOG_FILE"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// settings is LoggingConfig after environment overrides and defaults.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := strings.ToLower(override(envLogFormat, cfg.Format))
	switch format {
	case "":
		format = formatText
	case formatText, formatJSON:
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelName := strings.ToLower(override(envLogLevel, cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, ok := levels[levelName]
	if !ok {
		return settings{}, fmt.Errorf("unsupported log level %q", levelName)
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envLogAddSource)); env != "" {
		addSource = parseBool(env)
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

// override returns the trimmed env value when set, else the trimmed fallback.
func override(env string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		return value
	}

	return strings.TrimSpace(fallback)
}

// New builds the process logger. Output goes to logging.file when set (or
// AUTOREPLY_LOG_FILE), otherwise to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	path := OutputPath(cfg)
	if path == "" {
		return NewWithWriter(cfg, os.Stderr)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return NewWithWriter(cfg, file)
}

// OutputPath returns the configured log file, empty when logging to stderr.
func OutputPath(cfg config.LoggingConfig) string {
	return override(envLogFile, cfg.File)
}

// NewWithWriter builds a logger that writes to writer. The console dashboard
// passes io.Discard so log output never corrupts the terminal UI.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == formatJSON {
		return slog.New(newEntryHandler(writer, s.level, s.addSource)), nil
	}

	pretty := charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLevel(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})
	return slog.New(pretty), nil
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
