// Package logging собирает zerolog-логгер процесса из настроек командной строки.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level   string // debug, info, warn, error; пусто = info
	File    string // путь к файлу журнала; пусто = только stderr
	Console bool   // человекочитаемый вывод вместо JSON
	Output  io.Writer
}

// Logger — логгер вместе с открытым файлом журнала (если он есть).
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Close закрывает файл журнала.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var file *os.File
	if opts.File != "" {
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		out = zerolog.MultiLevelWriter(out, file)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{Logger: zl, file: file}, nil
}

// ParseLevel разбирает имя уровня журнала.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}

// OrNop возвращает переданный логгер или пустой, если он не задан.
func OrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}

// Component добавляет к логгеру поле component.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
