package bootstrap

import (
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/config"
)

// NewLogger builds the application logger. Components log through it
// directly, so the level is enforced here as well as by the Wails runtime.
func NewLogger(cfg config.LogConfig) (logger.Logger, logger.LogLevel, error) {
	level := logger.INFO
	if cfg.Level != "" {
		parsed, err := logger.StringToLogLevel(cfg.Level)
		if err != nil {
			return nil, logger.INFO, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	var base logger.Logger = logger.NewDefaultLogger()
	if cfg.File != "" {
		base = logger.NewFileLogger(cfg.File)
	}
	return &levelLogger{next: base, level: level}, level, nil
}

type levelLogger struct {
	next  logger.Logger
	level logger.LogLevel
}

func (l *levelLogger) Print(message string) { l.next.Print(message) }

func (l *levelLogger) Trace(message string) {
	if l.level <= logger.TRACE {
		l.next.Trace(message)
	}
}

func (l *levelLogger) Debug(message string) {
	if l.level <= logger.DEBUG {
		l.next.Debug(message)
	}
}

func (l *levelLogger) Info(message string) {
	if l.level <= logger.INFO {
		l.next.Info(message)
	}
}

func (l *levelLogger) Warning(message string) {
	if l.level <= logger.WARNING {
		l.next.Warning(message)
	}
}

func (l *levelLogger) Error(message string) {
	if l.level <= logger.ERROR {
		l.next.Error(message)
	}
}

func (l *levelLogger) Fatal(message string) { l.next.Fatal(message) }
