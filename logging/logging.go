// Package logging provides leveled component loggers for movekey.
// Logs are written to a session file under ~/.config/movekey/logs, falling
// back to stderr when the file cannot be opened.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// output is shared by every logger derived from the same root.
type output struct {
	mu        sync.Mutex
	logger    *log.Logger
	file      *os.File
	closeOnce sync.Once
}

// Logger writes leveled, component-tagged entries.
type Logger struct {
	out       *output
	component string
	level     Level
	sessionID string
}

var (
	sessionID     string
	sessionIDOnce sync.Once
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// DefaultDir returns ~/.config/movekey/logs.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "movekey", "logs"), nil
}

// Open creates a logger writing to <dir>/<session-id>-movekey.log.
// If the file cannot be opened it returns a stderr logger along with the error.
func Open(dir, component string, level Level) (*Logger, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return New(os.Stderr, component, level), err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return New(os.Stderr, component, level), fmt.Errorf("creating log dir: %w", err)
	}

	path := filepath.Join(dir, getSessionID()+"-movekey.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return New(os.Stderr, component, level), fmt.Errorf("opening log file: %w", err)
	}

	l := New(f, component, level)
	l.out.file = f
	return l, nil
}

// New creates a logger writing to w.
func New(w io.Writer, component string, level Level) *Logger {
	return &Logger{
		out:       &output{logger: log.New(w, "", 0)},
		component: component,
		level:     level,
		sessionID: getSessionID(),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "discard", LevelError+1)
}

// With returns a logger for another component sharing this logger's output.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.component = component
	return &c
}

// SessionID returns the id shared by every logger in this process.
func (l *Logger) SessionID() string {
	return l.sessionID
}

func (l *Logger) logf(level Level, format string, v ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	ts := time.Now().Format("2006-01-02 15:04:05.000")

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.logger.Printf("[%s] [%s] [%s] %s", ts, l.component, level, msg)
}

func (l *Logger) Debugf(format string, v ...any) { l.logf(LevelDebug, format, v...) }
func (l *Logger) Infof(format string, v ...any)  { l.logf(LevelInfo, format, v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.logf(LevelWarn, format, v...) }
func (l *Logger) Errorf(format string, v ...any) { l.logf(LevelError, format, v...) }

// Close closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.out.closeOnce.Do(func() {
		if l.out.file != nil {
			err = l.out.file.Close()
		}
	})
	return err
}
