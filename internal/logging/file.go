package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	defaultLogger *FileLogger
	defaultOnce   sync.Once
)

// FileLogger writes formatted log lines to ~/.toolq/toolq.log.
type FileLogger struct {
	file      *os.File
	out       *log.Logger
	level     Level
	mu        sync.Mutex
	component string
}

// Default returns the process-wide file logger, creating it on first use.
func Default() *FileLogger {
	defaultOnce.Do(func() {
		defaultLogger = newFileLogger("", LevelInfo)
	})
	return defaultLogger
}

// NewComponentLogger returns the default file logger scoped to a component.
func NewComponentLogger(component string) Logger {
	base := Default()
	return &FileLogger{
		file:      base.file,
		out:       base.out,
		level:     base.level,
		component: component,
	}
}

func newFileLogger(component string, level Level) *FileLogger {
	l := &FileLogger{
		level:     level,
		component: component,
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	dir := filepath.Join(home, ".toolq")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return l
	}
	file, err := os.OpenFile(filepath.Join(dir, "toolq.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return l
	}

	l.file = file
	l.out = log.New(file, "", 0)
	return l
}

// SetLevel sets the minimum level the default logger records.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level || l.out == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "TOOLQ"
	}

	// Format: 2025-09-30 12:34:56 [INFO] [Component] file.go:123 - message
	message := fmt.Sprintf(format, args...)
	l.out.Printf("%s [%s] [%s] %s:%d - %s",
		time.Now().Format("2006-01-02 15:04:05"),
		levelString(level), component, file, line, sanitize(message))
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch name {
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

const redactedPlaceholder = "[REDACTED]"

// Shell commands and fetched URLs pass through log lines, so key-like values
// are masked before they hit disk.
var sensitiveKeyValuePattern = regexp.MustCompile(
	`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*(?:"|')?)([^"'\s,;]+)((?:"|')?)`,
)

func sanitize(line string) string {
	return sensitiveKeyValuePattern.ReplaceAllStringFunc(line, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + redactedPlaceholder + submatches[3]
	})
}
