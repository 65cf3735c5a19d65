package logging

import (
	"fmt"
	"io"
	"sync"
)

// ConsoleLogger writes log lines to a terminal stream, without the
// timestamps and caller locations the file logger records. It is combined
// with the file logger via Multi when verbose output is requested.
type ConsoleLogger struct {
	mu        sync.Mutex
	w         io.Writer
	component string
}

// NewConsole returns a console logger scoped to a component.
func NewConsole(w io.Writer, component string) *ConsoleLogger {
	return &ConsoleLogger{w: w, component: component}
}

func (l *ConsoleLogger) write(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	component := l.component
	if component == "" {
		component = "TOOLQ"
	}
	fmt.Fprintf(l.w, "[%s] [%s] %s\n",
		levelString(level), component, sanitize(fmt.Sprintf(format, args...)))
}

func (l *ConsoleLogger) Debug(format string, args ...any) { l.write(LevelDebug, format, args...) }
func (l *ConsoleLogger) Info(format string, args ...any)  { l.write(LevelInfo, format, args...) }
func (l *ConsoleLogger) Warn(format string, args ...any)  { l.write(LevelWarn, format, args...) }
func (l *ConsoleLogger) Error(format string, args ...any) { l.write(LevelError, format, args...) }
