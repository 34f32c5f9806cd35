// Package logging implements the leveled "component: key=value" logger used
// throughout the scanner, in the spirit of the teacher's plain log.Printf
// prefixing convention but with an operator-adjustable verbosity level.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Verbosity levels, 0 (silent) through 6 (trace); default is 2 (Info).
const (
	LevelSilent = 0
	LevelError  = 1
	LevelInfo   = 2
	LevelDebug  = 3
	LevelTrace  = 6
)

// Logger writes "component: message" lines gated by level, matching the
// teacher's per-package log.Printf("pkgname: "+format, ...) convention.
type Logger struct {
	component string
	level     int
	out       *log.Logger
}

// New returns a Logger for component at the given verbosity level.
func New(component string, level int) *Logger {
	return &Logger{
		component: component,
		level:     level,
		out:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

// With returns a child Logger for a sub-component, e.g. l.With("filterpool").
func (l *Logger) With(component string) *Logger {
	return &Logger{component: l.component + "." + component, level: l.level, out: l.out}
}

func (l *Logger) logf(minLevel int, format string, args ...any) {
	if l.level < minLevel {
		return
	}
	l.out.Printf("%s: %s", l.component, fmt.Sprintf(format, args...))
}

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Tracef logs at LevelTrace.
func (l *Logger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }

// Warnf is an alias satisfying the filterpool.Option/tables.Context warn
// function signature (format string, args ...any) with no return value.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelError, format, args...) }
