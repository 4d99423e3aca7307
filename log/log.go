// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides the leveled logging sink apkverify calls into at key
// decision points. It is never on the verification critical path: when no
// Logger is configured, every call reduces to a no-op.
//
// The shape here (Logger interface, Level, Helper, Filter, NewStdLogger)
// follows a common sibling-log-package convention: a minimal Logger sink,
// a Filter that drops below a configured level, and a Helper adding
// printf-style convenience methods so call sites never nil-check.
package log

import (
	"fmt"
	"io"
	"sync"
)

// Level is the severity of a single log record.
type Level int

// Severity levels, ordered least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
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

// Logger is the sink apkverify writes formatted records to. Implementations
// must be safe for concurrent use; apkverify itself only ever calls a Logger
// from within a single Verify call, but embedding applications may share one
// Logger across many Verifiers.
type Logger interface {
	Log(level Level, msg string) error
}

// NewStdLogger returns a Logger that writes "LEVEL: msg\n" lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{w: w}
}

type stdLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *stdLogger) Log(level Level, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s: %s\n", level, msg)
	return err
}

// FilterOption configures a filtering Logger built by NewFilter.
type FilterOption func(*filter)

// FilterLevel drops any record below the given level.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter wraps logger so that records below the configured level (via
// FilterLevel) are dropped before reaching it.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type filter struct {
	logger Logger
	level  Level
}

func (f *filter) Log(level Level, msg string) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, msg)
}

// Helper adds printf-style convenience methods over a Logger. Both a nil
// *Helper and the Helper returned by NewHelper(nil) are valid, and every
// method on them is a no-op, so callers never need to nil-check before
// logging.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger. Passing a nil Logger yields a Helper whose methods
// are all no-ops.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, fmt.Sprintf(format, args...))
}

// Debugf logs a formatted message at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs a formatted message at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warnf logs a formatted message at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Errorf logs a formatted message at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }
