// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the kernel's structured console logger. It plays the
// role trap-level console output plays on real hardware: every subsystem
// logs through here rather than fmt.Println, so boot/test output reads as
// one coherent stream tagged with severity and the boot session id.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/rvos-dev/rvkernel/cfg"
)

var (
	defaultLogger        *slog.Logger
	defaultLoggerFactory = new(loggerFactory)
	programLevel         = new(slog.LevelVar)
	bootSessionID        = uuid.NewString()
)

func init() {
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
}

// Init (re)configures the package-level logger from boot configuration.
// Called once by the CLI layer before boot.
func Init(c cfg.LogConfig) (io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if c.FilePath != "" {
		lj := newRotatingWriter(c.FilePath, c.MaxSizeMb, c.MaxBackups)
		al := NewAsyncLogger(lj, 1024)
		w = al
		closer = al
	}

	setLoggingLevel(c.Severity, programLevel)
	var handler slog.Handler
	if c.Format == cfg.JSONLogFormat {
		handler = defaultLoggerFactory.createJSONHandler(w, programLevel, "")
	} else {
		handler = defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, "")
	}
	defaultLogger = slog.New(handler).With("session", bootSessionID)
	return closer, nil
}

func setLoggingLevel(severity cfg.LogSeverity, level *slog.LevelVar) {
	switch severity {
	case cfg.TraceLogSeverity:
		level.Set(levelTrace)
	case cfg.DebugLogSeverity:
		level.Set(slog.LevelDebug)
	case cfg.InfoLogSeverity:
		level.Set(slog.LevelInfo)
	case cfg.WarningLogSeverity:
		level.Set(levelWarning)
	case cfg.ErrorLogSeverity:
		level.Set(slog.LevelError)
	case cfg.OffLogSeverity:
		level.Set(levelOff)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Tracef logs at TRACE, the kernel's most verbose level (per-page-fault,
// per-block, per-context-switch detail).
func Tracef(format string, args ...any) { logf(levelTrace, format, args...) }

// Debugf logs at DEBUG.
func Debugf(format string, args ...any) { logf(slog.LevelDebug, format, args...) }

// Infof logs at INFO.
func Infof(format string, args ...any) { logf(slog.LevelInfo, format, args...) }

// Warnf logs at WARNING.
func Warnf(format string, args ...any) { logf(levelWarning, format, args...) }

// Errorf logs at ERROR.
func Errorf(format string, args ...any) { logf(slog.LevelError, format, args...) }

func logf(level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	defaultLogger.Log(context.Background(), level, msg)
}
