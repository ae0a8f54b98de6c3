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

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// The kernel's severity levels don't line up 1:1 with slog's four built-
// ins, so TRACE gets its own slog.Level below DEBUG and OFF one above
// ERROR; WARNING is slog.LevelWarn itself.
const (
	levelTrace   = slog.LevelDebug - 4
	levelWarning = slog.LevelWarn
	levelOff     = slog.LevelError + 4
)

func severityName(l slog.Level) string {
	switch {
	case l <= levelTrace:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < levelWarning:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

type loggerFactory struct{}

// severityHandler renders log/slog records in two wire formats: a text
// line "time=\"...\" severity=X message=\"...\"" or a JSON object
// "{\"timestamp\":{...},\"severity\":\"X\",\"message\":\"...\"}", both
// keyed on our five-level severity rather than slog's four.
type severityHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	json   bool
	attrs  []slog.Attr
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{w: w, level: level, prefix: prefix}
}

func (f *loggerFactory) createJSONHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{w: w, level: level, prefix: prefix, json: true}
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	msg := h.prefix + r.Message

	var extra strings.Builder
	for _, a := range h.attrs {
		fmt.Fprintf(&extra, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&extra, " %s=%v", a.Key, a.Value)
		return true
	})

	if h.json {
		type ts struct {
			Seconds int64 `json:"seconds"`
			Nanos   int   `json:"nanos"`
		}
		rec := struct {
			Timestamp ts     `json:"timestamp"`
			Severity  string `json:"severity"`
			Message   string `json:"message"`
		}{
			Timestamp: ts{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
			Severity:  sev,
			Message:   msg,
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(h.w, "%s%s\n", enc, extra.String())
		return err
	}

	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q%s\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), sev, msg, extra.String())
	return err
}

func (h *severityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &n
}

func (h *severityHandler) WithGroup(name string) slog.Handler {
	// Groups are not used by kernel logging; keep behavior simple and
	// predictable rather than nesting attrs under a group key.
	return h
}
