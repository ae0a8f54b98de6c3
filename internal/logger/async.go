// Copyright 2025 Google LLC
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
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AsyncLogger decouples kernel subsystems (which may be holding the
// scheduler or cache lock when they log) from the latency of the
// underlying writer by handing log lines to a dedicated goroutine over a
// bounded channel. A full buffer drops the message and reports it on
// stderr rather than blocking the caller: stalling the scheduler on a slow
// log sink is worse than losing a log line.
type AsyncLogger struct {
	w    io.Writer
	ch   chan []byte
	done chan struct{}
	wg   sync.WaitGroup
}

// NewAsyncLogger starts the writer goroutine. bufferSize bounds how many
// pending log lines may queue before new ones are dropped.
func NewAsyncLogger(w io.Writer, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		w:    w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer a.wg.Done()
	for b := range a.ch {
		_, _ = a.w.Write(b)
	}
}

// Write implements io.Writer. It never blocks: if the buffer is full the
// line is dropped and a warning is written directly to stderr.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains pending lines and stops the writer goroutine.
func (a *AsyncLogger) Close() error {
	close(a.ch)
	a.wg.Wait()
	if c, ok := a.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// newRotatingWriter builds the lumberjack-backed rotation policy used when
// a log file path is configured.
func newRotatingWriter(path string, maxSizeMb, maxBackups int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMb,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}
