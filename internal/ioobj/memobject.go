// Copyright 2015 Google Inc. All Rights Reserved.
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

package ioobj

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// MemObject is a memory-backed I/O object: a single fixed-capacity buffer
// that SetEnd may shrink but never grow. Used directly for small kernel-internal
// buffers, and as the backing object the devices package wraps for the
// simulated VirtIO-blk image when no real file is configured.
type MemObject struct {
	mu   sync.Mutex
	buf  []byte
	refs int
}

// NewMemObject creates a MemObject with the given initial content and a
// reference count of 1. The slice is taken by reference, not copied.
func NewMemObject(initial []byte) *MemObject {
	return &MemObject{buf: initial, refs: 1}
}

func (m *MemObject) Read(buf []byte) (int, error) {
	return m.ReadAt(buf, 0)
}

func (m *MemObject) Write(buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := m.WriteAt(buf[written:], int64(written))
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
	}
	return written, nil
}

// ReadAt clamps to the buffer's current size.
func (m *MemObject) ReadAt(buf []byte, pos int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 {
		return 0, fmt.Errorf("memobject readat: negative pos: %w", kerr.ErrInvalidArgument)
	}
	if pos >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(buf, m.buf[pos:])
	return n, nil
}

// WriteAt clamps to the buffer's current size; it does not auto-extend.
func (m *MemObject) WriteAt(buf []byte, pos int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 {
		return 0, fmt.Errorf("memobject writeat: negative pos: %w", kerr.ErrInvalidArgument)
	}
	if pos >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(m.buf[pos:], buf)
	return n, nil
}

// Cntl implements GetBlockSize (1), GetEnd, and SetEnd (may only shrink).
// GetPos/SetPos are unsupported: a MemObject has no position of its own,
// only Seekable wrapping one does.
func (m *MemObject) Cntl(cmd Cmd, arg int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd {
	case GetBlockSize:
		return 1, nil
	case GetEnd:
		return int64(len(m.buf)), nil
	case SetEnd:
		if arg < 0 || arg > int64(len(m.buf)) {
			return 0, fmt.Errorf("memobject setend %d: %w", arg, kerr.ErrInvalidArgument)
		}
		m.buf = m.buf[:arg]
		return arg, nil
	case GetPos, SetPos:
		return 0, errNotSeekable
	default:
		return 0, fmt.Errorf("memobject cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
}

func (m *MemObject) AddRef() {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
}

func (m *MemObject) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs--
	return nil
}

// Refs returns the current reference count, for tests.
func (m *MemObject) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
