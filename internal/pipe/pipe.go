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

// Package pipe is the kernel's anonymous pipe: a single 4096-byte ring
// buffer shared by a read endpoint and a write endpoint, with blocking
// backpressure in both directions implemented on internal/thread's
// Condition rather than Go channels, since both endpoints must participate
// in the same single-hart suspend/resume protocol every other blocking
// subsystem uses.
package pipe

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// RingSize is the pipe buffer's fixed capacity.
const RingSize = 4096

// pageBroadcastInterval batches not_empty wakeups to once per page of
// written bytes, reusing the same page size the rest of the kernel maps
// memory in units of.
const pageBroadcastInterval = 4096

// ring is the shared state behind both endpoints. mu protects the ring's
// data and refcounts; it is distinct from the Scheduler's own mutex, which
// is only ever held transiently by thread.Scheduler's methods.
type ring struct {
	mu sync.Mutex

	// head and tail are free-running uint16 cursors; since RingSize
	// divides 65536, their natural wraparound stays congruent mod
	// RingSize, so indexing masks with RingSize-1.
	buf  [RingSize]byte
	head uint16 // next byte to read
	tail uint16 // next byte to write
	size int    // bytes currently buffered, 0..RingSize

	notEmpty *thread.Condition
	notFull  *thread.Condition

	readerRefs int
	writerRefs int

	sched *thread.Scheduler
}

// Reader is the read endpoint of a pipe.
type Reader struct{ r *ring }

// Writer is the write endpoint of a pipe.
type Writer struct{ r *ring }

// New creates a connected pipe: one Reader and one Writer, each starting
// with a reference count of 1.
func New(sched *thread.Scheduler) (*Reader, *Writer) {
	r := &ring{sched: sched, readerRefs: 1, writerRefs: 1}
	r.notEmpty = thread.NewCondition(sched)
	r.notFull = thread.NewCondition(sched)
	return &Reader{r: r}, &Writer{r: r}
}

func (r *ring) empty() bool { return r.size == 0 }
func (r *ring) full() bool  { return r.size == RingSize }

// Read implements the reader side of the pipe: blocks while the buffer is
// empty and a writer remains, returns 0 (EOF) once the buffer is empty and
// no writer remains, otherwise copies up to len(buf) bytes and broadcasts
// not_full.
func (rd *Reader) Read(buf []byte) (int, error) {
	r := rd.r
	self := mustCurrent(r.sched)

	r.mu.Lock()
	for r.empty() && r.writerRefs > 0 {
		r.mu.Unlock()
		r.sched.Suspend(self, r.notEmpty)
		r.mu.Lock()
	}
	if r.empty() {
		r.mu.Unlock()
		return 0, nil // EOF: no writer left and nothing buffered
	}

	n := 0
	for n < len(buf) && r.size > 0 {
		buf[n] = r.buf[r.head&(RingSize-1)]
		r.head++
		r.size--
		n++
	}
	r.mu.Unlock()

	r.sched.Broadcast(r.notFull)
	return n, nil
}

func (rd *Reader) ReadAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("pipe: readat: %w", kerr.ErrUnsupported)
}

func (rd *Reader) Write([]byte) (int, error) {
	return 0, fmt.Errorf("pipe: write on read endpoint: %w", kerr.ErrUnsupported)
}

func (rd *Reader) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("pipe: writeat: %w", kerr.ErrUnsupported)
}

// Cntl implements GETEND: the number of currently readable bytes.
func (rd *Reader) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	if cmd != ioobj.GetEnd {
		return 0, fmt.Errorf("pipe reader cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
	rd.r.mu.Lock()
	defer rd.r.mu.Unlock()
	return int64(rd.r.size), nil
}

func (rd *Reader) AddRef() {
	rd.r.mu.Lock()
	rd.r.readerRefs++
	rd.r.mu.Unlock()
}

// Close decrements the reader refcount and wakes any writer blocked on a
// full buffer so it can observe the loss ("per-byte check of reader
// refcount detects mid-write loss of the reader"). The ring's backing
// array is reclaimed by the garbage collector once both endpoints are
// unreachable, standing in for an explicit ring-page free on a real
// machine.
func (rd *Reader) Close() error {
	r := rd.r
	r.mu.Lock()
	r.readerRefs--
	r.mu.Unlock()
	r.sched.Broadcast(r.notFull)
	return nil
}

// Write implements the writer side of the pipe: rejects outright if no
// reader remains and nothing has been written yet; otherwise writes byte
// by byte, blocking on not_full while the ring is full, rechecking the
// reader refcount on every byte, and broadcasting not_empty every page (or
// at the end of the call).
func (wr *Writer) Write(buf []byte) (int, error) {
	r := wr.r
	self := mustCurrent(r.sched)

	written := 0
	sinceBroadcast := 0
	for written < len(buf) {
		r.mu.Lock()
		if r.readerRefs == 0 {
			r.mu.Unlock()
			if written > 0 {
				return written, nil // mid-write loss of reader: partial count, no error
			}
			return 0, fmt.Errorf("pipe write: %w", kerr.ErrBrokenPipe)
		}
		for r.full() {
			r.mu.Unlock()
			r.sched.Suspend(self, r.notFull)
			r.mu.Lock()
			if r.readerRefs == 0 {
				break
			}
		}
		if r.readerRefs == 0 {
			r.mu.Unlock()
			if written > 0 {
				return written, nil
			}
			return 0, fmt.Errorf("pipe write: %w", kerr.ErrBrokenPipe)
		}

		r.buf[r.tail&(RingSize-1)] = buf[written]
		r.tail++
		r.size++
		r.mu.Unlock()

		written++
		sinceBroadcast++
		if sinceBroadcast == pageBroadcastInterval || written == len(buf) {
			r.sched.Broadcast(r.notEmpty)
			sinceBroadcast = 0
		}
	}
	return written, nil
}

func (wr *Writer) Read([]byte) (int, error) {
	return 0, fmt.Errorf("pipe: read on write endpoint: %w", kerr.ErrUnsupported)
}

func (wr *Writer) ReadAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("pipe: readat: %w", kerr.ErrUnsupported)
}

func (wr *Writer) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("pipe: writeat: %w", kerr.ErrUnsupported)
}

// Cntl implements GETEND: the number of currently free bytes.
func (wr *Writer) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	if cmd != ioobj.GetEnd {
		return 0, fmt.Errorf("pipe writer cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
	wr.r.mu.Lock()
	defer wr.r.mu.Unlock()
	return int64(RingSize - wr.r.size), nil
}

func (wr *Writer) AddRef() {
	wr.r.mu.Lock()
	wr.r.writerRefs++
	wr.r.mu.Unlock()
}

func (wr *Writer) Close() error {
	r := wr.r
	r.mu.Lock()
	r.writerRefs--
	r.mu.Unlock()
	r.sched.Broadcast(r.notEmpty) // readers waiting for data must re-check for EOF
	return nil
}

func mustCurrent(s *thread.Scheduler) *thread.Thread {
	self := s.Current()
	if self == nil {
		panic("pipe: called with no current thread")
	}
	return self
}
