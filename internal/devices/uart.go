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

package devices

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// uartRingSize is the UART's input ring capacity. Small on purpose: a real
// 16550 has a 16-byte FIFO, and this ring plays the same role for
// characters the host has typed but the kernel hasn't read yet.
const uartRingSize = 256

// UART simulates a console device: writes go straight out to the host
// sink, reads block on an input ring an ISR refills. Ring-buffer-plus-
// Condition shape grounded on internal/pipe's ring.
type UART struct {
	mu sync.Mutex
	// head and tail free-run as uint16; uartRingSize divides 65536, so
	// indexing masks with uartRingSize-1 and wraparound stays congruent.
	buf  [uartRingSize]byte
	head uint16
	tail uint16
	size int
	refs int

	notEmpty *thread.Condition
	sched    *thread.Scheduler
	out      func(b byte)
}

// NewUART creates a UART that writes output bytes to out (nil discards
// them) and reads input injected via InjectInput.
func NewUART(sched *thread.Scheduler, out func(byte)) *UART {
	return &UART{sched: sched, out: out, refs: 1, notEmpty: thread.NewCondition(sched)}
}

func (u *UART) full() bool { return u.size == uartRingSize }

// InjectInput stands in for the UART's receive ISR draining the host's
// incoming bytes into the ring: it fills whatever room remains and wakes
// any reader blocked on notEmpty. Bytes beyond the ring's free space are
// dropped, the same overrun behavior a real 16550 has without flow
// control.
func (u *UART) InjectInput(data []byte) {
	u.mu.Lock()
	for _, b := range data {
		if u.full() {
			break
		}
		u.buf[u.tail&(uartRingSize-1)] = b
		u.tail++
		u.size++
	}
	u.mu.Unlock()
	u.sched.Broadcast(u.notEmpty)
}

// Read blocks until at least one byte is available, then copies up to
// len(buf) bytes out of the ring.
func (u *UART) Read(buf []byte) (int, error) {
	self := mustCurrent(u.sched)

	u.mu.Lock()
	for u.size == 0 {
		u.mu.Unlock()
		u.sched.Suspend(self, u.notEmpty)
		u.mu.Lock()
	}

	n := 0
	for n < len(buf) && u.size > 0 {
		buf[n] = u.buf[u.head&(uartRingSize-1)]
		u.head++
		u.size--
		n++
	}
	u.mu.Unlock()
	return n, nil
}

// Write sends every byte to the host sink, a 16550 with no transmit FIFO
// pressure to speak of in this simulation.
func (u *UART) Write(buf []byte) (int, error) {
	if u.out != nil {
		for _, b := range buf {
			u.out(b)
		}
	}
	return len(buf), nil
}

func (u *UART) ReadAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("devices: uart readat: %w", kerr.ErrUnsupported)
}

func (u *UART) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("devices: uart writeat: %w", kerr.ErrUnsupported)
}

// Cntl implements GETEND: the number of currently unread input bytes.
func (u *UART) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	if cmd != ioobj.GetEnd {
		return 0, fmt.Errorf("devices: uart cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return int64(u.size), nil
}

func (u *UART) AddRef() {
	u.mu.Lock()
	u.refs++
	u.mu.Unlock()
}

func (u *UART) Close() error {
	u.mu.Lock()
	u.refs--
	u.mu.Unlock()
	return nil
}

// UARTDriver registers one shared UART under a (name, instance) pair:
// every devopen of that pair hands back a new reference to the same
// device, matching "one console, opened by many".
type UARTDriver struct{ Dev *UART }

func (d *UARTDriver) Open() (ioobj.Object, error) {
	d.Dev.AddRef()
	return d.Dev, nil
}
