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
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// RTC simulates a real-time clock device: a read returns the current Unix
// time as an 8-byte little-endian value, regardless of the requested
// buffer's offset.
type RTC struct {
	mu   sync.Mutex
	refs int
	now  func() time.Time
}

// NewRTC creates an RTC backed by now (time.Now if nil), letting tests fix
// the clock.
func NewRTC(now func() time.Time) *RTC {
	if now == nil {
		now = time.Now
	}
	return &RTC{refs: 1, now: now}
}

func (r *RTC) stamp() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(r.now().Unix()))
	return b
}

// Read copies the current timestamp into buf, truncating if buf is shorter
// than 8 bytes.
func (r *RTC) Read(buf []byte) (int, error) {
	b := r.stamp()
	return copy(buf, b[:]), nil
}

// ReadAt ignores pos: the RTC has no addressable range, only "now".
func (r *RTC) ReadAt(buf []byte, pos int64) (int, error) { return r.Read(buf) }

func (r *RTC) Write([]byte) (int, error) {
	return 0, fmt.Errorf("devices: rtc write: %w", kerr.ErrUnsupported)
}

func (r *RTC) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("devices: rtc writeat: %w", kerr.ErrUnsupported)
}

// Cntl implements GETBLOCKSIZE: the RTC's read unit is its 8-byte
// timestamp.
func (r *RTC) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	if cmd != ioobj.GetBlockSize {
		return 0, fmt.Errorf("devices: rtc cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
	return 8, nil
}

func (r *RTC) AddRef() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

func (r *RTC) Close() error {
	r.mu.Lock()
	r.refs--
	r.mu.Unlock()
	return nil
}

// RTCDriver registers one shared RTC.
type RTCDriver struct{ Dev *RTC }

func (d *RTCDriver) Open() (ioobj.Object, error) {
	d.Dev.AddRef()
	return d.Dev, nil
}
