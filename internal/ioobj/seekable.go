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

// Seekable wraps any Object that supports ReadAt/WriteAt/Cntl with a
// current byte position, turning positional Read/Write into the equivalent
// ReadAt/WriteAt call. KTFS files and VirtIO-blk device handles are both
// exposed to callers wrapped in a Seekable over their own random-access
// Object.
type Seekable struct {
	mu      sync.Mutex
	backing Object
	pos     int64
}

// NewSeekable wraps backing with a position starting at 0.
func NewSeekable(backing Object) *Seekable {
	return &Seekable{backing: backing}
}

func (s *Seekable) blockSize() (int64, error) {
	bs, err := s.backing.Cntl(GetBlockSize, 0)
	if err != nil {
		return 0, err
	}
	if bs <= 0 {
		bs = 1
	}
	return bs, nil
}

// Read implements read() as readat(pos) followed by pos += n.
func (s *Seekable) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.backing.ReadAt(buf, s.pos)
	s.pos += int64(n)
	return n, err
}

// Write extends the backing object via SetEnd before writing past its
// current end, then writes and advances the position.
func (s *Seekable) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end, err := s.backing.Cntl(GetEnd, 0)
	if err != nil {
		return 0, err
	}
	if want := s.pos + int64(len(buf)); want > end {
		if _, err := s.backing.Cntl(SetEnd, want); err != nil {
			return 0, err
		}
	}

	written := 0
	for written < len(buf) {
		n, err := s.backing.WriteAt(buf[written:], s.pos)
		written += n
		s.pos += int64(n)
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
	}
	return written, nil
}

func (s *Seekable) ReadAt(buf []byte, pos int64) (int, error)  { return s.backing.ReadAt(buf, pos) }
func (s *Seekable) WriteAt(buf []byte, pos int64) (int, error) { return s.backing.WriteAt(buf, pos) }

// Cntl handles GetPos/SetPos itself (the position this wrapper adds) and
// forwards everything else to the backing object. SETPOS past the backing
// object's current end is rejected, and positions must be multiples of the
// backing block size.
func (s *Seekable) Cntl(cmd Cmd, arg int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case GetPos:
		return s.pos, nil
	case SetPos:
		bs, err := s.blockSize()
		if err != nil {
			return 0, err
		}
		if arg < 0 || arg%bs != 0 {
			return 0, fmt.Errorf("seekable setpos %d: not a multiple of block size %d: %w", arg, bs, kerr.ErrInvalidArgument)
		}
		end, err := s.backing.Cntl(GetEnd, 0)
		if err != nil {
			return 0, err
		}
		if arg > end {
			return 0, fmt.Errorf("seekable setpos %d past end %d: %w", arg, end, kerr.ErrInvalidArgument)
		}
		s.pos = arg
		return arg, nil
	default:
		return s.backing.Cntl(cmd, arg)
	}
}

func (s *Seekable) AddRef() { s.backing.AddRef() }
func (s *Seekable) Close() error { return s.backing.Close() }
