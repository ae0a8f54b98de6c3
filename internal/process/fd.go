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

package process

import (
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/pipe"
)

// resolveSlot implements the fd convention of the syscall layer: a
// negative requested fd means "find a free slot" (scanning 0..IOMax in
// order, lowest empty cell wins); a non-negative fd must already be in
// range.
func (p *Process) resolveSlot(requested int64) (int, error) {
	if requested < 0 {
		for i := 0; i < IOMax; i++ {
			if p.iotab[i] == nil {
				return i, nil
			}
		}
		return 0, fmt.Errorf("process: %w", kerr.ErrTooManyOpen)
	}
	if requested >= IOMax {
		return 0, fmt.Errorf("process: fd %d out of range: %w", requested, kerr.ErrBadFD)
	}
	return int(requested), nil
}

func (p *Process) validFD(fd int) error {
	if fd < 0 || fd >= IOMax {
		return fmt.Errorf("process: fd %d out of range: %w", fd, kerr.ErrBadFD)
	}
	if p.iotab[fd] == nil {
		return fmt.Errorf("process: fd %d not open: %w", fd, kerr.ErrBadFD)
	}
	return nil
}

// DevOpen implements the devopen syscall: resolves name#instance through
// the device manager and installs the resulting object at fd (or the first
// free slot if fd<0).
func (t *Table) DevOpen(proc *Process, fd int64, name string, instance int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, err := proc.resolveSlot(fd)
	if err != nil {
		return 0, err
	}
	obj, err := t.devices.Open(name, instance)
	if err != nil {
		return 0, err
	}
	proc.iotab[slot] = obj
	return slot, nil
}

// FSOpen implements the fsopen syscall.
func (t *Table) FSOpen(proc *Process, fd int64, name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, err := proc.resolveSlot(fd)
	if err != nil {
		return 0, err
	}
	obj, err := t.fs.Open(name)
	if err != nil {
		return 0, err
	}
	proc.iotab[slot] = obj
	return slot, nil
}

// FSCreate implements the fscreate syscall.
func (t *Table) FSCreate(name string) error { return t.fs.Create(name) }

// FSDelete implements the fsdelete syscall.
func (t *Table) FSDelete(name string) error { return t.fs.Delete(name) }

// Close implements the close syscall.
func (t *Table) Close(proc *Process, fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := proc.validFD(fd); err != nil {
		return err
	}
	obj := proc.iotab[fd]
	proc.iotab[fd] = nil
	return obj.Close()
}

// Read implements the read syscall.
func (t *Table) Read(proc *Process, fd int, buf []byte) (int, error) {
	t.mu.Lock()
	if err := proc.validFD(fd); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	obj := proc.iotab[fd]
	t.mu.Unlock()

	n, err := obj.Read(buf)
	if n > len(buf) {
		return 0, fmt.Errorf("process: read returned more than requested: %w", kerr.ErrIO)
	}
	return n, err
}

// Write implements the write syscall.
func (t *Table) Write(proc *Process, fd int, buf []byte) (int, error) {
	t.mu.Lock()
	if err := proc.validFD(fd); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	obj := proc.iotab[fd]
	t.mu.Unlock()

	n, err := obj.Write(buf)
	if n > len(buf) {
		return 0, fmt.Errorf("process: write accepted more than requested: %w", kerr.ErrIO)
	}
	return n, err
}

// Ioctl implements the ioctl syscall: a plain delegate to the fd's Cntl
// method.
func (t *Table) Ioctl(proc *Process, fd int, cmd ioobj.Cmd, arg int64) (int64, error) {
	t.mu.Lock()
	if err := proc.validFD(fd); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	obj := proc.iotab[fd]
	t.mu.Unlock()

	return obj.Cntl(cmd, arg)
}

// IODup implements the iodup syscall: adds a reference to oldfd's object
// and installs it at newfd (or a free slot if newfd<0).
func (t *Table) IODup(proc *Process, oldfd int, newfd int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := proc.validFD(oldfd); err != nil {
		return 0, err
	}
	slot, err := proc.resolveSlot(newfd)
	if err != nil {
		return 0, err
	}
	obj := proc.iotab[oldfd]
	obj.AddRef()
	proc.iotab[slot] = obj
	return slot, nil
}

// Pipe implements the pipe syscall: creates a connected pipe and installs
// its writer/reader endpoints into two free slots.
func (t *Table) Pipe(proc *Process) (wfd, rfd int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rd, wr := pipe.New(t.sched)

	wslot, err := proc.resolveSlot(-1)
	if err != nil {
		return 0, 0, err
	}
	proc.iotab[wslot] = wr

	rslot, err := proc.resolveSlot(-1)
	if err != nil {
		proc.iotab[wslot] = nil
		return 0, 0, err
	}
	proc.iotab[rslot] = rd

	return wslot, rslot, nil
}
