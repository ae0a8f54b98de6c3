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

// Package process is the kernel's process table, ELF loader, trap frame,
// and syscall dispatcher. Grounded on fs/fs.go's fileSystem struct: a
// fixed table of handles guarded by one lock, with a dispatch method per
// filesystem op — reread here as "process table + per-process I/O
// descriptor table, dispatch methods per syscall number".
package process

import (
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/metrics"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/rvos-dev/rvkernel/internal/vm"
)

// IOMax is PROCESS_IOMAX, the fixed length of a process's I/O descriptor
// table.
const IOMax = 16

// FileSystem is the subset of internal/ktfs.FS the syscall layer needs.
// Kept as an interface so this package does not import ktfs directly;
// internal/kernel wires the concrete *ktfs.FS in.
type FileSystem interface {
	Open(name string) (ioobj.Object, error)
	Create(name string) error
	Delete(name string) error
	Flush() error
}

// DeviceManager is the subset of internal/devices.Manager the syscall
// layer needs.
type DeviceManager interface {
	Open(name string, instance int) (ioobj.Object, error)
}

// Process is the kernel's per-process record: a table index, the thread
// running it, its address space, and its fixed I/O descriptor table.
type Process struct {
	id       int
	thread   *thread.Thread
	mspace   *vm.MSpace
	iotab    [IOMax]ioobj.Object
	children []thread.ID
}

// ID returns the process's table index.
func (p *Process) ID() int { return p.id }

// Thread returns the thread currently running this process.
func (p *Process) Thread() *thread.Thread { return p.thread }

// MSpace returns the process's address space.
func (p *Process) MSpace() *vm.MSpace { return p.mspace }

// Table is the kernel's process table (proctab[NPROC]): index 0 is always
// the main process, the boot thread.
type Table struct {
	mu      sync.Mutex
	sched   *thread.Scheduler
	mainMS  *vm.MSpace
	fs      FileSystem
	devices DeviceManager
	procs   []*Process
	metrics metrics.Handle
}

// NewTable creates a process table of the given size over sched, fs and
// devices. numProcs is NPROC, typically cfg.Config.NumProcs.
func NewTable(sched *thread.Scheduler, mainMS *vm.MSpace, fs FileSystem, devices DeviceManager, numProcs int, m metrics.Handle) *Table {
	if m == nil {
		m = metrics.NewNoopHandle()
	}
	return &Table{
		sched:   sched,
		mainMS:  mainMS,
		fs:      fs,
		devices: devices,
		procs:   make([]*Process, numProcs),
		metrics: m,
	}
}

// Bootstrap installs the scheduler's boot thread as process 0, the main
// process every other process descends from. Called exactly once during
// kernel boot.
func (t *Table) Bootstrap() *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	boot := t.sched.Boot()
	p := &Process{id: 0, thread: boot, mspace: t.mainMS}
	t.procs[0] = p
	boot.SetProcess(p)
	return p
}

// Lookup returns the process at process-table index id, or nil if id is
// out of range or the slot is empty.
func (t *Table) Lookup(id int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.procs) {
		return nil
	}
	return t.procs[id]
}

func (t *Table) freeSlotLocked() (int, bool) {
	for i, p := range t.procs {
		if p == nil {
			return i, true
		}
	}
	return 0, false
}
