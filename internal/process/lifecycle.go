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
	"encoding/binary"
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/logger"
	"github.com/rvos-dev/rvkernel/internal/pgalloc"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/rvos-dev/rvkernel/internal/vm"
)

// Exec implements the exec operation: resets the active address space,
// maps a fresh single-page user stack at the top of user memory, lays out
// {argv_pointers, strings} in it, loads the ELF image, and fills tf with
// the entry state the (out-of-scope) trap-exit layer resumes into.
func (t *Table) Exec(proc *Process, exe ioobj.Object, argv []string, tf *TrapFrame) error {
	if err := proc.mspace.Reset(); err != nil {
		return fmt.Errorf("exec: resetting address space: %w", err)
	}

	stackVA := vm.UmemEndVMA - vm.VA(pgalloc.PageSize)
	if err := proc.mspace.AllocAndMapRange(stackVA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU); err != nil {
		return fmt.Errorf("exec: mapping user stack: %w", err)
	}

	sp, err := layoutArgv(proc.mspace, stackVA, argv)
	if err != nil {
		return fmt.Errorf("exec: laying out argv: %w", err)
	}

	entry, err := LoadELF(proc.mspace, exe)
	if err != nil {
		return fmt.Errorf("exec: loading elf: %w", err)
	}

	tf.Epc = uint64(entry)
	tf.Sp = uint64(sp)
	tf.Status = statusPrevUser | statusPrevIE
	tf.A[0] = uint64(len(argv))
	tf.A[1] = uint64(sp)
	return nil
}

// layoutArgv builds the {argv_pointers, strings} stack layout in the
// single stack page: the strings and the argv pointer array are packed
// downward from the top of the page, and the first two words of the page
// itself hold argc and the address of the argv pointer array, so user
// code sees `*(uintptr_t*)sp == argc`.
func layoutArgv(mspace *vm.MSpace, stackVA vm.VA, argv []string) (vm.VA, error) {
	page := mspace.DataAt(stackVA)
	if page == nil {
		return 0, fmt.Errorf("exec: stack page not mapped: %w", kerr.ErrInvalidArgument)
	}

	cursor := len(page)
	ptrs := make([]vm.VA, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i] + "\x00"
		cursor -= len(s)
		copy(page[cursor:], s)
		ptrs[i] = stackVA + vm.VA(cursor)
	}

	cursor &^= 7 // 8-byte-align the pointer array
	cursor -= len(argv) * 8
	argvArrayVA := stackVA + vm.VA(cursor)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(page[cursor+i*8:cursor+(i+1)*8], uint64(p))
	}

	binary.LittleEndian.PutUint64(page[0:8], uint64(len(argv)))
	binary.LittleEndian.PutUint64(page[8:16], uint64(argvArrayVA))

	return stackVA, nil
}

// Fork implements the fork operation: finds a free process slot,
// duplicates the I/O table under the parent's exclusive access, clones the
// active address space, and spawns a new thread associated with the child
// process. onChildResume stands in for "jumps to user mode through the
// trap layer" (out of scope): it receives the child's thread and its trap
// frame (a0 already zeroed) and is responsible for whatever "resume user
// execution" means for the caller — a test fixture, or eventually a real
// trap-exit.
func (t *Table) Fork(parent *Process, tf *TrapFrame, onChildResume func(child *Thread, childTF *TrapFrame)) (thread.ID, error) {
	t.mu.Lock()
	slot, ok := t.freeSlotLocked()
	if !ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("fork: %w", kerr.ErrNoThreads)
	}
	child := &Process{id: slot}
	for i, obj := range parent.iotab {
		if obj != nil {
			obj.AddRef()
			child.iotab[i] = obj
		}
	}
	t.procs[slot] = child
	t.mu.Unlock()

	mspace, err := parent.mspace.Clone()
	if err != nil {
		t.mu.Lock()
		t.procs[slot] = nil
		t.mu.Unlock()
		return 0, fmt.Errorf("fork: cloning address space: %w", err)
	}
	child.mspace = mspace

	childTF := *tf
	childTF.A[0] = 0

	childThread, err := t.sched.Spawn(parent.thread, fmt.Sprintf("proc%d", slot), func(ct *thread.Thread) {
		if onChildResume != nil {
			onChildResume(ct, &childTF)
		}
	})
	if err != nil {
		t.mu.Lock()
		t.procs[slot] = nil
		t.mu.Unlock()
		return 0, err
	}
	child.thread = childThread
	childThread.SetProcess(child)

	t.mu.Lock()
	parent.children = append(parent.children, childThread.ID())
	t.mu.Unlock()

	return childThread.ID(), nil
}

// Thread is an alias so lifecycle.go's public signatures read in terms of
// this package without forcing every caller to also import
// internal/thread.
type Thread = thread.Thread

// Exit tears the process down: flushes the filesystem, discards the
// address space, closes every I/O table cell, clears the process slot, and
// terminates the calling thread. Panics if called on the main process —
// "impossible device/kernel states halt the kernel" applies, since a well-
// formed boot sequence never exits process 0.
func (t *Table) Exit(self *thread.Thread, proc *Process) {
	if proc.id == 0 {
		panic("process: exit called on main process")
	}

	if err := t.fs.Flush(); err != nil {
		logger.Warnf("process: exit: flushing filesystem: %v", err)
	}
	if err := proc.mspace.Discard(); err != nil {
		logger.Warnf("process: exit: discarding address space: %v", err)
	}
	for i, obj := range proc.iotab {
		if obj != nil {
			if err := obj.Close(); err != nil {
				logger.Warnf("process: exit: closing fd %d: %v", i, err)
			}
			proc.iotab[i] = nil
		}
	}

	t.mu.Lock()
	t.procs[proc.id] = nil
	t.mu.Unlock()

	t.sched.Exit(self)
}

// Wait implements the wait operation: tid>0 joins that specific child;
// tid<=0 joins any child, preferring one that has already exited (join(0)
// semantics).
func (t *Table) Wait(self *thread.Thread, proc *Process, tid int64) (int64, error) {
	if tid > 0 {
		child := t.sched.Lookup(thread.ID(tid))
		if child == nil || child.Parent() != self.ID() {
			return 0, fmt.Errorf("wait %d: %w", tid, kerr.ErrInvalidArgument)
		}
		if err := t.sched.Join(self, child); err != nil {
			return 0, err
		}
		t.removeChild(proc, child.ID())
		return tid, nil
	}

	t.mu.Lock()
	children := append([]thread.ID(nil), proc.children...)
	t.mu.Unlock()
	if len(children) == 0 {
		return 0, fmt.Errorf("wait: %w", kerr.ErrInvalidArgument)
	}

	target := children[0]
	for _, c := range children {
		if th := t.sched.Lookup(c); th != nil && th.State() == thread.Exited {
			target = c
			break
		}
	}
	child := t.sched.Lookup(target)
	if child == nil {
		return 0, fmt.Errorf("wait: %w", kerr.ErrInvalidArgument)
	}
	if err := t.sched.Join(self, child); err != nil {
		return 0, err
	}
	t.removeChild(proc, target)
	return int64(target), nil
}

func (t *Table) removeChild(proc *Process, id thread.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range proc.children {
		if c == id {
			proc.children = append(proc.children[:i], proc.children[i+1:]...)
			return
		}
	}
}
