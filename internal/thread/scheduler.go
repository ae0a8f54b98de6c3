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

package thread

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/common"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/logger"
	"github.com/rvos-dev/rvkernel/internal/metrics"
)

// Scheduler is the kernel's single-hart thread scheduler. Its mutex
// doubles as the CPU token: whichever goroutine holds it is the only one
// permitted to inspect or mutate scheduling state, and at most one Thread
// is ever runnable (outside a <-turn receive) at a time.
type Scheduler struct {
	mu      sync.Mutex
	table   [NTHR]*Thread
	ready   common.Queue[ID]
	current ID
	hasRun  bool
	metrics metrics.Handle
}

// NewScheduler creates a scheduler whose boot thread is the calling
// goroutine itself — there is nothing to spawn for thread 0, since the
// caller's own stack already is its execution context.
func NewScheduler(m metrics.Handle) *Scheduler {
	if m == nil {
		m = metrics.NewNoopHandle()
	}
	s := &Scheduler{ready: common.NewLinkedListQueue[ID](), metrics: m}
	boot := &Thread{id: BootID, name: "boot", state: Running, turn: make(chan struct{}, 1), sched: s}
	boot.exitCond = NewCondition(s)
	s.table[BootID] = boot
	s.current = BootID
	s.hasRun = true
	return s
}

// Boot returns the scheduler's thread 0, the caller of NewScheduler.
func (s *Scheduler) Boot() *Thread { return s.table[BootID] }

// Lookup returns the thread at id, or nil if the slot is unoccupied.
func (s *Scheduler) Lookup(id ID) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table[id]
}

// Current returns the thread the scheduler currently considers running.
// Only valid to call from that thread's own goroutine.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRun {
		return nil
	}
	return s.table[s.current]
}

func (s *Scheduler) freeSlotLocked() (ID, bool) {
	for i := 1; i < NTHR; i++ {
		if s.table[i] == nil {
			return ID(i), true
		}
	}
	return 0, false
}

// readyLocked moves the thread at id from Waiting to Ready and enqueues
// it. Callers must hold s.mu.
func (s *Scheduler) readyLocked(id ID) {
	t := s.table[id]
	if t == nil {
		return
	}
	t.state = Ready
	s.ready.Push(id)
}

// dispatchNextLocked hands the CPU token to the next ready thread, if any.
// Callers must hold s.mu. If the ready list is empty, no thread is
// currently runnable (every live thread is Waiting) — the scheduler simply
// has no current thread until something signals one ready; a stuck system
// at that point is a genuine deadlock, the same as on real hardware with
// every hart parked.
func (s *Scheduler) dispatchNextLocked() {
	s.reportLocked()
	if s.ready.IsEmpty() {
		s.hasRun = false
		return
	}
	id := s.ready.Pop()
	next := s.table[id]
	next.state = Running
	s.current = id
	s.hasRun = true
	select {
	case next.turn <- struct{}{}:
	default:
	}
	s.reportLocked()
}

func (s *Scheduler) reportLocked() {
	ready := s.ready.Len()
	live := 0
	for _, t := range s.table {
		if t != nil && t.state != Exited {
			live++
		}
	}
	s.metrics.SetReadyQueueDepth(int64(ready))
	s.metrics.SetRunningThreads(int64(live))
}

// Spawn implements spawn_thread: allocates a table slot for a new thread
// and starts its goroutine, blocked immediately on its turn channel until
// the scheduler's FIFO actually dispatches it. parent is the calling
// thread.
func (s *Scheduler) Spawn(parent *Thread, name string, fn func(self *Thread)) (*Thread, error) {
	s.mu.Lock()
	id, ok := s.freeSlotLocked()
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: %w", name, kerr.ErrNoThreads)
	}
	t := &Thread{
		id:     id,
		name:   name,
		state:  Ready,
		parent: parent.id,
		turn:   make(chan struct{}, 1),
		sched:  s,
	}
	t.exitCond = NewCondition(s)
	s.table[id] = t
	s.ready.Push(id)
	s.reportLocked()
	s.mu.Unlock()

	logger.Tracef("thread: spawned %q (id=%d, parent=%d)", name, id, parent.id)

	go func() {
		<-t.turn
		fn(t)
		s.Exit(t)
	}()
	return t, nil
}

// Yield implements yield_thread: self gives up the CPU voluntarily and
// rejoins the back of the ready list, resuming once the scheduler cycles
// back to it.
func (s *Scheduler) Yield(self *Thread) {
	s.mu.Lock()
	self.state = Ready
	s.ready.Push(self.id)
	s.dispatchNextLocked()
	s.mu.Unlock()

	<-self.turn

	s.mu.Lock()
	self.state = Running
	s.mu.Unlock()
}

// Suspend implements the generic suspend-on-condition protocol every
// blocking subsystem (pipes, the block cache, child-wait) builds on: self
// is parked on cond until woken, without being re-enqueued as ready
// itself.
func (s *Scheduler) Suspend(self *Thread, cond *Condition) {
	s.mu.Lock()
	cond.Wait(self)
	s.mu.Unlock()
}

// Signal wakes the oldest thread waiting on cond, if any. Exported so
// subsystems outside this package (pipes, the block cache) can signal a
// Condition they own without reaching into the scheduler's mutex
// themselves.
func (s *Scheduler) Signal(cond *Condition) {
	s.mu.Lock()
	cond.Signal()
	s.mu.Unlock()
}

// Broadcast wakes every thread waiting on cond.
func (s *Scheduler) Broadcast(cond *Condition) {
	s.mu.Lock()
	cond.Broadcast()
	s.mu.Unlock()
}

// Exit implements exit_thread: forcibly releases every lock self still
// holds (recursion depth and all), marks self Exited, wakes any Join
// waiters, and hands the CPU to the next ready thread. The thread's own
// goroutine returns immediately after this call.
func (s *Scheduler) Exit(self *Thread) {
	s.mu.Lock()
	for _, l := range self.heldLocks {
		l.held = false
		l.owner = 0
		l.depth = 0
		l.free.Signal()
	}
	self.heldLocks = nil
	self.state = Exited
	self.exitCond.Broadcast()
	s.dispatchNextLocked()
	s.mu.Unlock()

	logger.Tracef("thread: exited %q (id=%d)", self.name, self.id)
}

// Join implements join_thread: blocks self until child reaches Exited,
// then frees child's table slot, adopting any of the child's own children
// so a later Join(0)-style scan still finds them. Returns
// kerr.ErrInvalidArgument if child was not spawned by self.
func (s *Scheduler) Join(self *Thread, child *Thread) error {
	if child.parent != self.id {
		return fmt.Errorf("join thread %d from non-parent %d: %w", child.id, self.id, kerr.ErrInvalidArgument)
	}

	s.mu.Lock()
	for child.state != Exited {
		child.exitCond.Wait(self)
	}
	s.table[child.id] = nil
	for _, t := range s.table {
		if t != nil && t.parent == child.id {
			t.parent = self.id
		}
	}
	s.reportLocked()
	s.mu.Unlock()

	logger.Tracef("thread: joined %q (id=%d)", child.name, child.id)
	return nil
}
