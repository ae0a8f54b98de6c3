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

import "fmt"

// Lock is a recursive mutex scoped to a thread, not a goroutine : the same
// Thread may Acquire it repeatedly without blocking itself, and must
// Release it the same number of times.
type Lock struct {
	sched *Scheduler
	free  *Condition
	owner ID
	held  bool
	depth int
}

// NewLock creates an unheld lock associated with s.
func NewLock(s *Scheduler) *Lock {
	return &Lock{sched: s, free: NewCondition(s)}
}

// Acquire blocks self until the lock is free, or returns immediately if
// self already holds it (incrementing the recursion depth).
func (l *Lock) Acquire(self *Thread) {
	l.sched.mu.Lock()
	defer l.sched.mu.Unlock()

	if l.held && l.owner == self.id {
		l.depth++
		return
	}
	for l.held {
		l.free.Wait(self)
	}
	l.held = true
	l.owner = self.id
	l.depth = 1
	self.addHeldLock(l)
}

// Release decrements the recursion depth, waking one waiter once it
// reaches zero. Panics if self does not currently hold the lock — a
// programming error in the caller, not a recoverable kernel condition.
func (l *Lock) Release(self *Thread) {
	l.sched.mu.Lock()
	defer l.sched.mu.Unlock()

	if !l.held || l.owner != self.id {
		panic(fmt.Sprintf("thread: Release of lock not held by %s", self.name))
	}
	l.depth--
	if l.depth == 0 {
		l.held = false
		self.removeHeldLock(l)
		l.free.Signal()
	}
}

// HeldBy reports whether self currently holds the lock, at any recursion
// depth.
func (l *Lock) HeldBy(self *Thread) bool {
	l.sched.mu.Lock()
	defer l.sched.mu.Unlock()
	return l.held && l.owner == self.id
}
