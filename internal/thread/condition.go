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

import "github.com/rvos-dev/rvkernel/common"

// Condition is a FIFO wait queue ("Condition"): threads suspend on it and
// are woken, in arrival order, by Signal or Broadcast. Every method
// requires the owning Scheduler's mu to already be held by the caller, and
// Wait returns with mu held again — the same contract as sync.Cond, so a
// signal that lands between a waiter checking its predicate and calling
// Wait can never be lost.
type Condition struct {
	sched   *Scheduler
	waiters common.Queue[ID]
}

// NewCondition creates a condition variable associated with s. Callers
// typically embed one per waitable resource: a pipe's "has data"
// condition, a lock's "became free" condition, a child-process's exit
// condition.
func NewCondition(s *Scheduler) *Condition {
	return &Condition{sched: s, waiters: common.NewLinkedListQueue[ID]()}
}

// Wait suspends self until a Signal or Broadcast wakes it. Must be called
// with c.sched.mu held; returns with it held again.
func (c *Condition) Wait(self *Thread) {
	self.state = Waiting
	c.waiters.Push(self.id)
	c.sched.dispatchNextLocked()
	c.sched.mu.Unlock()
	<-self.turn
	c.sched.mu.Lock()
	self.state = Running
}

// Signal wakes the longest-waiting thread, if any, moving it from Waiting
// to Ready. Must be called with c.sched.mu held.
func (c *Condition) Signal() {
	if c.waiters.IsEmpty() {
		return
	}
	id := c.waiters.Pop()
	c.sched.readyLocked(id)
}

// Broadcast wakes every waiting thread. Must be called with c.sched.mu
// held.
func (c *Condition) Broadcast() {
	for !c.waiters.IsEmpty() {
		id := c.waiters.Pop()
		c.sched.readyLocked(id)
	}
}

// HasWaiters reports whether any thread is currently suspended on c. Must
// be called with c.sched.mu held.
func (c *Condition) HasWaiters() bool {
	return !c.waiters.IsEmpty()
}
