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

package thread_test

import (
	"errors"
	"testing"

	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerBootThreadIsRunning(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	assert.Equal(t, thread.BootID, boot.ID())
	assert.Equal(t, thread.Running, boot.State())
	assert.Equal(t, boot, sched.Current())
}

func TestSpawnAndJoinRunsChildToCompletion(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()

	var ran bool
	child, err := sched.Spawn(boot, "child", func(self *thread.Thread) {
		ran = true
		assert.Equal(t, "child", self.Name())
	})
	require.NoError(t, err)

	require.NoError(t, sched.Join(boot, child))
	assert.True(t, ran)
	assert.Equal(t, thread.Running, boot.State())
}

func TestYieldGivesOtherReadyThreadATurn(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()

	var order []string
	_, err := sched.Spawn(boot, "worker", func(self *thread.Thread) {
		order = append(order, "worker")
	})
	require.NoError(t, err)

	sched.Yield(boot)
	order = append(order, "boot")

	assert.Equal(t, []string{"worker", "boot"}, order)
}

func TestLockIsRecursiveAndSerializesContenders(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	lock := thread.NewLock(sched)

	lock.Acquire(boot)
	lock.Acquire(boot) // recursive: must not block self
	assert.True(t, lock.HeldBy(boot))

	var order []string
	child, err := sched.Spawn(boot, "worker", func(self *thread.Thread) {
		order = append(order, "before")
		lock.Acquire(self)
		order = append(order, "after")
		lock.Release(self)
	})
	require.NoError(t, err)

	sched.Yield(boot) // let the child run up to blocking on Acquire
	assert.Equal(t, []string{"before"}, order)

	lock.Release(boot) // one of the two recursive acquisitions
	assert.True(t, lock.HeldBy(boot), "still held: recursion depth was 2")
	lock.Release(boot) // now fully released, wakes the waiter

	require.NoError(t, sched.Join(boot, child))
	assert.Equal(t, []string{"before", "after"}, order)
	assert.False(t, lock.HeldBy(boot))
}

func TestConditionWakesWaitersInFIFOOrder(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	cond := thread.NewCondition(sched)

	var order []string
	w1, err := sched.Spawn(boot, "w1", func(self *thread.Thread) {
		order = append(order, "w1-waiting")
		sched.Suspend(self, cond)
		order = append(order, "w1-resumed")
	})
	require.NoError(t, err)
	w2, err := sched.Spawn(boot, "w2", func(self *thread.Thread) {
		order = append(order, "w2-waiting")
		sched.Suspend(self, cond)
		order = append(order, "w2-resumed")
	})
	require.NoError(t, err)

	sched.Yield(boot) // both workers run up to Suspend, in spawn order
	assert.Equal(t, []string{"w1-waiting", "w2-waiting"}, order)

	sched.Signal(cond)
	sched.Yield(boot)
	assert.Equal(t, []string{"w1-waiting", "w2-waiting", "w1-resumed"}, order)

	sched.Signal(cond)
	sched.Yield(boot)
	assert.Equal(t, []string{"w1-waiting", "w2-waiting", "w1-resumed", "w2-resumed"}, order)

	require.NoError(t, sched.Join(boot, w1))
	require.NoError(t, sched.Join(boot, w2))
}

func TestJoinRejectsNonParent(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()

	child, err := sched.Spawn(boot, "child", func(self *thread.Thread) {})
	require.NoError(t, err)
	other, err := sched.Spawn(boot, "other", func(self *thread.Thread) {})
	require.NoError(t, err)

	err = sched.Join(other, child)
	assert.True(t, errors.Is(err, kerr.ErrInvalidArgument))

	// Clean up: boot is the real parent of both.
	require.NoError(t, sched.Join(boot, child))
	require.NoError(t, sched.Join(boot, other))
}

func TestSpawnReturnsErrNoThreadsWhenTableFull(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()

	for i := 0; i < thread.NTHR-1; i++ {
		_, err := sched.Spawn(boot, "filler", func(self *thread.Thread) {})
		require.NoError(t, err)
	}

	_, err := sched.Spawn(boot, "overflow", func(self *thread.Thread) {})
	assert.True(t, errors.Is(err, kerr.ErrNoThreads))
}

func TestExitForciblyReleasesHeldLocks(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	lock := thread.NewLock(sched)

	child, err := sched.Spawn(boot, "hoarder", func(self *thread.Thread) {
		lock.Acquire(self)
		lock.Acquire(self) // exits at depth 2 without releasing
	})
	require.NoError(t, err)

	require.NoError(t, sched.Join(boot, child))

	lock.Acquire(boot) // must not deadlock on the dead owner
	assert.True(t, lock.HeldBy(boot))
	lock.Release(boot)
}
