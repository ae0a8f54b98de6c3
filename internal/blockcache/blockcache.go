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

// Package blockcache is the kernel's fixed-associativity, write-back block
// cache sitting in front of any random-access backing I/O object — in
// practice internal/devices' simulated VirtIO-blk. The cache-wide lock is
// built on internal/thread.Lock rather than sync.Mutex so contenders
// participate in the same scheduler-visible suspend/resume protocol as
// everything else in this kernel.
package blockcache

import (
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/metrics"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// BlockSize is the cache's fixed unit of transfer.
const BlockSize = 512

// NumSlots is the fixed number of cache slots.
const NumSlots = 64

type slot struct {
	valid   bool
	blockID int64
	recency int
	data    [BlockSize]byte
}

// Cache is a fixed set of NumSlots block-sized buffers over one backing
// I/O object, serialized by a single recursive lock held from GetBlock to
// the matching ReleaseBlock.
type Cache struct {
	lock     *thread.Lock
	backing  ioobj.Object
	slots    [NumSlots]slot
	heldSlot int // index currently checked out, -1 if none
	metrics  metrics.Handle
}

// New creates a cache over backing, which must support ReadAt/WriteAt
// ("create(backing_io)").
func New(sched *thread.Scheduler, backing ioobj.Object, m metrics.Handle) *Cache {
	if m == nil {
		m = metrics.NewNoopHandle()
	}
	return &Cache{lock: thread.NewLock(sched), backing: backing, heldSlot: -1, metrics: m}
}

func (c *Cache) findByBlockID(id int64) int {
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].blockID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) findEmpty() int {
	for i := range c.slots {
		if !c.slots[i].valid {
			return i
		}
	}
	return -1
}

func (c *Cache) maxRecency() int {
	max := 0
	for i := range c.slots {
		if c.slots[i].recency > max {
			max = c.slots[i].recency
		}
	}
	return max
}

// evict picks the slot with the smallest recency counter. Called only once
// every slot is occupied.
func (c *Cache) evict() int {
	idx := 0
	for i := 1; i < NumSlots; i++ {
		if c.slots[i].recency < c.slots[idx].recency {
			idx = i
		}
	}
	c.metrics.CacheEviction()
	return idx
}

// GetBlock implements get_block: acquires the cache-wide lock (held until
// the matching ReleaseBlock) and returns the buffer for the block at pos,
// reading it from the backing store first if it was not already resident.
func (c *Cache) GetBlock(self *thread.Thread, pos int64) ([]byte, error) {
	if pos%BlockSize != 0 {
		return nil, fmt.Errorf("blockcache get_block: pos %d not block-aligned: %w", pos, kerr.ErrInvalidArgument)
	}
	blockID := pos / BlockSize

	c.lock.Acquire(self)

	idx := c.findByBlockID(blockID)
	hit := idx != -1
	if idx == -1 {
		idx = c.findEmpty()
	}
	if idx == -1 {
		idx = c.evict()
	}

	if !hit {
		if _, err := c.backing.ReadAt(c.slots[idx].data[:], blockID*BlockSize); err != nil {
			c.lock.Release(self)
			return nil, fmt.Errorf("blockcache get_block: reading block %d: %w", blockID, err)
		}
		c.slots[idx].valid = true
		c.slots[idx].blockID = blockID
		c.metrics.CacheMiss()
	} else {
		c.metrics.CacheHit()
	}

	c.heldSlot = idx
	return c.slots[idx].data[:], nil
}

// ReleaseBlock implements release_block: writes the slot back if dirty,
// updates its recency to most-recent (decrementing every other nonzero
// counter strictly below the previous most-recent), releases the cache
// lock, and clears the held-slot bookkeeping.
func (c *Cache) ReleaseBlock(self *thread.Thread, buf []byte, dirty bool) error {
	if c.heldSlot == -1 {
		return fmt.Errorf("blockcache release_block: no block currently held: %w", kerr.ErrInvalidArgument)
	}
	idx := c.heldSlot
	s := &c.slots[idx]

	if dirty {
		if _, err := c.backing.WriteAt(s.data[:], s.blockID*BlockSize); err != nil {
			// The slot is released even on a failed write-back; the data
			// stays resident for a retry, but the cache lock must not
			// stay wedged on a backing device error.
			c.heldSlot = -1
			c.lock.Release(self)
			return fmt.Errorf("blockcache release_block: writing back block %d: %w", s.blockID, err)
		}
	}

	prevMax := c.maxRecency()
	for i := range c.slots {
		if i != idx && c.slots[i].recency > 0 && c.slots[i].recency < prevMax {
			c.slots[i].recency--
		}
	}
	s.recency = prevMax + 1

	c.heldSlot = -1
	c.lock.Release(self)
	_ = buf // identity of buf is exactly c.slots[idx].data[:]; heldSlot already names idx
	return nil
}

// Flush releases the currently held block, if any: release it as dirty.
func (c *Cache) Flush(self *thread.Thread) error {
	if c.heldSlot == -1 {
		return nil
	}
	return c.ReleaseBlock(self, c.slots[c.heldSlot].data[:], true)
}
