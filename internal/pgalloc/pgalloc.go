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

// Package pgalloc is the kernel's physical-page allocator: an intrusive
// free-list of page chunks carved from a fixed physical range: exact-fit-
// then-best-fit on allocation and address-ordered insertion on free, with
// no automatic coalescing.
package pgalloc

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// PageSize is the fixed physical page size.
const PageSize = 4096

// PageNum is a physical page number: PhysAddr / PageSize.
type PageNum uint64

// chunk is a run of contiguous free pages. Chunks are kept in ascending
// address order to make future coalescing possible even though this
// allocator does not coalesce automatically.
type chunk struct {
	base  PageNum
	count uint64
	next  *chunk
}

// Allocator owns a single ordered chain of free chunks carved out of
// [base, base+totalPages).
type Allocator struct {
	mu    sync.Mutex
	head  *chunk
	total uint64
	free  uint64
}

// New creates an allocator managing totalPages pages starting at base. The
// entire range starts out as one free chunk.
func New(base PageNum, totalPages uint64) *Allocator {
	a := &Allocator{total: totalPages, free: totalPages}
	if totalPages > 0 {
		a.head = &chunk{base: base, count: totalPages}
	}
	return a
}

// FreePageCount returns the number of pages currently free. Used to check
// that balanced alloc/free sequences conserve the free-page count.
func (a *Allocator) FreePageCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free
}

// AllocPages implements alloc_pages(n): first pass returns any chunk of
// exactly n pages; second pass carves n pages off the low end of the
// smallest chunk strictly larger than n, leaving a residual chunk header
// behind. Returns kerr.ErrOutOfMemory if no chunk qualifies.
func (a *Allocator) AllocPages(n uint64) (PageNum, error) {
	if n == 0 {
		return 0, fmt.Errorf("alloc_pages: n must be positive: %w", kerr.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// First pass: exact fit.
	var prev *chunk
	for c := a.head; c != nil; prev, c = c, c.next {
		if c.count == n {
			a.unlink(prev, c)
			a.free -= n
			return c.base, nil
		}
	}

	// Second pass: smallest strictly-larger chunk, ties broken by
	// address order (the chain is already address-ordered, so the first
	// qualifying chunk found in order is the answer).
	var best *chunk
	for c := a.head; c != nil; c = c.next {
		if c.count > n && (best == nil || c.count < best.count) {
			best = c
		}
	}
	if best == nil {
		return 0, kerr.ErrOutOfMemory
	}

	allocated := best.base
	best.base += PageNum(n)
	best.count -= n
	a.free -= n
	return allocated, nil
}

// AllocPage is the n=1 specialization of AllocPages.
func (a *Allocator) AllocPage() (PageNum, error) {
	return a.AllocPages(1)
}

// FreePages implements free_pages(base, n): inserts a fresh chunk header
// at base, keeping the chain in ascending address order. No automatic
// coalescing is performed.
func (a *Allocator) FreePages(base PageNum, n uint64) error {
	if n == 0 {
		return fmt.Errorf("free_pages: n must be positive: %w", kerr.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := &chunk{base: base, count: n}

	if a.head == nil || base < a.head.base {
		fresh.next = a.head
		a.head = fresh
		a.free += n
		return nil
	}

	c := a.head
	for c.next != nil && c.next.base < base {
		c = c.next
	}
	fresh.next = c.next
	c.next = fresh
	a.free += n
	return nil
}

// FreePage is the n=1 specialization of FreePages.
func (a *Allocator) FreePage(base PageNum) error {
	return a.FreePages(base, 1)
}

func (a *Allocator) unlink(prev, c *chunk) {
	if prev == nil {
		a.head = c.next
	} else {
		prev.next = c.next
	}
}
