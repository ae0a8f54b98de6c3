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

package vm

import (
	"sync"

	"github.com/rvos-dev/rvkernel/internal/pgalloc"
)

// numPTEs is the number of entries in one page-table page (512 for Sv39's
// 9 VPN bits).
const numPTEs = 1 << levelBits

// table is the in-memory content of one page-table page.
type table [numPTEs]PTE

// dataPage is the in-memory content of one leaf data page.
type dataPage [pgalloc.PageSize]byte

// Memory is the kernel's model of physical RAM: a page allocator plus the
// byte-addressable content of whichever pages are currently allocated as
// page tables or user/kernel data. Wrapping raw pointer arithmetic this
// way lets clone/reset copy page content with a plain Go slice copy
// instead of unsafe physical-address math.
type Memory struct {
	mu     sync.Mutex
	alloc  *pgalloc.Allocator
	tables map[pgalloc.PageNum]*table
	data   map[pgalloc.PageNum]*dataPage
}

// NewMemory creates a physical memory simulation backed by an allocator
// covering [base, base+totalPages).
func NewMemory(base pgalloc.PageNum, totalPages uint64) *Memory {
	return &Memory{
		alloc:  pgalloc.New(base, totalPages),
		tables: make(map[pgalloc.PageNum]*table),
		data:   make(map[pgalloc.PageNum]*dataPage),
	}
}

// FreePageCount returns the number of free physical pages.
func (m *Memory) FreePageCount() uint64 { return m.alloc.FreePageCount() }

func (m *Memory) allocTablePage() (pgalloc.PageNum, error) {
	pn, err := m.alloc.AllocPage()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.tables[pn] = &table{}
	m.mu.Unlock()
	return pn, nil
}

func (m *Memory) allocDataPage() (pgalloc.PageNum, error) {
	pn, err := m.alloc.AllocPage()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.data[pn] = &dataPage{}
	m.mu.Unlock()
	return pn, nil
}

func (m *Memory) freePage(pn pgalloc.PageNum) error {
	m.mu.Lock()
	delete(m.tables, pn)
	delete(m.data, pn)
	m.mu.Unlock()
	return m.alloc.FreePage(pn)
}

func (m *Memory) tableAt(pn pgalloc.PageNum) *table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[pn]
}

// DataAt returns the backing bytes for the data page at pn. Exposed so
// callers above vm (ELF loading, user stack setup) can read/write user
// memory without their own address-translation logic.
func (m *Memory) DataAt(pn pgalloc.PageNum) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.data[pn]
	if d == nil {
		return nil
	}
	return d[:]
}
