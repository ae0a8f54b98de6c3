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

// Package vm is the kernel's three-level Sv39-style page-table layer :
// per-mspace root tables, map/unmap/clone/reset of user regions, and the
// user page-fault handler. It is built on internal/pgalloc for backing
// physical pages.
package vm

import "github.com/rvos-dev/rvkernel/internal/pgalloc"

// Flag is a single page-table-entry permission or status bit.
type Flag uint16

const (
	FlagV Flag = 1 << iota // Valid
	FlagR                  // Readable
	FlagW                  // Writable
	FlagX                  // Executable
	FlagU                  // User-accessible
	FlagG                  // Global (kernel-shared; never copied or freed by user lifecycle ops)
	FlagA                  // Accessed
	FlagD                  // Dirty
)

// VA is a virtual address. Bits 63:38 must all equal bit 38 for a well-
// formed Sv39 address.
type VA uint64

// Levels in a three-level (Sv39-style) walk: VPN[2], VPN[1], VPN[0].
const (
	pageBits  = 12
	levelBits = 9
	numLevels = 3
)

func vpn(va VA, level int) uint64 {
	shift := uint(pageBits + levelBits*level)
	return (uint64(va) >> shift) & ((1 << levelBits) - 1)
}

// WellFormed reports whether va's bits 63:38 all equal bit 38, the Sv39
// canonical-address requirement.
func WellFormed(va VA) bool {
	top := uint64(va) >> 38
	if top == 0 {
		return true
	}
	allOnes := uint64(1)<<(64-38) - 1
	return top == allOnes
}

// PTE is a single 64-bit page-table entry: flags plus a physical page
// number. Reserved bits are not modeled since nothing in this kernel
// inspects them.
type PTE struct {
	flags Flag
	ppn   pgalloc.PageNum
}

// IsValid reports whether V is set.
func (p PTE) IsValid() bool { return p.flags&FlagV != 0 }

// IsLeaf reports whether any of R/W/X is set — a leaf maps a page,
// otherwise the entry refers to a subtable.
func (p PTE) IsLeaf() bool { return p.flags&(FlagR|FlagW|FlagX) != 0 }

// IsGlobal reports whether G is set.
func (p PTE) IsGlobal() bool { return p.flags&FlagG != 0 }

// PPN returns the physical page number this entry refers to (leaf data
// page or subtable page).
func (p PTE) PPN() pgalloc.PageNum { return p.ppn }

// Flags returns the raw flag bits.
func (p PTE) Flags() Flag { return p.flags }
