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
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/pgalloc"
)

// User memory bounds. UMEM_END_VMA is exclusive.
const (
	UmemStartVMA VA = 1 << 30
	UmemEndVMA   VA = 1 << 37
)

// MSpace is an address-space tag: the paging mode is fixed (Sv39-style,
// three levels) so the tag reduces to a root page-table physical page
// number plus an ASID used only to distinguish instances.
type MSpace struct {
	mem  *Memory
	root pgalloc.PageNum
	asid uint64
}

var nextASID uint64 = 1

// NewMSpace allocates a fresh, empty root table. It is used both for the
// one distinguished "main" mspace created at boot and, indirectly via
// Clone, for every user mspace.
func NewMSpace(mem *Memory) (*MSpace, error) {
	root, err := mem.allocTablePage()
	if err != nil {
		return nil, fmt.Errorf("new mspace: %w", err)
	}
	asid := nextASID
	nextASID++
	return &MSpace{mem: mem, root: root, asid: asid}, nil
}

// ASID returns the address-space identifier distinguishing this mspace.
func (m *MSpace) ASID() uint64 { return m.asid }

// walk returns the table holding the final-level slot for va, allocating
// intermediate subtables (with the G flag inherited from parentGlobal) as
// it goes if alloc is true. idx is the index of va's slot in that table.
func (m *MSpace) walk(va VA, alloc bool, parentGlobal bool) (*table, int, error) {
	cur := m.mem.tableAt(m.root)
	if cur == nil {
		return nil, 0, fmt.Errorf("mspace: missing root table")
	}
	for level := numLevels - 1; level > 0; level-- {
		idx := int(vpn(va, level))
		pte := cur[idx]
		if !pte.IsValid() {
			if !alloc {
				return nil, 0, nil
			}
			child, err := m.mem.allocTablePage()
			if err != nil {
				return nil, 0, err
			}
			flags := FlagV
			if parentGlobal {
				flags |= FlagG
			}
			cur[idx] = PTE{flags: flags, ppn: child}
			cur = m.mem.tableAt(child)
			continue
		}
		if pte.IsLeaf() {
			return nil, 0, fmt.Errorf("mspace: %w: intermediate level already a leaf", kerr.ErrInvalidArgument)
		}
		cur = m.mem.tableAt(pte.PPN())
	}
	return cur, int(vpn(va, 0)), nil
}

// MapPage implements map_page: walks the root table, allocating absent
// intermediate subtables, and writes a leaf PTE with flags ∪ {V,A,D}. A
// no-op if a valid leaf already exists. Returns kerr.ErrInvalidArgument
// for a malformed va.
func (m *MSpace) MapPage(va VA, ppn pgalloc.PageNum, flags Flag) (VA, error) {
	if !WellFormed(va) {
		return 0, fmt.Errorf("map_page %#x: %w", va, kerr.ErrInvalidArgument)
	}
	tbl, idx, err := m.walk(va, true, flags&FlagG != 0)
	if err != nil {
		return 0, err
	}
	if tbl[idx].IsValid() && tbl[idx].IsLeaf() {
		return va, nil
	}
	tbl[idx] = PTE{flags: flags | FlagV | FlagA | FlagD, ppn: ppn}
	return va, nil
}

func pageCount(size uint64) uint64 {
	return (size + pgalloc.PageSize - 1) / pgalloc.PageSize
}

// MapRange implements map_range: maps ⌈size/PAGE⌉ consecutive virtual
// pages to consecutive physical pages starting at phys.
func (m *MSpace) MapRange(va VA, size uint64, phys pgalloc.PageNum, flags Flag) error {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		if _, err := m.MapPage(va+VA(i*pgalloc.PageSize), phys+pgalloc.PageNum(i), flags); err != nil {
			return err
		}
	}
	return nil
}

// AllocAndMapRange implements alloc_and_map_range: each physical page is
// allocated independently (need not be contiguous) and mapped to the
// contiguous virtual range.
func (m *MSpace) AllocAndMapRange(va VA, size uint64, flags Flag) error {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		pn, err := m.mem.allocDataPage()
		if err != nil {
			return err
		}
		if _, err := m.MapPage(va+VA(i*pgalloc.PageSize), pn, flags); err != nil {
			return err
		}
	}
	return nil
}

// SetRangeFlags implements set_range_flags: rewrites leaf PTE flag bits
// (preserving V/A/D) over a contiguous virtual range; unmapped pages are
// silently skipped.
func (m *MSpace) SetRangeFlags(va VA, size uint64, flags Flag) error {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		cva := va + VA(i*pgalloc.PageSize)
		tbl, idx, err := m.walk(cva, false, false)
		if err != nil {
			return err
		}
		if tbl == nil || !tbl[idx].IsValid() || !tbl[idx].IsLeaf() {
			continue
		}
		preserved := tbl[idx].flags & (FlagV | FlagA | FlagD)
		tbl[idx] = PTE{flags: flags | preserved, ppn: tbl[idx].ppn}
	}
	return nil
}

// UnmapAndFreeRange implements unmap_and_free_range: for each virtual
// page, clears the leaf PTE, frees the backing physical page, and frees
// the parent subtable (recursively up to level 2) if it becomes empty.
func (m *MSpace) UnmapAndFreeRange(va VA, size uint64) error {
	n := pageCount(size)
	for i := uint64(0); i < n; i++ {
		if err := m.unmapAndFreeOne(va + VA(i*pgalloc.PageSize)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MSpace) unmapAndFreeOne(va VA) error {
	// Walk while remembering the chain of (table, index) pairs so an
	// emptied subtable can be freed and its parent PTE cleared.
	type frame struct {
		tbl *table
		idx int
	}
	var chain []frame
	cur := m.mem.tableAt(m.root)
	for level := numLevels - 1; level > 0; level-- {
		idx := int(vpn(va, level))
		pte := cur[idx]
		if !pte.IsValid() || pte.IsLeaf() {
			return nil // unmapped; nothing to do
		}
		chain = append(chain, frame{cur, idx})
		cur = m.mem.tableAt(pte.PPN())
	}
	leafIdx := int(vpn(va, 0))
	leaf := cur[leafIdx]
	if !leaf.IsValid() {
		return nil
	}
	if !leaf.IsGlobal() {
		if err := m.mem.freePage(leaf.PPN()); err != nil {
			return err
		}
	}
	cur[leafIdx] = PTE{}

	// Walk the chain back up, freeing any subtable that is now empty.
	emptied := cur
	for i := len(chain) - 1; i >= 0; i-- {
		if !tableEmpty(emptied) {
			break
		}
		f := chain[i]
		childPN := f.tbl[f.idx].PPN()
		if err := m.mem.freePage(childPN); err != nil {
			return err
		}
		f.tbl[f.idx] = PTE{}
		emptied = f.tbl
	}
	return nil
}

func tableEmpty(t *table) bool {
	for _, pte := range t {
		if pte.IsValid() {
			return false
		}
	}
	return true
}

// Clone implements clone_active_mspace: deep-copies m into a
// new address space. Non-global leaf pages are duplicated byte-for-byte;
// global entries (kernel-shared) are shared by copying the PTE unchanged.
func (m *MSpace) Clone() (*MSpace, error) {
	dst, err := NewMSpace(m.mem)
	if err != nil {
		return nil, err
	}
	srcRoot := m.mem.tableAt(m.root)
	dstRoot := m.mem.tableAt(dst.root)
	if err := m.cloneTable(srcRoot, dstRoot, numLevels-1); err != nil {
		return nil, err
	}
	return dst, nil
}

func (m *MSpace) cloneTable(src, dst *table, level int) error {
	for i, pte := range src {
		if !pte.IsValid() {
			continue
		}
		if pte.IsGlobal() {
			dst[i] = pte
			continue
		}
		if level == 0 || pte.IsLeaf() {
			newPN, err := m.mem.allocDataPage()
			if err != nil {
				return err
			}
			copy(m.mem.DataAt(newPN), m.mem.DataAt(pte.PPN()))
			dst[i] = PTE{flags: pte.flags, ppn: newPN}
			continue
		}
		childPN, err := m.mem.allocTablePage()
		if err != nil {
			return err
		}
		dst[i] = PTE{flags: pte.flags, ppn: childPN}
		if err := m.cloneTable(m.mem.tableAt(pte.PPN()), m.mem.tableAt(childPN), level-1); err != nil {
			return err
		}
	}
	return nil
}

// Reset implements reset_active_mspace: frees every non-global mapping
// (leaf pages and emptied subtables), preserving global mappings.
func (m *MSpace) Reset() error {
	root := m.mem.tableAt(m.root)
	return m.resetTable(root, numLevels-1)
}

func (m *MSpace) resetTable(t *table, level int) error {
	for i, pte := range t {
		if !pte.IsValid() || pte.IsGlobal() {
			continue
		}
		if level > 0 && !pte.IsLeaf() {
			if err := m.resetTable(m.mem.tableAt(pte.PPN()), level-1); err != nil {
				return err
			}
		}
		if err := m.mem.freePage(pte.PPN()); err != nil {
			return err
		}
		t[i] = PTE{}
	}
	return nil
}

// Discard implements discard_active_mspace: Reset, then free the root
// table itself — the mspace is dead and the caller switches to the main
// mspace. Global subtables referenced from the root are shared with the
// main mspace and are left alone; only the root page is released.
func (m *MSpace) Discard() error {
	if err := m.Reset(); err != nil {
		return err
	}
	if err := m.mem.freePage(m.root); err != nil {
		return err
	}
	m.root = 0
	return nil
}

// HandleUserPageFault implements handle_umode_page_fault: if faultVA lies
// in user memory, allocate and map a fresh R+W+U page there.
func (m *MSpace) HandleUserPageFault(faultVA VA) bool {
	if faultVA < UmemStartVMA || faultVA >= UmemEndVMA {
		return false
	}
	pageVA := faultVA &^ VA(pgalloc.PageSize-1)
	pn, err := m.mem.allocDataPage()
	if err != nil {
		return false
	}
	if _, err := m.MapPage(pageVA, pn, FlagR|FlagW|FlagU); err != nil {
		return false
	}
	return true
}

// DataAt exposes the backing bytes of the data page va resolves to, or nil
// if va is unmapped. Used by process/ELF loading to read/write user memory
// directly, since this simulator has no separate physical address space to
// copy through.
func (m *MSpace) DataAt(va VA) []byte {
	tbl, idx, err := m.walk(va, false, false)
	if err != nil || tbl == nil || !tbl[idx].IsValid() || !tbl[idx].IsLeaf() {
		return nil
	}
	return m.mem.DataAt(tbl[idx].PPN())
}

// Root exposes the root table's physical page number, for tests that want
// to assert on page-table shape directly.
func (m *MSpace) Root() pgalloc.PageNum { return m.root }
