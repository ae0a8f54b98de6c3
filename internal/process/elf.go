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
	"github.com/rvos-dev/rvkernel/internal/pgalloc"
	"github.com/rvos-dev/rvkernel/internal/vm"
)

const (
	elfHeaderSize = 64
	elfPhdrSize   = 56

	elfClass64  = 2
	elfDataLSB  = 1
	elfTypeExec = 2
	elfMachine  = 243 // EM_RISCV
	elfPTLoad   = 1

	elfPFExecute = 1
	elfPFWrite   = 2
	elfPFRead    = 4
)

type elfHeader struct {
	entry     uint64
	phoff     uint64
	phentsize uint16
	phnum     uint16
}

func parseELFHeader(b []byte) (elfHeader, error) {
	if len(b) < elfHeaderSize {
		return elfHeader{}, fmt.Errorf("elf: truncated header: %w", kerr.ErrBadFormat)
	}
	if b[0] != 0x7f || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return elfHeader{}, fmt.Errorf("elf: bad magic: %w", kerr.ErrBadFormat)
	}
	if b[4] != elfClass64 {
		return elfHeader{}, fmt.Errorf("elf: not a 64-bit object: %w", kerr.ErrBadFormat)
	}
	if b[5] != elfDataLSB {
		return elfHeader{}, fmt.Errorf("elf: not little-endian: %w", kerr.ErrBadFormat)
	}

	typ := binary.LittleEndian.Uint16(b[16:18])
	machine := binary.LittleEndian.Uint16(b[18:20])
	if machine != elfMachine {
		return elfHeader{}, fmt.Errorf("elf: wrong machine %d: %w", machine, kerr.ErrBadFormat)
	}
	if typ != elfTypeExec {
		return elfHeader{}, fmt.Errorf("elf: not an executable (type %d): %w", typ, kerr.ErrBadFormat)
	}

	return elfHeader{
		entry:     binary.LittleEndian.Uint64(b[24:32]),
		phoff:     binary.LittleEndian.Uint64(b[32:40]),
		phentsize: binary.LittleEndian.Uint16(b[54:56]),
		phnum:     binary.LittleEndian.Uint16(b[56:58]),
	}, nil
}

type progHeader struct {
	typ    uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

func parseProgHeader(b []byte) progHeader {
	return progHeader{
		typ:    binary.LittleEndian.Uint32(b[0:4]),
		flags:  binary.LittleEndian.Uint32(b[4:8]),
		offset: binary.LittleEndian.Uint64(b[8:16]),
		vaddr:  binary.LittleEndian.Uint64(b[16:24]),
		filesz: binary.LittleEndian.Uint64(b[32:40]),
		memsz:  binary.LittleEndian.Uint64(b[40:48]),
	}
}

func segmentFlags(p progHeader) vm.Flag {
	var f vm.Flag
	if p.flags&elfPFRead != 0 {
		f |= vm.FlagR
	}
	if p.flags&elfPFWrite != 0 {
		f |= vm.FlagW
	}
	if p.flags&elfPFExecute != 0 {
		f |= vm.FlagX
	}
	return f | vm.FlagU
}

// LoadELF implements ELF loader contract: for every PT_LOAD segment,
// allocates and maps [p_vaddr, p_vaddr+p_memsz) R+W+U, copies p_filesz
// bytes from p_offset, leaves the memsz-filesz tail zeroed (the pages
// AllocAndMapRange hands out start zeroed), then rewrites the segment's
// final permission flags. Returns the entry address.
func LoadELF(mspace *vm.MSpace, exe ioobj.Object) (vm.VA, error) {
	hdrBuf := make([]byte, elfHeaderSize)
	if _, err := exe.ReadAt(hdrBuf, 0); err != nil {
		return 0, fmt.Errorf("elf: reading header: %w", err)
	}
	hdr, err := parseELFHeader(hdrBuf)
	if err != nil {
		return 0, err
	}

	for i := 0; i < int(hdr.phnum); i++ {
		phBuf := make([]byte, elfPhdrSize)
		off := int64(hdr.phoff) + int64(i)*int64(hdr.phentsize)
		if _, err := exe.ReadAt(phBuf, off); err != nil {
			return 0, fmt.Errorf("elf: reading program header %d: %w", i, err)
		}
		ph := parseProgHeader(phBuf)
		if ph.typ != elfPTLoad {
			continue
		}

		start := vm.VA(ph.vaddr)
		end := start + vm.VA(ph.memsz)
		if start < vm.UmemStartVMA || end > vm.UmemEndVMA {
			return 0, fmt.Errorf("elf: segment [%#x,%#x) outside user memory: %w", start, end, kerr.ErrAccessViolation)
		}

		if err := mspace.AllocAndMapRange(start, ph.memsz, vm.FlagR|vm.FlagW|vm.FlagU); err != nil {
			return 0, fmt.Errorf("elf: mapping segment: %w", err)
		}

		if ph.filesz > 0 {
			fileBuf := make([]byte, ph.filesz)
			if _, err := exe.ReadAt(fileBuf, int64(ph.offset)); err != nil {
				return 0, fmt.Errorf("elf: reading segment contents: %w", err)
			}
			writeUserBytes(mspace, start, fileBuf)
		}

		if err := mspace.SetRangeFlags(start, ph.memsz, segmentFlags(ph)); err != nil {
			return 0, fmt.Errorf("elf: setting segment flags: %w", err)
		}
	}

	return vm.VA(hdr.entry), nil
}

// writeUserBytes copies data into the user pages starting at va, crossing
// page boundaries as needed. Every destination page was just mapped by
// AllocAndMapRange, so DataAt never returns nil here.
func writeUserBytes(mspace *vm.MSpace, va vm.VA, data []byte) {
	written := 0
	for written < len(data) {
		cur := va + vm.VA(written)
		page := mspace.DataAt(cur)
		within := int(cur) & (pgalloc.PageSize - 1)
		n := copy(page[within:], data[written:])
		written += n
	}
}
