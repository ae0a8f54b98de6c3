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

package ktfs

import (
	"encoding/binary"
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/blockcache"
	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/metrics"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// openFile is the kernel's per-open-file record. refs tracks dup/close the
// same way every other ioobj.Object variant does.
type openFile struct {
	name  string
	inode uint16
	ino   inodeRecord
	refs  int
}

// FS is a mounted KTFS filesystem: the block cache over its backing
// device, the in-memory superblock, the root directory's cached inode, the
// inode-usage bitmap built at mount time, and the open-files table. All
// mutable FS-level state is guarded by a single recursive lock.
type FS struct {
	sched *thread.Scheduler
	cache *blockcache.Cache
	lock  *thread.Lock

	sb        superblock
	dataStart int64 // first block index of the data region

	rootInode     uint16
	root          inodeRecord
	inodeUse      []byte // 1 byte per inode, 1 = referenced by a directory entry
	dirEntryCount int

	openFiles []*openFile
	metrics   metrics.Handle
}

func mustCurrent(s *thread.Scheduler) *thread.Thread {
	self := s.Current()
	if self == nil {
		panic("ktfs: called with no current thread")
	}
	return self
}

// Mount builds a block cache over backing, reads the superblock and root-
// directory inode, and scans the root directory once to populate the in-
// memory inode-usage bitmap.
func Mount(sched *thread.Scheduler, backing ioobj.Object, m metrics.Handle) (*FS, error) {
	if m == nil {
		m = metrics.NewNoopHandle()
	}
	cache := blockcache.New(sched, backing, m)
	self := mustCurrent(sched)

	buf, err := cache.GetBlock(self, 0)
	if err != nil {
		return nil, fmt.Errorf("ktfs mount: reading superblock: %w", err)
	}
	sb := decodeSuperblock(buf)
	if err := cache.ReleaseBlock(self, buf, false); err != nil {
		return nil, err
	}

	fs := &FS{
		sched:     sched,
		cache:     cache,
		lock:      thread.NewLock(sched),
		sb:        sb,
		dataStart: 1 + int64(sb.bitmapBlockCount) + int64(sb.inodeBlockCount),
		rootInode: sb.rootDirInode,
		inodeUse:  make([]byte, inodesPerBlock*sb.inodeBlockCount),
		metrics:   m,
	}

	root, err := fs.readInode(self, fs.rootInode)
	if err != nil {
		return nil, fmt.Errorf("ktfs mount: reading root inode: %w", err)
	}
	fs.root = root
	fs.inodeUse[fs.rootInode] = 1

	count, err := fs.scanRootDirectory(self)
	if err != nil {
		return nil, fmt.Errorf("ktfs mount: scanning root directory: %w", err)
	}
	fs.dirEntryCount = count
	m.SetOpenFiles(0)
	return fs, nil
}

// Flush releases, dirty, whatever block the cache is still holding, dirty.
// Every KTFS mutation already writes back through ReleaseBlock's dirty
// path, so this is a safety net for any operation that returned early
// while a block was checked out.
func (fs *FS) Flush() error {
	return fs.cache.Flush(mustCurrent(fs.sched))
}

// ListNames returns every live root-directory entry's name, in directory
// order. Exposed for tests exercising directory contiguity invariant and
// swap-remove scenario.
func (fs *FS) ListNames() ([]string, error) {
	self := mustCurrent(fs.sched)
	fs.lock.Acquire(self)
	defer fs.lock.Release(self)

	var names []string
	err := fs.forEachDirEntry(self, func(_, _ int, e dirEntry) bool {
		names = append(names, e.name)
		return false
	})
	return names, err
}

func (fs *FS) inodeBlockAndOffset(inodeNum uint16) (int64, int) {
	blk := 1 + int64(fs.sb.bitmapBlockCount) + int64(inodeNum)/inodesPerBlock
	off := (int(inodeNum) % inodesPerBlock) * inodeSize
	return blk, off
}

func (fs *FS) readInode(self *thread.Thread, inodeNum uint16) (inodeRecord, error) {
	blk, off := fs.inodeBlockAndOffset(inodeNum)
	buf, err := fs.cache.GetBlock(self, blk*BlockSize)
	if err != nil {
		return inodeRecord{}, err
	}
	rec := decodeInode(buf[off : off+inodeSize])
	if err := fs.cache.ReleaseBlock(self, buf, false); err != nil {
		return inodeRecord{}, err
	}
	return rec, nil
}

func (fs *FS) writeInode(self *thread.Thread, inodeNum uint16, rec inodeRecord) error {
	blk, off := fs.inodeBlockAndOffset(inodeNum)
	buf, err := fs.cache.GetBlock(self, blk*BlockSize)
	if err != nil {
		return err
	}
	rec.encode(buf[off : off+inodeSize])
	return fs.cache.ReleaseBlock(self, buf, true)
}

func (fs *FS) zeroDataBlock(self *thread.Thread, phys uint32) error {
	buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(phys))*BlockSize)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	return fs.cache.ReleaseBlock(self, buf, true)
}

func (fs *FS) readPtrBlock(self *thread.Thread, physBlock uint32, entry int) (uint32, error) {
	buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(physBlock))*BlockSize)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf[entry*4 : entry*4+4])
	if err := fs.cache.ReleaseBlock(self, buf, false); err != nil {
		return 0, err
	}
	return v, nil
}

func (fs *FS) writePtrBlock(self *thread.Thread, physBlock uint32, entry int, value uint32) error {
	buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(physBlock))*BlockSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[entry*4:entry*4+4], value)
	return fs.cache.ReleaseBlock(self, buf, true)
}

// resolveBlock implements logical→physical resolver: direct, then single-
// indirect, then double-indirect (choosing dindirect[0] or [1] by offset
// range).
func (fs *FS) resolveBlock(self *thread.Thread, ino *inodeRecord, idx int) (uint32, error) {
	switch {
	case idx < directPointers:
		return ino.direct[idx], nil
	case idx < directPointers+blksPerIndirect:
		return fs.readPtrBlock(self, ino.indirect, idx-directPointers)
	default:
		offset := idx - directPointers - blksPerIndirect
		which := 0
		if offset >= blksPerDindirect {
			which = 1
			offset -= blksPerDindirect
		}
		indBlock, err := fs.readPtrBlock(self, ino.dindirect[which], offset/blksPerIndirect)
		if err != nil {
			return 0, err
		}
		return fs.readPtrBlock(self, indBlock, offset%blksPerIndirect)
	}
}

// allocateDataBlock implements allocate_open_block: scans bitmap blocks,
// bit LSB…MSB within each byte, for the first 0 bit.
func (fs *FS) allocateDataBlock(self *thread.Thread) (uint32, error) {
	for blk := uint32(0); blk < fs.sb.bitmapBlockCount; blk++ {
		buf, err := fs.cache.GetBlock(self, int64(blk+1)*BlockSize)
		if err != nil {
			return 0, err
		}
		for byteIdx := 0; byteIdx < BlockSize; byteIdx++ {
			if buf[byteIdx] == 0xFF {
				continue
			}
			for bit := 0; bit < 8; bit++ {
				if buf[byteIdx]&(1<<uint(bit)) != 0 {
					continue
				}
				buf[byteIdx] |= 1 << uint(bit)
				dataIdx := blk*BlockSize*8 + uint32(byteIdx)*8 + uint32(bit)
				if err := fs.cache.ReleaseBlock(self, buf, true); err != nil {
					return 0, err
				}
				return dataIdx, nil
			}
		}
		if err := fs.cache.ReleaseBlock(self, buf, false); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("ktfs: %w", kerr.ErrNoDataBlocks)
}

// freeDataBlock clears dataIdx's bit in the bitmap.
func (fs *FS) freeDataBlock(self *thread.Thread, dataIdx uint32) error {
	blk := dataIdx / (BlockSize * 8)
	rem := dataIdx % (BlockSize * 8)
	byteIdx, bit := rem/8, rem%8
	buf, err := fs.cache.GetBlock(self, int64(blk+1)*BlockSize)
	if err != nil {
		return err
	}
	buf[byteIdx] &^= 1 << bit
	return fs.cache.ReleaseBlock(self, buf, true)
}

func (fs *FS) allocateInode() (uint16, bool) {
	for i := 1; i < len(fs.inodeUse); i++ {
		if fs.inodeUse[i] == 0 {
			return uint16(i), true
		}
	}
	return 0, false
}

// ioAt is the shared body of readat/writeat: clamps n to size, rejects an
// out-of-range pos, and copies block by block through the cache.
func (fs *FS) ioAt(self *thread.Thread, ino *inodeRecord, pos int64, buf []byte, write bool) (int, error) {
	size := int64(ino.size)
	if pos < 0 || pos >= size {
		op := "readat"
		if write {
			op = "writeat"
		}
		return 0, fmt.Errorf("ktfs %s: pos %d at or past end %d: %w", op, pos, size, kerr.ErrInvalidArgument)
	}

	n := len(buf)
	if pos+int64(n) > size {
		n = int(size - pos)
	}

	done := 0
	for done < n {
		cur := pos + int64(done)
		logicalIdx := int(cur / BlockSize)
		within := int(cur % BlockSize)

		phys, err := fs.resolveBlock(self, ino, logicalIdx)
		if err != nil {
			return done, err
		}
		blkBuf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(phys))*BlockSize)
		if err != nil {
			return done, err
		}

		chunk := BlockSize - within
		if remain := n - done; chunk > remain {
			chunk = remain
		}
		if write {
			copy(blkBuf[within:within+chunk], buf[done:done+chunk])
		} else {
			copy(buf[done:done+chunk], blkBuf[within:within+chunk])
		}
		if err := fs.cache.ReleaseBlock(self, blkBuf, write); err != nil {
			return done, err
		}
		done += chunk
	}
	return done, nil
}
