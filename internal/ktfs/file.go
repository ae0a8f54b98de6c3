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
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// File is the ioobj.Object variant backing one open KTFS file handle.
// Callers always receive one wrapped in an ioobj.Seekable (see FS.Open),
// so File's own Read/Write — defined only to satisfy the Object interface
// — behave as reads/writes at offset 0.
type File struct {
	fs *FS
	of *openFile
}

func (f *File) ReadAt(buf []byte, pos int64) (int, error) {
	self := mustCurrent(f.fs.sched)
	f.fs.lock.Acquire(self)
	defer f.fs.lock.Release(self)
	return f.fs.ioAt(self, &f.of.ino, pos, buf, false)
}

func (f *File) WriteAt(buf []byte, pos int64) (int, error) {
	self := mustCurrent(f.fs.sched)
	f.fs.lock.Acquire(self)
	defer f.fs.lock.Release(self)
	return f.fs.ioAt(self, &f.of.ino, pos, buf, true)
}

func (f *File) Read(buf []byte) (int, error)  { return f.ReadAt(buf, 0) }
func (f *File) Write(buf []byte) (int, error) { return f.WriteAt(buf, 0) }

// Cntl implements GETBLKSZ (returns 1), GETEND, and SETEND.
func (f *File) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	self := mustCurrent(f.fs.sched)
	f.fs.lock.Acquire(self)
	defer f.fs.lock.Release(self)

	switch cmd {
	case ioobj.GetBlockSize:
		return 1, nil
	case ioobj.GetEnd:
		return int64(f.of.ino.size), nil
	case ioobj.SetEnd:
		if err := f.fs.setEnd(self, f.of, arg); err != nil {
			return 0, err
		}
		return arg, nil
	default:
		return 0, fmt.Errorf("ktfs file cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
}

func (f *File) AddRef() {
	self := mustCurrent(f.fs.sched)
	f.fs.lock.Acquire(self)
	f.of.refs++
	f.fs.lock.Release(self)
}

// Close drops one reference; once every reference is gone, the file is
// marked not-open and swap-removed from the open-files table. No data is
// flushed by close alone.
func (f *File) Close() error {
	self := mustCurrent(f.fs.sched)
	f.fs.lock.Acquire(self)
	defer f.fs.lock.Release(self)

	f.of.refs--
	if f.of.refs > 0 {
		return nil
	}
	f.fs.removeOpenFile(f.of)
	f.fs.metrics.SetOpenFiles(int64(len(f.fs.openFiles)))
	return nil
}

// setEnd implements SETEND on a regular file: a no-op if unchanged,
// unsupported if shrinking, and block-by-block extension (via addBlock) if
// growing.
func (fs *FS) setEnd(self *thread.Thread, of *openFile, newSize int64) error {
	cur := int64(of.ino.size)
	if newSize == cur {
		return nil
	}
	if newSize < cur {
		return fmt.Errorf("ktfs setend: shrinking to %d from %d: %w", newSize, cur, kerr.ErrUnsupported)
	}

	size := cur
	for size < newSize {
		if size == 0 {
			blk, err := fs.allocateDataBlock(self)
			if err != nil {
				return err
			}
			if err := fs.zeroDataBlock(self, blk); err != nil {
				return err
			}
			of.ino.direct[0] = blk
			size = BlockSize
			continue
		}
		curLastIdx := int((size - 1) / BlockSize)
		if err := fs.addBlock(self, &of.ino, curLastIdx); err != nil {
			return err
		}
		size = int64(curLastIdx+2) * BlockSize
	}

	of.ino.size = uint32(newSize)
	return fs.writeInode(self, of.inode, of.ino)
}

// addBlock implements add_block(current_last_idx): allocates one fresh
// data block and installs it at logical index curLastIdx+1, allocating any
// missing indirect/double-indirect blocks along the way.
func (fs *FS) addBlock(self *thread.Thread, ino *inodeRecord, curLastIdx int) error {
	newIdx := curLastIdx + 1

	dataBlk, err := fs.allocateDataBlock(self)
	if err != nil {
		return err
	}
	if err := fs.zeroDataBlock(self, dataBlk); err != nil {
		return err
	}

	switch {
	case newIdx < directPointers:
		ino.direct[newIdx] = dataBlk
		return nil

	case newIdx < directPointers+blksPerIndirect:
		if ino.indirect == 0 {
			blk, err := fs.allocateDataBlock(self)
			if err != nil {
				return err
			}
			if err := fs.zeroDataBlock(self, blk); err != nil {
				return err
			}
			ino.indirect = blk
		}
		return fs.writePtrBlock(self, ino.indirect, newIdx-directPointers, dataBlk)

	default:
		offset := newIdx - directPointers - blksPerIndirect
		which := 0
		if offset >= blksPerDindirect {
			which = 1
			offset -= blksPerDindirect
		}
		if ino.dindirect[which] == 0 {
			blk, err := fs.allocateDataBlock(self)
			if err != nil {
				return err
			}
			if err := fs.zeroDataBlock(self, blk); err != nil {
				return err
			}
			ino.dindirect[which] = blk
		}

		indEntry := offset / blksPerIndirect
		indBlock, err := fs.readPtrBlock(self, ino.dindirect[which], indEntry)
		if err != nil {
			return err
		}
		if indBlock == 0 {
			blk, err := fs.allocateDataBlock(self)
			if err != nil {
				return err
			}
			if err := fs.zeroDataBlock(self, blk); err != nil {
				return err
			}
			if err := fs.writePtrBlock(self, ino.dindirect[which], indEntry, blk); err != nil {
				return err
			}
			indBlock = blk
		}
		return fs.writePtrBlock(self, indBlock, offset%blksPerIndirect, dataBlk)
	}
}
