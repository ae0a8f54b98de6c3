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

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

const entriesPerBlock = BlockSize / dirEntrySize

// forEachDirEntry walks the root directory's live entries in order,
// reading only the direct blocks of the root inode. fn returning true
// stops the walk early.
func (fs *FS) forEachDirEntry(self *thread.Thread, fn func(blockIdx, within int, e dirEntry) bool) error {
	count := int(fs.root.size) / dirEntrySize
	for i := 0; i < count; i++ {
		blockIdx := i / entriesPerBlock
		within := i % entriesPerBlock
		phys := fs.root.direct[blockIdx]

		buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(phys))*BlockSize)
		if err != nil {
			return err
		}
		e := decodeDirEntry(buf[within*dirEntrySize : (within+1)*dirEntrySize])
		if err := fs.cache.ReleaseBlock(self, buf, false); err != nil {
			return err
		}

		if fn(blockIdx, within, e) {
			return nil
		}
	}
	return nil
}

func (fs *FS) scanRootDirectory(self *thread.Thread) (int, error) {
	count := 0
	err := fs.forEachDirEntry(self, func(_, _ int, e dirEntry) bool {
		fs.inodeUse[e.inode] = 1
		count++
		return false
	})
	return count, err
}

func (fs *FS) removeOpenFile(of *openFile) {
	for i, x := range fs.openFiles {
		if x == of {
			last := len(fs.openFiles) - 1
			fs.openFiles[i] = fs.openFiles[last]
			fs.openFiles = fs.openFiles[:last]
			return
		}
	}
}

// Open scans the root directory for name, rejects a second concurrent open
// of the same file with kerr.ErrBusy, and returns a Seekable-wrapped File.
func (fs *FS) Open(name string) (ioobj.Object, error) {
	self := mustCurrent(fs.sched)
	fs.lock.Acquire(self)
	defer fs.lock.Release(self)

	var found *dirEntry
	if err := fs.forEachDirEntry(self, func(_, _ int, e dirEntry) bool {
		if e.name == name {
			found = &e
			return true
		}
		return false
	}); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("ktfs open %q: %w", name, kerr.ErrNoSuchEntry)
	}
	for _, of := range fs.openFiles {
		if of.inode == found.inode {
			return nil, fmt.Errorf("ktfs open %q: %w", name, kerr.ErrBusy)
		}
	}

	ino, err := fs.readInode(self, found.inode)
	if err != nil {
		return nil, err
	}

	of := &openFile{name: name, inode: found.inode, ino: ino, refs: 1}
	fs.openFiles = append(fs.openFiles, of)
	fs.metrics.SetOpenFiles(int64(len(fs.openFiles)))

	return ioobj.NewSeekable(&File{fs: fs, of: of}), nil
}

// Create rejects empty/oversized/ duplicate names, extends the root
// directory with a fresh data block if its current last block is full, and
// allocates the lowest-index free inode for the new entry.
func (fs *FS) Create(name string) error {
	self := mustCurrent(fs.sched)
	fs.lock.Acquire(self)
	defer fs.lock.Release(self)

	if name == "" || len(name) > MaxFilenameLen {
		return fmt.Errorf("ktfs create %q: %w", name, kerr.ErrInvalidArgument)
	}

	dup := false
	if err := fs.forEachDirEntry(self, func(_, _ int, e dirEntry) bool {
		if e.name == name {
			dup = true
			return true
		}
		return false
	}); err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("ktfs create %q: %w", name, kerr.ErrBusy)
	}

	idx := fs.dirEntryCount
	blockIdx := idx / entriesPerBlock
	within := idx % entriesPerBlock
	if blockIdx >= directPointers {
		return fmt.Errorf("ktfs create %q: root directory full: %w", name, kerr.ErrNoDataBlocks)
	}

	if within == 0 {
		dataIdx, err := fs.allocateDataBlock(self)
		if err != nil {
			return err
		}
		if err := fs.zeroDataBlock(self, dataIdx); err != nil {
			return err
		}
		fs.root.direct[blockIdx] = dataIdx
	}

	inodeNum, ok := fs.allocateInode()
	if !ok {
		return fmt.Errorf("ktfs create %q: %w", name, kerr.ErrNoDataBlocks)
	}

	phys := fs.root.direct[blockIdx]
	buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(phys))*BlockSize)
	if err != nil {
		return err
	}
	encodeDirEntry(buf[within*dirEntrySize:(within+1)*dirEntrySize], dirEntry{inode: inodeNum, name: name})
	if err := fs.cache.ReleaseBlock(self, buf, true); err != nil {
		return err
	}

	fs.root.size += dirEntrySize
	fs.dirEntryCount++
	if err := fs.writeInode(self, fs.rootInode, fs.root); err != nil {
		return err
	}

	fs.inodeUse[inodeNum] = 1
	return fs.writeInode(self, inodeNum, inodeRecord{})
}

// Delete frees every data block the file's inode chain references (plus
// the indirect/double-indirect blocks themselves), closes the file if
// open, swap-removes its directory entry, clears the inode-usage bit,
// zeroes the on-disk inode, persists the root inode, and flushes the
// cache.
func (fs *FS) Delete(name string) error {
	self := mustCurrent(fs.sched)
	fs.lock.Acquire(self)
	defer fs.lock.Release(self)

	foundBlockIdx, foundWithin := -1, -1
	var foundEntry dirEntry
	if err := fs.forEachDirEntry(self, func(blockIdx, within int, e dirEntry) bool {
		if e.name == name {
			foundBlockIdx, foundWithin, foundEntry = blockIdx, within, e
			return true
		}
		return false
	}); err != nil {
		return err
	}
	if foundBlockIdx == -1 {
		return fmt.Errorf("ktfs delete %q: %w", name, kerr.ErrNoSuchEntry)
	}

	ino, err := fs.readInode(self, foundEntry.inode)
	if err != nil {
		return err
	}

	numBlocks := 0
	if ino.size > 0 {
		numBlocks = int((int64(ino.size) + BlockSize - 1) / BlockSize)
	}
	for i := 0; i < numBlocks; i++ {
		phys, err := fs.resolveBlock(self, &ino, i)
		if err != nil {
			return err
		}
		if err := fs.freeDataBlock(self, phys); err != nil {
			return err
		}
	}
	if numBlocks > directPointers && ino.indirect != 0 {
		if err := fs.freeDataBlock(self, ino.indirect); err != nil {
			return err
		}
	}
	for w := 0; w < 2; w++ {
		if ino.dindirect[w] == 0 {
			continue
		}
		buf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(ino.dindirect[w]))*BlockSize)
		if err != nil {
			return err
		}
		for e := 0; e < ptrsPerBlock; e++ {
			ind := binary.LittleEndian.Uint32(buf[e*4 : e*4+4])
			if ind != 0 {
				if err := fs.freeDataBlock(self, ind); err != nil {
					fs.cache.ReleaseBlock(self, buf, false)
					return err
				}
			}
		}
		if err := fs.cache.ReleaseBlock(self, buf, false); err != nil {
			return err
		}
		if err := fs.freeDataBlock(self, ino.dindirect[w]); err != nil {
			return err
		}
	}

	for _, of := range fs.openFiles {
		if of.inode == foundEntry.inode {
			fs.removeOpenFile(of)
			fs.metrics.SetOpenFiles(int64(len(fs.openFiles)))
			break
		}
	}

	if err := fs.swapRemoveDirEntry(self, foundBlockIdx, foundWithin); err != nil {
		return err
	}

	fs.inodeUse[foundEntry.inode] = 0
	if err := fs.writeInode(self, foundEntry.inode, inodeRecord{}); err != nil {
		return err
	}

	return fs.Flush()
}

// swapRemoveDirEntry copies the last live entry into the slot at
// (blockIdx, within), zeroes the vacated last slot if distinct, and
// shrinks the root directory's size by one entry.
func (fs *FS) swapRemoveDirEntry(self *thread.Thread, blockIdx, within int) error {
	lastIdx := fs.dirEntryCount - 1
	lastBlockIdx := lastIdx / entriesPerBlock
	lastWithin := lastIdx % entriesPerBlock
	lastPhys := fs.root.direct[lastBlockIdx]

	lastBuf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(lastPhys))*BlockSize)
	if err != nil {
		return err
	}
	var lastEntryBytes [dirEntrySize]byte
	copy(lastEntryBytes[:], lastBuf[lastWithin*dirEntrySize:(lastWithin+1)*dirEntrySize])
	if err := fs.cache.ReleaseBlock(self, lastBuf, false); err != nil {
		return err
	}

	moved := lastBlockIdx != blockIdx || lastWithin != within

	targetPhys := fs.root.direct[blockIdx]
	targetBuf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(targetPhys))*BlockSize)
	if err != nil {
		return err
	}
	if moved {
		copy(targetBuf[within*dirEntrySize:(within+1)*dirEntrySize], lastEntryBytes[:])
	} else {
		for i := range targetBuf[within*dirEntrySize : (within+1)*dirEntrySize] {
			targetBuf[within*dirEntrySize+i] = 0
		}
	}
	if err := fs.cache.ReleaseBlock(self, targetBuf, true); err != nil {
		return err
	}

	if moved {
		zeroBuf, err := fs.cache.GetBlock(self, (fs.dataStart+int64(lastPhys))*BlockSize)
		if err != nil {
			return err
		}
		for i := range zeroBuf[lastWithin*dirEntrySize : (lastWithin+1)*dirEntrySize] {
			zeroBuf[lastWithin*dirEntrySize+i] = 0
		}
		if err := fs.cache.ReleaseBlock(self, zeroBuf, true); err != nil {
			return err
		}
	}

	fs.root.size -= dirEntrySize
	fs.dirEntryCount--
	return fs.writeInode(self, fs.rootInode, fs.root)
}
