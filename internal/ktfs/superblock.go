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

// Package ktfs is the kernel's on-disk filesystem:
// superblock/bitmap/inode/data layout, a root directory with swap-remove
// semantics, and direct + single-indirect + double-indirect block
// resolution. Every on-disk field is laid out bit-exact to the disk
// format: little-endian, packed, 512-byte blocks.
package ktfs

import "encoding/binary"

// BlockSize is KTFS's on-disk block unit, matching the block cache's fixed
// transfer size.
const BlockSize = 512

// MaxFilenameLen is KTFS_MAX_FILENAME_LEN.
const MaxFilenameLen = 14

const (
	superblockSize  = 14 // 3×u32 + 1×u16, packed
	inodeSize       = 32
	dirEntrySize    = 32 // KTFS_DENSZ: 2+14 bytes of payload, padded to 32
	inodesPerBlock  = BlockSize / inodeSize
	directPointers  = 3
	ptrsPerBlock    = BlockSize / 4
	blksPerIndirect = ptrsPerBlock
	blksPerDindirect = ptrsPerBlock * ptrsPerBlock
)

// superblock mirrors block 0's on-disk layout exactly.
type superblock struct {
	blockCount       uint32
	bitmapBlockCount uint32
	inodeBlockCount  uint32
	rootDirInode     uint16
}

func decodeSuperblock(b []byte) superblock {
	return superblock{
		blockCount:       binary.LittleEndian.Uint32(b[0:4]),
		bitmapBlockCount: binary.LittleEndian.Uint32(b[4:8]),
		inodeBlockCount:  binary.LittleEndian.Uint32(b[8:12]),
		rootDirInode:     binary.LittleEndian.Uint16(b[12:14]),
	}
}

func (s superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], s.blockCount)
	binary.LittleEndian.PutUint32(b[4:8], s.bitmapBlockCount)
	binary.LittleEndian.PutUint32(b[8:12], s.inodeBlockCount)
	binary.LittleEndian.PutUint16(b[12:14], s.rootDirInode)
}

// inodeRecord mirrors one 32-byte on-disk inode: size, flags, three direct
// pointers, one single-indirect pointer, two double-indirect pointers.
type inodeRecord struct {
	size      uint32
	flags     uint32
	direct    [directPointers]uint32
	indirect  uint32
	dindirect [2]uint32
}

func decodeInode(b []byte) inodeRecord {
	var r inodeRecord
	r.size = binary.LittleEndian.Uint32(b[0:4])
	r.flags = binary.LittleEndian.Uint32(b[4:8])
	for i := 0; i < directPointers; i++ {
		r.direct[i] = binary.LittleEndian.Uint32(b[8+4*i : 12+4*i])
	}
	r.indirect = binary.LittleEndian.Uint32(b[20:24])
	r.dindirect[0] = binary.LittleEndian.Uint32(b[24:28])
	r.dindirect[1] = binary.LittleEndian.Uint32(b[28:32])
	return r
}

func (r inodeRecord) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], r.size)
	binary.LittleEndian.PutUint32(b[4:8], r.flags)
	for i := 0; i < directPointers; i++ {
		binary.LittleEndian.PutUint32(b[8+4*i:12+4*i], r.direct[i])
	}
	binary.LittleEndian.PutUint32(b[20:24], r.indirect)
	binary.LittleEndian.PutUint32(b[24:28], r.dindirect[0])
	binary.LittleEndian.PutUint32(b[28:32], r.dindirect[1])
}

// dirEntry mirrors one 32-byte on-disk directory entry: a 2-byte inode
// number and a 14-byte zero-terminated (if shorter than 14) name, followed
// by 16 bytes of padding.
type dirEntry struct {
	inode uint16
	name  string
}

func decodeDirEntry(b []byte) dirEntry {
	inode := binary.LittleEndian.Uint16(b[0:2])
	raw := b[2 : 2+MaxFilenameLen]
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	return dirEntry{inode: inode, name: string(raw[:end])}
}

func encodeDirEntry(b []byte, e dirEntry) {
	for i := range b {
		b[i] = 0
	}
	binary.LittleEndian.PutUint16(b[0:2], e.inode)
	copy(b[2:2+MaxFilenameLen], e.name)
}
