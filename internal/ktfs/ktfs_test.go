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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

const (
	testTotalBlocks  = 256
	testBitmapBlocks = 1
	testInodeBlocks  = 1
)

// freshDiskImage builds a minimal, empty, valid KTFS image: a superblock,
// one all-zero bitmap block, one all-zero inode block (so every inode
// including the root is {size:0}), and zeroed data blocks.
func freshDiskImage() []byte {
	img := make([]byte, testTotalBlocks*BlockSize)
	sb := superblock{
		blockCount:       testTotalBlocks,
		bitmapBlockCount: testBitmapBlocks,
		inodeBlockCount:  testInodeBlocks,
		rootDirInode:     0,
	}
	sb.encode(img[0:superblockSize])
	return img
}

func mountFresh(t *testing.T) (*FS, *ioobj.MemObject, *thread.Scheduler) {
	t.Helper()
	sched := thread.NewScheduler(nil)
	backing := ioobj.NewMemObject(freshDiskImage())
	fs, err := Mount(sched, backing, nil)
	require.NoError(t, err)
	return fs, backing, sched
}

func TestMountEmptyDirectory(t *testing.T) {
	fs, _, _ := mountFresh(t)
	names, err := fs.ListNames()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCreateOpenWriteReadClose(t *testing.T) {
	fs, _, _ := mountFresh(t)

	require.NoError(t, fs.Create("t"))

	obj, err := fs.Open("t")
	require.NoError(t, err)

	_, err = obj.Cntl(ioobj.SetEnd, 2)
	require.NoError(t, err)

	n, err := obj.WriteAt([]byte("42"), 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 2)
	n, err = obj.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "42", string(buf))

	require.NoError(t, obj.Close())
}

func TestFilesystemSurvivesRemount(t *testing.T) {
	fs, backing, sched := mountFresh(t)

	require.NoError(t, fs.Create("t"))
	obj, err := fs.Open("t")
	require.NoError(t, err)
	_, err = obj.Cntl(ioobj.SetEnd, 2)
	require.NoError(t, err)
	_, err = obj.WriteAt([]byte("42"), 0)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	require.NoError(t, fs.Flush())

	// Remount a fresh cache over the same backing bytes, the same way a
	// reboot would reopen the disk image.
	fs2, err := Mount(sched, backing, nil)
	require.NoError(t, err)

	obj2, err := fs2.Open("t")
	require.NoError(t, err)
	buf := make([]byte, 2)
	n, err := obj2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "42", string(buf))
}

func TestExtendThenWriteWithinExtent(t *testing.T) {
	fs, _, _ := mountFresh(t)

	require.NoError(t, fs.Create("x"))
	obj, err := fs.Open("x")
	require.NoError(t, err)

	// SETEND(x, 0) is a no-op.
	end, err := obj.Cntl(ioobj.SetEnd, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, end)

	// SETEND(x, 1600) extends to 4 blocks: 3 direct + 1 single-indirect.
	end, err = obj.Cntl(ioobj.SetEnd, 1600)
	require.NoError(t, err)
	require.EqualValues(t, 1600, end)

	zeros := make([]byte, 1600)
	n, err := obj.ReadAt(zeros, 0)
	require.NoError(t, err)
	require.Equal(t, 1600, n)
	for _, b := range zeros {
		require.Zero(t, b)
	}

	n, err = obj.WriteAt([]byte("abc"), 1500)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	window := make([]byte, 6)
	n, err = obj.ReadAt(window, 1498)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, []byte{0, 0, 'a', 'b', 'c', 0}, window)
}

func TestSetEndShrinkUnsupported(t *testing.T) {
	fs, _, _ := mountFresh(t)
	require.NoError(t, fs.Create("x"))
	obj, err := fs.Open("x")
	require.NoError(t, err)
	_, err = obj.Cntl(ioobj.SetEnd, 512)
	require.NoError(t, err)

	_, err = obj.Cntl(ioobj.SetEnd, 0)
	require.Error(t, err)
}

func TestDirectorySwapRemove(t *testing.T) {
	fs, _, _ := mountFresh(t)

	require.NoError(t, fs.Create("a"))
	require.NoError(t, fs.Create("b"))
	require.NoError(t, fs.Create("c"))

	require.NoError(t, fs.Delete("a"))

	names, err := fs.ListNames()
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, names)
}

func TestOpenSameFileTwiceIsBusy(t *testing.T) {
	fs, _, _ := mountFresh(t)
	require.NoError(t, fs.Create("dup"))

	obj, err := fs.Open("dup")
	require.NoError(t, err)

	_, err = fs.Open("dup")
	require.Error(t, err)

	require.NoError(t, obj.Close())

	// Once closed, opening again must succeed.
	obj2, err := fs.Open("dup")
	require.NoError(t, err)
	require.NoError(t, obj2.Close())
}

func TestCreateDuplicateNameIsBusy(t *testing.T) {
	fs, _, _ := mountFresh(t)
	require.NoError(t, fs.Create("only"))
	err := fs.Create("only")
	require.Error(t, err)
}

func TestDeleteUnknownNameIsNoSuchEntry(t *testing.T) {
	fs, _, _ := mountFresh(t)
	err := fs.Delete("missing")
	require.Error(t, err)
}

func TestCreateRejectsOversizedName(t *testing.T) {
	fs, _, _ := mountFresh(t)
	err := fs.Create("this-name-is-too-long-for-ktfs")
	require.Error(t, err)
}
