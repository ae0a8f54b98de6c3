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

package blockcache_test

import (
	"errors"
	"testing"

	"github.com/rvos-dev/rvkernel/internal/blockcache"
	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackedCache(t *testing.T, nblocks int) (*blockcache.Cache, *ioobj.MemObject, *thread.Thread) {
	t.Helper()
	sched := thread.NewScheduler(nil)
	backing := ioobj.NewMemObject(make([]byte, nblocks*blockcache.BlockSize))
	return blockcache.New(sched, backing, nil), backing, sched.Boot()
}

func TestGetBlockRejectsUnalignedPos(t *testing.T) {
	c, _, self := newBackedCache(t, 4)
	_, err := c.GetBlock(self, 5)
	assert.True(t, errors.Is(err, kerr.ErrInvalidArgument))
}

func TestGetBlockReadsThroughOnMiss(t *testing.T) {
	c, backing, self := newBackedCache(t, 4)
	_, err := backing.WriteAt(append([]byte("block1--"), make([]byte, blockcache.BlockSize-8)...), blockcache.BlockSize)
	require.NoError(t, err)

	buf, err := c.GetBlock(self, blockcache.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, "block1--", string(buf[:8]))
}

func TestReleaseBlockWritesBackWhenDirty(t *testing.T) {
	c, backing, self := newBackedCache(t, 4)

	buf, err := c.GetBlock(self, 0)
	require.NoError(t, err)
	copy(buf, []byte("dirty-data"))
	require.NoError(t, c.ReleaseBlock(self, buf, true))

	raw := make([]byte, 10)
	_, err = backing.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, "dirty-data", string(raw))
}

func TestReleaseBlockSkipsWriteBackWhenClean(t *testing.T) {
	c, backing, self := newBackedCache(t, 4)

	buf, err := c.GetBlock(self, 0)
	require.NoError(t, err)
	copy(buf, []byte("not-flushed"))
	require.NoError(t, c.ReleaseBlock(self, buf, false))

	raw := make([]byte, 11)
	_, err = backing.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "not-flushed", string(raw))
}

func TestReleaseBlockWithoutHeldBlockIsError(t *testing.T) {
	c, _, self := newBackedCache(t, 4)
	err := c.ReleaseBlock(self, nil, false)
	assert.True(t, errors.Is(err, kerr.ErrInvalidArgument))
}

func TestGetBlockReusesResidentSlotWithoutReReading(t *testing.T) {
	c, backing, self := newBackedCache(t, 4)

	buf1, err := c.GetBlock(self, 0)
	require.NoError(t, err)
	copy(buf1, []byte("cached"))
	require.NoError(t, c.ReleaseBlock(self, buf1, false)) // clean: never hits backing

	buf2, err := c.GetBlock(self, 0)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(buf2[:6]), "second get_block for the same block must hit the still-resident slot")

	raw := make([]byte, 6)
	_, err = backing.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "cached", string(raw), "a clean release never reaches the backing store")
}

func TestEvictionPicksLeastRecentlyUsedSlot(t *testing.T) {
	c, backing, self := newBackedCache(t, blockcache.NumSlots+1)

	// Fill every slot, releasing each clean and immediately, so recency
	// increases in access order: block 0 is least recent, block
	// NumSlots-1 is most recent.
	for i := 0; i < blockcache.NumSlots; i++ {
		buf, err := c.GetBlock(self, int64(i)*blockcache.BlockSize)
		require.NoError(t, err)
		require.NoError(t, c.ReleaseBlock(self, buf, false))
	}

	// One more distinct block forces an eviction; it must not evict the
	// block we are about to re-fetch (the most recently used one).
	marker := append([]byte("evicted-in"), make([]byte, blockcache.BlockSize-10)...)
	_, err := backing.WriteAt(marker, int64(blockcache.NumSlots)*blockcache.BlockSize)
	require.NoError(t, err)

	buf, err := c.GetBlock(self, int64(blockcache.NumSlots)*blockcache.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, "evicted-in", string(buf[:10]))
	require.NoError(t, c.ReleaseBlock(self, buf, false))

	// The most recently used block (NumSlots-1) must still be resident:
	// re-fetching it must not need a fresh read from a mutated backing
	// byte, which we verify indirectly by corrupting the backing store
	// at that offset and confirming GetBlock still returns the old value.
	corrupt := make([]byte, blockcache.BlockSize)
	for i := range corrupt {
		corrupt[i] = 0xFF
	}
	_, err = backing.WriteAt(corrupt, int64(blockcache.NumSlots-1)*blockcache.BlockSize)
	require.NoError(t, err)

	buf, err = c.GetBlock(self, int64(blockcache.NumSlots-1)*blockcache.BlockSize)
	require.NoError(t, err)
	assert.NotEqual(t, byte(0xFF), buf[0], "most recently used slot should have survived eviction")
	require.NoError(t, c.ReleaseBlock(self, buf, false))
}
