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

package pipe_test

import (
	"errors"
	"testing"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/pipe"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeWriteThenReadRoundTrips(t *testing.T) {
	sched := thread.NewScheduler(nil)
	rd, wr := pipe.New(sched)

	n, err := wr.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 10)
	n, err = rd.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	sched := thread.NewScheduler(nil)
	rd, wr := pipe.New(sched)

	require.NoError(t, wr.Close())

	n, err := rd.Read(make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeWriteReturnsBrokenPipeWhenNoReader(t *testing.T) {
	sched := thread.NewScheduler(nil)
	rd, wr := pipe.New(sched)

	require.NoError(t, rd.Close())

	_, err := wr.Write([]byte("x"))
	assert.True(t, errors.Is(err, kerr.ErrBrokenPipe))
}

func TestPipeGetEndReportsReadableAndFreeBytes(t *testing.T) {
	sched := thread.NewScheduler(nil)
	rd, wr := pipe.New(sched)

	_, err := wr.Write([]byte("abc"))
	require.NoError(t, err)

	readable, err := rd.Cntl(ioobj.GetEnd, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), readable)

	free, err := wr.Cntl(ioobj.GetEnd, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(pipe.RingSize-3), free)
}

func TestPipeReadBlocksUntilDataIsWritten(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	rd, wr := pipe.New(sched)

	var got string
	reader, err := sched.Spawn(boot, "reader", func(self *thread.Thread) {
		buf := make([]byte, 16)
		n, err := rd.Read(buf)
		require.NoError(t, err)
		got = string(buf[:n])
	})
	require.NoError(t, err)

	sched.Yield(boot) // let reader run up to blocking on not_empty

	n, err := wr.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	sched.Yield(boot) // let reader observe the broadcast and resume
	require.NoError(t, sched.Join(boot, reader))
	assert.Equal(t, "world", got)
}

func TestPipeWriteBlocksUntilReaderDrainsFullBuffer(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	rd, wr := pipe.New(sched)

	filler := make([]byte, pipe.RingSize)
	n, err := wr.Write(filler)
	require.NoError(t, err)
	require.Equal(t, pipe.RingSize, n)

	var wrote int
	writer, err := sched.Spawn(boot, "writer", func(self *thread.Thread) {
		n, err := wr.Write([]byte("!"))
		require.NoError(t, err)
		wrote = n
	})
	require.NoError(t, err)

	sched.Yield(boot) // let the writer run up to blocking on not_full
	assert.Equal(t, 0, wrote)

	drained := make([]byte, 10)
	n, err = rd.Read(drained)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	sched.Yield(boot) // let the writer observe the broadcast and finish
	require.NoError(t, sched.Join(boot, writer))
	assert.Equal(t, 1, wrote)
}
