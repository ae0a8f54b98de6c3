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

package devices_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rvos-dev/rvkernel/internal/devices"
	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOpenUnregisteredReturnsNoSuchEntry(t *testing.T) {
	m := devices.NewManager()
	_, err := m.Open("uart", 0)
	assert.True(t, errors.Is(err, kerr.ErrNoSuchEntry))
}

func TestManagerOpenEnablesPLICSource(t *testing.T) {
	sched := thread.NewScheduler(nil)
	m := devices.NewManager()
	m.Register("uart", 0, &devices.UARTDriver{Dev: devices.NewUART(sched, nil)})

	assert.False(t, m.PLIC().IsEnabled("uart", 0))
	_, err := m.Open("uart", 0)
	require.NoError(t, err)
	assert.True(t, m.PLIC().IsEnabled("uart", 0))
}

func TestUARTWriteSendsBytesToSink(t *testing.T) {
	sched := thread.NewScheduler(nil)
	var sent []byte
	u := devices.NewUART(sched, func(b byte) { sent = append(sent, b) })

	n, err := u.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("hi"), sent)
}

func TestUARTReadBlocksUntilInputInjected(t *testing.T) {
	sched := thread.NewScheduler(nil)
	boot := sched.Boot()
	u := devices.NewUART(sched, nil)

	var got string
	reader, err := sched.Spawn(boot, "reader", func(self *thread.Thread) {
		buf := make([]byte, 16)
		n, err := u.Read(buf)
		require.NoError(t, err)
		got = string(buf[:n])
	})
	require.NoError(t, err)

	sched.Yield(boot) // let reader block on the empty ring

	u.InjectInput([]byte("ok"))

	sched.Yield(boot) // let reader observe the broadcast and resume
	require.NoError(t, sched.Join(boot, reader))
	assert.Equal(t, "ok", got)
}

func TestUARTCntlReportsPendingInput(t *testing.T) {
	sched := thread.NewScheduler(nil)
	u := devices.NewUART(sched, nil)

	u.InjectInput([]byte("abc"))
	n, err := u.Cntl(ioobj.GetEnd, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRTCReadReturnsEightByteTimestamp(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	r := devices.NewRTC(func() time.Time { return fixed })

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	size, err := r.Cntl(ioobj.GetBlockSize, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestRngReadFillsBuffer(t *testing.T) {
	g := devices.NewRng()
	buf := make([]byte, 32)
	n, err := g.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 32, n)
}

func TestVirtioBlkDelegatesToBacking(t *testing.T) {
	backing := ioobj.NewMemObject([]byte("0123456789"))
	blk := devices.NewVirtioBlk(backing)

	buf := make([]byte, 4)
	n, err := blk.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))

	n, err = blk.WriteAt([]byte("XY"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = blk.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "XY23", string(buf))
}

func TestPLICClaimConsumesPendingInterrupt(t *testing.T) {
	p := devices.NewPLIC()
	p.EnableSource("virtio-blk", 0)

	assert.False(t, p.Claim("virtio-blk", 0))

	p.Raise("virtio-blk", 0)
	assert.True(t, p.Claim("virtio-blk", 0))
	assert.False(t, p.Claim("virtio-blk", 0))
}

func TestPLICRaiseIgnoredWhenSourceNotEnabled(t *testing.T) {
	p := devices.NewPLIC()
	p.Raise("rtc", 0)
	assert.False(t, p.Claim("rtc", 0))
}
