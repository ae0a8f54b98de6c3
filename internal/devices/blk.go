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

package devices

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
)

// VirtioBlk simulates a VirtIO block device: a backing ioobj.Object
// (typically an *os.File or *ioobj.MemObject standing in for the disk
// image the block cache reads through) behind a one-request-in-flight
// semaphore: the simulated VirtIO queue allows only one request in flight
// per device at a time.
type VirtioBlk struct {
	backing ioobj.Object
	sem     *semaphore.Weighted
}

// NewVirtioBlk wraps backing as a VirtIO block device.
func NewVirtioBlk(backing ioobj.Object) *VirtioBlk {
	return &VirtioBlk{backing: backing, sem: semaphore.NewWeighted(1)}
}

func (v *VirtioBlk) acquire() {
	// Acquire never fails for a weight of 1 against a background
	// context with no cancellation; the error is structurally
	// unreachable here.
	_ = v.sem.Acquire(context.Background(), 1)
}

func (v *VirtioBlk) release() { v.sem.Release(1) }

func (v *VirtioBlk) Read(buf []byte) (int, error) {
	v.acquire()
	defer v.release()
	return v.backing.Read(buf)
}

func (v *VirtioBlk) Write(buf []byte) (int, error) {
	v.acquire()
	defer v.release()
	return v.backing.Write(buf)
}

func (v *VirtioBlk) ReadAt(buf []byte, pos int64) (int, error) {
	v.acquire()
	defer v.release()
	return v.backing.ReadAt(buf, pos)
}

func (v *VirtioBlk) WriteAt(buf []byte, pos int64) (int, error) {
	v.acquire()
	defer v.release()
	return v.backing.WriteAt(buf, pos)
}

func (v *VirtioBlk) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	v.acquire()
	defer v.release()
	return v.backing.Cntl(cmd, arg)
}

func (v *VirtioBlk) AddRef() { v.backing.AddRef() }

func (v *VirtioBlk) Close() error { return v.backing.Close() }

// VirtioBlkDriver registers one shared VirtioBlk.
type VirtioBlkDriver struct{ Dev *VirtioBlk }

func (d *VirtioBlkDriver) Open() (ioobj.Object, error) {
	d.Dev.AddRef()
	return d.Dev, nil
}
