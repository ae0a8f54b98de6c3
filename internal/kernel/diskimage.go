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

package kernel

import (
	"fmt"
	"os"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// diskImage is an ioobj.Object backed by a real *os.File: the host-side
// stand-in for VirtIO-blk's backing store when booting over a real image
// file instead of a test's *ioobj.MemObject.
type diskImage struct {
	mu   sync.Mutex
	f    *os.File
	refs int
}

// openDiskImage opens (or creates) the KTFS disk image at path for
// read/write use as VirtIO block device 0.
func openDiskImage(path string) (ioobj.Object, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening disk image %q: %w", path, err)
	}
	return &diskImage{f: f, refs: 1}, nil
}

func (d *diskImage) Read(buf []byte) (int, error) { return d.ReadAt(buf, 0) }

func (d *diskImage) Write(buf []byte) (int, error) { return d.WriteAt(buf, 0) }

func (d *diskImage) ReadAt(buf []byte, pos int64) (int, error) {
	n, err := d.f.ReadAt(buf, pos)
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (d *diskImage) WriteAt(buf []byte, pos int64) (int, error) {
	return d.f.WriteAt(buf, pos)
}

func (d *diskImage) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	switch cmd {
	case ioobj.GetBlockSize:
		return 1, nil
	case ioobj.GetEnd:
		fi, err := d.f.Stat()
		if err != nil {
			return 0, fmt.Errorf("kernel: stat disk image: %w", err)
		}
		return fi.Size(), nil
	case ioobj.SetEnd:
		if err := d.f.Truncate(arg); err != nil {
			return 0, fmt.Errorf("kernel: truncate disk image: %w", err)
		}
		return arg, nil
	default:
		return 0, fmt.Errorf("kernel: disk image cntl %d: %w", cmd, kerr.ErrUnsupported)
	}
}

func (d *diskImage) AddRef() {
	d.mu.Lock()
	d.refs++
	d.mu.Unlock()
}

func (d *diskImage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.refs > 0 {
		return nil
	}
	return d.f.Close()
}
