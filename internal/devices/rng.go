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
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// Rng simulates a VirtIO entropy source: every read is filled from
// crypto/rand, standing in for the hypervisor's entropy backend.
type Rng struct {
	mu   sync.Mutex
	refs int
}

// NewRng creates an Rng device.
func NewRng() *Rng { return &Rng{refs: 1} }

func (g *Rng) Read(buf []byte) (int, error) { return rand.Read(buf) }

func (g *Rng) ReadAt(buf []byte, pos int64) (int, error) { return g.Read(buf) }

func (g *Rng) Write([]byte) (int, error) {
	return 0, fmt.Errorf("devices: rng write: %w", kerr.ErrUnsupported)
}

func (g *Rng) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("devices: rng writeat: %w", kerr.ErrUnsupported)
}

func (g *Rng) Cntl(cmd ioobj.Cmd, arg int64) (int64, error) {
	return 0, fmt.Errorf("devices: rng cntl %d: %w", cmd, kerr.ErrUnsupported)
}

func (g *Rng) AddRef() {
	g.mu.Lock()
	g.refs++
	g.mu.Unlock()
}

func (g *Rng) Close() error {
	g.mu.Lock()
	g.refs--
	g.mu.Unlock()
	return nil
}

// RngDriver registers one shared Rng.
type RngDriver struct{ Dev *Rng }

func (d *RngDriver) Open() (ioobj.Object, error) {
	d.Dev.AddRef()
	return d.Dev, nil
}
