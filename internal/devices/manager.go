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

// Package devices is the kernel's device contract:
// drivers register under a (name, instance) pair, devopen resolves the
// pair to a driver and hands back an ioobj.Object, and the PLIC tracks
// which sources have been enabled. UART, RTC, VirtIO-blk, and VirtIO-rng
// are simulated in-process rather than against real hardware: a ring
// buffer standing in for the UART, crypto/rand standing in
// for the entropy source, and any ioobj.Object (typically an *os.File or
// *ioobj.MemObject) standing in for the block device's backing image.
package devices

import (
	"fmt"
	"sync"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/thread"
)

// Driver is implemented by every device's registration entry. Open is
// called once per devopen; most drivers hand back a reference to one
// shared underlying device rather than constructing a new one.
type Driver interface {
	Open() (ioobj.Object, error)
}

type key struct {
	name     string
	instance int
}

// Manager is the kernel's device registry: drivers indexed by (name,
// instance), plus the PLIC whose sources devopen enables on a successful
// open.
type Manager struct {
	mu      sync.Mutex
	drivers map[key]Driver
	plic    *PLIC
}

// NewManager creates an empty device registry with its own PLIC.
func NewManager() *Manager {
	return &Manager{drivers: make(map[key]Driver), plic: NewPLIC()}
}

// Register installs a driver under (name, instance). Registering the same
// pair twice replaces the previous driver, the same way a hardware rescan
// would.
func (m *Manager) Register(name string, instance int, d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[key{name, instance}] = d
}

// PLIC returns the manager's interrupt controller, for callers that need
// to inspect or claim an interrupt source directly.
func (m *Manager) PLIC() *PLIC { return m.plic }

// Open implements devopen resolution: finds the driver registered for
// name#instance, calls its open routine, and enables the device's PLIC
// source on success.
func (m *Manager) Open(name string, instance int) (ioobj.Object, error) {
	m.mu.Lock()
	d, ok := m.drivers[key{name, instance}]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("devices: no driver registered for %q#%d: %w", name, instance, kerr.ErrNoSuchEntry)
	}

	obj, err := d.Open()
	if err != nil {
		return nil, err
	}
	m.plic.EnableSource(name, instance)
	return obj, nil
}

func mustCurrent(s *thread.Scheduler) *thread.Thread {
	self := s.Current()
	if self == nil {
		panic("devices: called with no current thread")
	}
	return self
}
