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
	"fmt"
	"sync"
)

// PLIC is a minimal stand-in for the platform-level interrupt controller:
// a set of enabled sources plus the claim/complete protocol a device's ISR
// uses to serialize on one pending interrupt at a time. There is no real
// interrupt delivery in this simulation: ISR goroutines call
// Claim/Complete directly instead of being woken by a trap.
type PLIC struct {
	mu      sync.Mutex
	enabled map[string]bool
	pending map[string]bool
}

// NewPLIC creates a PLIC with no sources enabled.
func NewPLIC() *PLIC {
	return &PLIC{enabled: make(map[string]bool), pending: make(map[string]bool)}
}

func sourceKey(name string, instance int) string {
	return fmt.Sprintf("%s#%d", name, instance)
}

// EnableSource marks name#instance as enabled, the effect devopen has on a
// device's PLIC source.
func (p *PLIC) EnableSource(name string, instance int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[sourceKey(name, instance)] = true
}

// IsEnabled reports whether name#instance has been enabled.
func (p *PLIC) IsEnabled(name string, instance int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[sourceKey(name, instance)]
}

// Raise marks name#instance pending, standing in for the device asserting
// its interrupt line.
func (p *PLIC) Raise(name string, instance int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled[sourceKey(name, instance)] {
		p.pending[sourceKey(name, instance)] = true
	}
}

// Claim clears and returns whether name#instance was pending, the claim
// half of the PLIC's claim/complete protocol.
func (p *PLIC) Claim(name string, instance int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := sourceKey(name, instance)
	if !p.pending[key] {
		return false
	}
	delete(p.pending, key)
	return true
}

// Complete is a no-op placeholder for the complete half of the protocol:
// this simulation has no interrupt priority threshold to restore, but
// callers still pair every Claim with a Complete to keep the ISR shape the
// same as real PLIC-driven code.
func (p *PLIC) Complete(name string, instance int) {}
