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

package process

// TrapFrame is a fixed, C-layout-shaped register snapshot: a hardware
// trap-entry assembly would fill one from the hart's registers on ecall,
// and trap-exit assembly would consume one to resume user execution. Every
// syscall handler receives a pointer to the live frame and writes its
// result into A[0].
type TrapFrame struct {
	Epc    uint64 // sepc: resume address, advanced by 4 past the ecall before dispatch
	Sp     uint64
	Status uint64    // sstatus: previous-mode/previous-IE bits
	A      [8]uint64 // a0..a7; a7 carries the syscall number, a0..a5 its arguments
}

// SyscallNum reads a7.
func (tf *TrapFrame) SyscallNum() int64 { return int64(tf.A[7]) }

// Arg reads a0..a7 by index.
func (tf *TrapFrame) Arg(i int) int64 { return int64(tf.A[i]) }

// SetResult writes the syscall's return value into a0.
func (tf *TrapFrame) SetResult(v int64) { tf.A[0] = uint64(v) }

// sstatus bit positions this simulator cares about: SPP (previous
// privilege mode) and SPIE (previous interrupt-enable). Real bit offsets
// are irrelevant since nothing outside this package inspects Status; what
// matters is that exec/fork set it consistently.
const (
	statusPrevUser = 0
	statusPrevIE   = 1 << 5
)
