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

import (
	"encoding/binary"
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/kerr"
	"github.com/rvos-dev/rvkernel/internal/logger"
	"github.com/rvos-dev/rvkernel/internal/pgalloc"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/rvos-dev/rvkernel/internal/vm"
)

// Syscall numbers, fixed across user and kernel.
const (
	SysExit = iota
	SysExec
	SysFork
	SysWait
	SysUsleep
	SysPrint
	SysDevOpen
	SysFSOpen
	SysClose
	SysRead
	SysWrite
	SysIoctl
	SysFSCreate
	SysFSDelete
	SysPipe
	SysIODup
)

const maxCStringLen = 256

// Dispatcher is the kernel's syscall dispatch table: it advances sepc,
// reads a7, and routes to the table's operations, marshalling arguments to
// and from user memory where the contract passes pointers.
type Dispatcher struct {
	table   *Table
	console func(line string)
	sleep   func(self *thread.Thread, micros int64)
}

// NewDispatcher builds a Dispatcher over table. console implements the
// print syscall's output sink; sleep implements usleep (standing in for
// the alarm subsystem a real timer ISR would drive).
func NewDispatcher(table *Table, console func(string), sleep func(*thread.Thread, int64)) *Dispatcher {
	return &Dispatcher{table: table, console: console, sleep: sleep}
}

// Dispatch implements syscall dispatch: advances sepc by 4, reads the
// syscall number from a7, routes to the matching operation, and writes the
// result into a0. Unknown numbers return "unsupported".
func (d *Dispatcher) Dispatch(self *thread.Thread, proc *Process, tf *TrapFrame) {
	tf.Epc += 4

	switch tf.SyscallNum() {
	case SysExit:
		d.table.Exit(self, proc)

	case SysExec:
		tf.SetResult(d.sysExec(proc, tf))

	case SysFork:
		tf.SetResult(d.sysFork(self, proc, tf))

	case SysWait:
		tid, err := d.table.Wait(self, proc, tf.Arg(0))
		if err != nil {
			tf.SetResult(int64(kerr.Errno(err)))
		} else {
			tf.SetResult(tid)
		}

	case SysUsleep:
		if d.sleep != nil {
			d.sleep(self, tf.Arg(0))
		}
		tf.SetResult(0)

	case SysPrint:
		tf.SetResult(d.sysPrint(self, proc, tf))

	case SysDevOpen:
		tf.SetResult(d.sysDevOpen(proc, tf))

	case SysFSOpen:
		tf.SetResult(d.sysFSOpen(proc, tf))

	case SysClose:
		if err := d.table.Close(proc, int(tf.Arg(0))); err != nil {
			tf.SetResult(int64(kerr.Errno(err)))
		} else {
			tf.SetResult(0)
		}

	case SysRead:
		tf.SetResult(d.sysRead(proc, tf))

	case SysWrite:
		tf.SetResult(d.sysWrite(proc, tf))

	case SysIoctl:
		result, err := d.table.Ioctl(proc, int(tf.Arg(0)), ioobj.Cmd(tf.Arg(1)), tf.Arg(2))
		if err != nil {
			tf.SetResult(int64(kerr.Errno(err)))
		} else {
			tf.SetResult(result)
		}

	case SysFSCreate:
		name, err := readUserCString(proc.mspace, vm.VA(tf.Arg(0)), maxCStringLen)
		if err == nil {
			err = d.table.FSCreate(name)
		}
		tf.SetResult(int64(kerr.Errno(err)))

	case SysFSDelete:
		name, err := readUserCString(proc.mspace, vm.VA(tf.Arg(0)), maxCStringLen)
		if err == nil {
			err = d.table.FSDelete(name)
		}
		tf.SetResult(int64(kerr.Errno(err)))

	case SysPipe:
		tf.SetResult(d.sysPipe(proc, tf))

	case SysIODup:
		fd, err := d.table.IODup(proc, int(tf.Arg(0)), tf.Arg(1))
		if err != nil {
			tf.SetResult(int64(kerr.Errno(err)))
		} else {
			tf.SetResult(int64(fd))
		}

	default:
		tf.SetResult(int64(kerr.Errno(kerr.ErrUnsupported)))
	}
}

// sysExec implements the exec syscall: fd names the already-open
// executable, argc/argv a user-memory pointer array of C strings. Closes
// fd on success, matching "closes fd on success".
func (d *Dispatcher) sysExec(proc *Process, tf *TrapFrame) int64 {
	fd := int(tf.Arg(0))
	if err := proc.validFD(fd); err != nil {
		return int64(kerr.Errno(err))
	}
	argv, err := readUserArgv(proc.mspace, vm.VA(tf.Arg(2)), int(tf.Arg(1)))
	if err != nil {
		return int64(kerr.Errno(err))
	}

	exe := proc.iotab[fd]
	if err := d.table.Exec(proc, exe, argv, tf); err != nil {
		return int64(kerr.Errno(err))
	}
	proc.iotab[fd] = nil
	if err := exe.Close(); err != nil {
		logger.Warnf("process: exec: closing fd %d: %v", fd, err)
	}
	return 0
}

// sysFork implements the fork syscall. It passes no onChildResume to Fork,
// so the child thread's body does nothing: the child exits as soon as the
// scheduler first runs it, and nothing here resumes it in user mode.
func (d *Dispatcher) sysFork(self *thread.Thread, proc *Process, tf *TrapFrame) int64 {
	childID, err := d.table.Fork(proc, tf, nil)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	return int64(childID)
}

func (d *Dispatcher) sysPrint(self *thread.Thread, proc *Process, tf *TrapFrame) int64 {
	s, err := readUserCString(proc.mspace, vm.VA(tf.Arg(0)), maxCStringLen)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	if d.console != nil {
		d.console(fmt.Sprintf("<%s:%d> says: %s", self.Name(), self.ID(), s))
	}
	return 0
}

func (d *Dispatcher) sysDevOpen(proc *Process, tf *TrapFrame) int64 {
	name, err := readUserCString(proc.mspace, vm.VA(tf.Arg(1)), maxCStringLen)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	fd, err := d.table.DevOpen(proc, tf.Arg(0), name, int(tf.Arg(2)))
	if err != nil {
		return int64(kerr.Errno(err))
	}
	return int64(fd)
}

func (d *Dispatcher) sysFSOpen(proc *Process, tf *TrapFrame) int64 {
	name, err := readUserCString(proc.mspace, vm.VA(tf.Arg(1)), maxCStringLen)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	fd, err := d.table.FSOpen(proc, tf.Arg(0), name)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	return int64(fd)
}

func (d *Dispatcher) sysRead(proc *Process, tf *TrapFrame) int64 {
	fd := int(tf.Arg(0))
	n := int(tf.Arg(2))
	buf := make([]byte, n)
	read, err := d.table.Read(proc, fd, buf)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	if err := copyToUser(proc.mspace, vm.VA(tf.Arg(1)), buf[:read]); err != nil {
		return int64(kerr.Errno(err))
	}
	return int64(read)
}

func (d *Dispatcher) sysWrite(proc *Process, tf *TrapFrame) int64 {
	fd := int(tf.Arg(0))
	n := int(tf.Arg(2))
	buf, err := copyFromUser(proc.mspace, vm.VA(tf.Arg(1)), n)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	written, err := d.table.Write(proc, fd, buf)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	return int64(written)
}

func (d *Dispatcher) sysPipe(proc *Process, tf *TrapFrame) int64 {
	wfd, rfd, err := d.table.Pipe(proc)
	if err != nil {
		return int64(kerr.Errno(err))
	}
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], uint64(wfd))
	binary.LittleEndian.PutUint64(out[8:16], uint64(rfd))
	if err := copyToUser(proc.mspace, vm.VA(tf.Arg(0)), out[:]); err != nil {
		return int64(kerr.Errno(err))
	}
	return 0
}

// userCopy transfers buf to or from the n bytes of user memory starting at
// va, crossing page boundaries as needed.
func userCopy(mspace *vm.MSpace, va vm.VA, buf []byte, toUser bool) error {
	done := 0
	for done < len(buf) {
		cur := va + vm.VA(done)
		page := mspace.DataAt(cur)
		if page == nil {
			return fmt.Errorf("process: user address %#x unmapped: %w", cur, kerr.ErrInvalidArgument)
		}
		within := int(cur) & (pgalloc.PageSize - 1)
		n := pgalloc.PageSize - within
		if remain := len(buf) - done; n > remain {
			n = remain
		}
		if toUser {
			copy(page[within:within+n], buf[done:done+n])
		} else {
			copy(buf[done:done+n], page[within:within+n])
		}
		done += n
	}
	return nil
}

func copyFromUser(mspace *vm.MSpace, va vm.VA, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := userCopy(mspace, va, buf, false); err != nil {
		return nil, err
	}
	return buf, nil
}

func copyToUser(mspace *vm.MSpace, va vm.VA, buf []byte) error {
	return userCopy(mspace, va, buf, true)
}

// readUserCString reads a NUL-terminated string from user memory, up to
// maxLen bytes.
func readUserCString(mspace *vm.MSpace, va vm.VA, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b, err := copyFromUser(mspace, va+vm.VA(i), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", fmt.Errorf("process: string at %#x exceeds %d bytes: %w", va, maxLen, kerr.ErrInvalidArgument)
}

// readUserArgv reads an argc-length array of 8-byte user pointers starting
// at argvVA, then reads each pointed-to C string.
func readUserArgv(mspace *vm.MSpace, argvVA vm.VA, argc int) ([]string, error) {
	if argc < 0 {
		return nil, fmt.Errorf("process: negative argc: %w", kerr.ErrInvalidArgument)
	}
	argv := make([]string, argc)
	for i := 0; i < argc; i++ {
		ptrBuf, err := copyFromUser(mspace, argvVA+vm.VA(i*8), 8)
		if err != nil {
			return nil, err
		}
		strVA := vm.VA(binary.LittleEndian.Uint64(ptrBuf))
		s, err := readUserCString(mspace, strVA, maxCStringLen)
		if err != nil {
			return nil, err
		}
		argv[i] = s
	}
	return argv, nil
}
