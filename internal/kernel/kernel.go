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

// Package kernel is the boot sequence: it wires every subsystem package in
// dependency order (phys-page allocator, page tables, threads, devices,
// block cache, KTFS, process table, syscall dispatch) into one running
// instance. This repository is a hosted kernel simulator: Boot stops at
// the point a real trap-entry assembly would transfer control to user
// mode.
package kernel

import (
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/rvos-dev/rvkernel/cfg"
	"github.com/rvos-dev/rvkernel/internal/devices"
	"github.com/rvos-dev/rvkernel/internal/ioobj"
	"github.com/rvos-dev/rvkernel/internal/ktfs"
	"github.com/rvos-dev/rvkernel/internal/logger"
	"github.com/rvos-dev/rvkernel/internal/metrics"
	"github.com/rvos-dev/rvkernel/internal/pgalloc"
	"github.com/rvos-dev/rvkernel/internal/process"
	"github.com/rvos-dev/rvkernel/internal/thread"
	"github.com/rvos-dev/rvkernel/internal/vm"
)

// physMemoryPages is the physical page budget the simulator's phys-page
// allocator carves pages from ("fixed physical range"). 64 MiB is generous
// for a handful of cooperating kernel threads and a small KTFS image.
const physMemoryPages = 16384 // 64 MiB at PageSize=4096

// Kernel is a fully booted instance: every subsystem package in dependency
// order, wired together and ready to run user threads.
type Kernel struct {
	Memory     *vm.Memory
	MainMSpace *vm.MSpace
	Scheduler  *thread.Scheduler
	Devices    *devices.Manager
	FS         *ktfs.FS
	Procs      *process.Table
	Dispatcher *process.Dispatcher
	Metrics    metrics.Handle

	mainProc *process.Process
	disk     ioobj.Object
}

// Boot runs the boot protocol: constructs physical memory and the main address
// space, spawns the device registry (UART, RTC, VirtIO-rng, VirtIO-blk#0),
// mounts VirtIO-blk#0 as KTFS, opens the configured program, and execs it
// into the main process. It returns the booted Kernel plus the TrapFrame a
// real trap-exit layer would resume user execution from.
func Boot(c cfg.Config) (*Kernel, *process.TrapFrame, error) {
	logger.Infof("rvkernel: booting, ram=%d pages (%d bytes), disk=%q, program=%q",
		physMemoryPages, physMemoryPages*pgalloc.PageSize, c.Disk, c.Program)

	mem := vm.NewMemory(0, physMemoryPages)
	mainMS, err := vm.NewMSpace(mem)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: creating main address space: %w", err)
	}
	logger.Infof("rvkernel: kernel image mapped, main mspace root=%d", mainMS.Root())

	m := metrics.Handle(metrics.NewNoopHandle())
	if c.Metrics.Addr != "" {
		m = metrics.NewPrometheusHandle(defaultRegistry())
	}

	sched := thread.NewScheduler(m)

	devmgr := devices.NewManager()
	uart := devices.NewUART(sched, func(b byte) { os.Stdout.Write([]byte{b}) })
	devmgr.Register("uart", 0, &devices.UARTDriver{Dev: uart})
	devmgr.Register("rtc", 0, &devices.RTCDriver{Dev: devices.NewRTC(nil)})
	devmgr.Register("rng", 0, &devices.RngDriver{Dev: devices.NewRng()})

	if err := runDeviceISRs(); err != nil {
		return nil, nil, fmt.Errorf("kernel: starting device ISRs: %w", err)
	}

	disk, err := openDiskImage(c.Disk)
	if err != nil {
		return nil, nil, err
	}
	blk := devices.NewVirtioBlk(disk)
	devmgr.Register("vioblk", 0, &devices.VirtioBlkDriver{Dev: blk})

	fs, err := ktfs.Mount(sched, blk, m)
	if err != nil {
		disk.Close()
		return nil, nil, fmt.Errorf("kernel: mounting ktfs over vioblk#0: %w", err)
	}
	logger.Infof("rvkernel: mounted ktfs over vioblk#0")

	proctab := process.NewTable(sched, mainMS, fs, devmgr, c.NumProcs, m)
	mainProc := proctab.Bootstrap()

	exe, err := fs.Open(c.Program)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: opening %q: %w", c.Program, err)
	}

	tf := &process.TrapFrame{}
	if err := proctab.Exec(mainProc, exe, []string{c.Program}, tf); err != nil {
		return nil, nil, fmt.Errorf("kernel: exec %q: %w", c.Program, err)
	}
	logger.Infof("rvkernel: exec'd %q, entry=%#x sp=%#x", c.Program, tf.Epc, tf.Sp)
	m.SetFreePages(int64(mem.FreePageCount()))

	dispatcher := process.NewDispatcher(proctab, consoleSink(uart), sleepFn)

	return &Kernel{
		Memory:     mem,
		MainMSpace: mainMS,
		Scheduler:  sched,
		Devices:    devmgr,
		FS:         fs,
		Procs:      proctab,
		Dispatcher: dispatcher,
		Metrics:    m,
		mainProc:   mainProc,
		disk:       disk,
	}, tf, nil
}

// consoleSink implements the print syscall's console by writing through
// the simulated UART, the same sink devopen("uart", 0) hands out, rather
// than a second, unrelated side channel.
func consoleSink(uart *devices.UART) func(string) {
	return func(s string) {
		_, _ = uart.Write([]byte(s + "\n"))
	}
}

// sleepFn implements usleep by blocking the calling goroutine directly.
// There is no alarm/timer subsystem in scope; a real implementation would
// arm a timer and wait on a condition the ISR broadcasts.
func sleepFn(_ *thread.Thread, micros int64) {
	if micros <= 0 {
		return
	}
	sleepMicros(micros)
}

// Shutdown flushes the filesystem and releases the backing disk image,
// mirroring exit's "flush the filesystem" step performed once for the
// whole simulator rather than per process.
func (k *Kernel) Shutdown() error {
	if err := k.FS.Flush(); err != nil {
		return fmt.Errorf("kernel: flushing ktfs on shutdown: %w", err)
	}
	return k.disk.Close()
}

// MainProcess returns the boot-time main process (process table index 0),
// the one process that must never exit.
func (k *Kernel) MainProcess() *process.Process { return k.mainProc }

// runDeviceISRs is a placeholder hook for a future real trap layer: boot
// would start one goroutine per device here via an errgroup so a setup
// failure in any device aborts boot atomically. The simulated devices in
// internal/devices need no background ISR goroutine of their own
// (uart.Write and rng.Read run synchronously), so this group currently has
// nothing to run; it exists so adding a real ISR-driven device only means
// adding one more g.Go call.
func runDeviceISRs() error {
	var g errgroup.Group
	return g.Wait()
}
