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

// Package ioobj is the kernel's I/O object model: a single interface every
// readable/writable kernel entity — a pipe endpoint, a device, a KTFS file
// — implements, plus the memory-backed and seekable building blocks other
// subsystems wrap around their own backing store.
package ioobj

import (
	"fmt"

	"github.com/rvos-dev/rvkernel/internal/kerr"
)

// Cmd is a cntl command.
type Cmd int

const (
	GetBlockSize Cmd = iota
	GetPos
	SetPos
	GetEnd
	SetEnd
)

// Object is the universal I/O vtable. Not every method need do something
// useful for every implementation — an object that has no sensible answer
// for a call returns kerr.ErrUnsupported rather than omitting the method,
// since Go interfaces can't express "this slot is absent" the way a C
// vtable with null function pointers can.
type Object interface {
	// Read transfers up to len(buf) bytes at the object's current
	// position (only meaningful for Seekable-wrapped objects; others may
	// treat every Read as starting at 0). Short reads are allowed. n==0
	// returns (0, nil).
	Read(buf []byte) (n int, err error)

	// Write transfers all of buf, retrying internally until either every
	// byte is written, an error occurs, or a call makes zero progress.
	Write(buf []byte) (n int, err error)

	// ReadAt and WriteAt are random access at an explicit byte offset.
	ReadAt(buf []byte, pos int64) (n int, err error)
	WriteAt(buf []byte, pos int64) (n int, err error)

	// Cntl implements the cmd set documented on the Cmd constants.
	// GetPos/SetPos are only meaningful on a Seekable; GetEnd/SetEnd on
	// anything with a notion of size.
	Cntl(cmd Cmd, arg int64) (result int64, err error)

	// AddRef increments the object's reference count.
	AddRef()

	// Close decrements the reference count, releasing backing resources
	// once it reaches zero.
	Close() error
}

// errNotSeekable is returned by Cntl(GetPos/SetPos, ...) on an Object that
// has no current-position concept of its own (only Seekable does).
var errNotSeekable = fmt.Errorf("object has no position: %w", kerr.ErrUnsupported)
