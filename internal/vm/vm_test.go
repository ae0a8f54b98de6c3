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

package vm_test

import (
	"testing"

	"github.com/rvos-dev/rvkernel/internal/pgalloc"
	"github.com/rvos-dev/rvkernel/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMem(t *testing.T) *vm.Memory {
	t.Helper()
	return vm.NewMemory(0, 4096)
}

func TestMapPageThenDataAtRoundTrips(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)

	require.NoError(t, ms.AllocAndMapRange(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU))

	data := ms.DataAt(vm.UmemStartVMA)
	require.NotNil(t, data)
	copy(data, []byte("hello"))
	assert.Equal(t, "hello", string(ms.DataAt(vm.UmemStartVMA)[:5]))
}

func TestMapPageRejectsMalformedVA(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)

	_, err = ms.MapPage(vm.VA(1)<<40, 0, vm.FlagR)
	assert.Error(t, err)
}

func TestMapPageIsNoOpIfLeafAlreadyExists(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)

	require.NoError(t, ms.AllocAndMapRange(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU))
	before := ms.DataAt(vm.UmemStartVMA)

	va, err := ms.MapPage(vm.UmemStartVMA, 999, vm.FlagR)
	require.NoError(t, err)
	assert.Equal(t, vm.UmemStartVMA, va)
	assert.Same(t, &before[0], &ms.DataAt(vm.UmemStartVMA)[0])
}

func TestAllocAndMapRangeThenUnmapRestoresFreeCount(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)
	before := mem.FreePageCount()

	const n = 10 * pgalloc.PageSize
	require.NoError(t, ms.AllocAndMapRange(vm.UmemStartVMA, n, vm.FlagR|vm.FlagW|vm.FlagU))
	require.Less(t, mem.FreePageCount(), before)

	require.NoError(t, ms.UnmapAndFreeRange(vm.UmemStartVMA, n))
	assert.Equal(t, before, mem.FreePageCount())
}

func TestHandleUserPageFaultOutsideUserMemoryIsFatal(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)

	assert.False(t, ms.HandleUserPageFault(0))
	assert.False(t, ms.HandleUserPageFault(vm.UmemEndVMA))
}

func TestHandleUserPageFaultMapsRWUPage(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)

	assert.True(t, ms.HandleUserPageFault(vm.UmemStartVMA+5))
	assert.NotNil(t, ms.DataAt(vm.UmemStartVMA))
}

func TestCloneIsIndependentOfParent(t *testing.T) {
	mem := newMem(t)
	parent, err := vm.NewMSpace(mem)
	require.NoError(t, err)
	require.NoError(t, parent.AllocAndMapRange(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU))
	copy(parent.DataAt(vm.UmemStartVMA), []byte("parent"))

	child, err := parent.Clone()
	require.NoError(t, err)
	assert.Equal(t, "parent", string(child.DataAt(vm.UmemStartVMA)[:6]))

	copy(parent.DataAt(vm.UmemStartVMA), []byte("mutate"))
	assert.Equal(t, "parent", string(child.DataAt(vm.UmemStartVMA)[:6]), "child must not observe parent's post-clone write")

	copy(child.DataAt(vm.UmemStartVMA), []byte("chchch"))
	assert.Equal(t, "mutate", string(parent.DataAt(vm.UmemStartVMA)[:6]), "parent must not observe child's write")
}

func TestCloneSharesGlobalMappingsByReference(t *testing.T) {
	mem := newMem(t)
	main, err := vm.NewMSpace(mem)
	require.NoError(t, err)
	require.NoError(t, main.AllocAndMapRange(0, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagG))

	child, err := main.Clone()
	require.NoError(t, err)

	copy(main.DataAt(0), []byte("kernel"))
	assert.Equal(t, "kernel", string(child.DataAt(0)[:6]), "global mappings are shared, not copied")
}

func TestResetPreservesGlobalsAndFreesUserMappings(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)
	require.NoError(t, ms.AllocAndMapRange(0, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagG))
	require.NoError(t, ms.AllocAndMapRange(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU))
	before := mem.FreePageCount()

	require.NoError(t, ms.Reset())

	assert.NotNil(t, ms.DataAt(0), "global mapping survives reset")
	assert.Nil(t, ms.DataAt(vm.UmemStartVMA), "user mapping freed by reset")
	assert.Greater(t, mem.FreePageCount(), before)
}

func TestSetRangeFlagsPreservesVAD(t *testing.T) {
	mem := newMem(t)
	ms, err := vm.NewMSpace(mem)
	require.NoError(t, err)
	require.NoError(t, ms.AllocAndMapRange(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagW|vm.FlagU))

	require.NoError(t, ms.SetRangeFlags(vm.UmemStartVMA, pgalloc.PageSize, vm.FlagR|vm.FlagU))
	// unmapped range is silently skipped, not an error
	require.NoError(t, ms.SetRangeFlags(vm.UmemStartVMA+pgalloc.PageSize, pgalloc.PageSize, vm.FlagR))
}

func TestWellFormed(t *testing.T) {
	assert.True(t, vm.WellFormed(0))
	assert.True(t, vm.WellFormed(vm.UmemStartVMA))
	assert.False(t, vm.WellFormed(vm.VA(1)<<40))
}
