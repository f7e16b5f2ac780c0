// Copyright 2025 The varbox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vsb

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ffikit/varbox/pkg/common/malloc"
	"github.com/ffikit/varbox/pkg/common/util"
)

// entryHeader mirrors the common foreign idiom: a fixed header followed by
// a trailing array whose length lives in the header.
type entryHeader struct {
	Count uint32
	Items [0]uint32
}

func TestZeroedRoundTrip(t *testing.T) {
	for _, n := range []uint64{4, 16, 100, 4096, 2*malloc.MB + 1} {
		box := Zeroed[entryHeader](n)
		require.Equal(t, n, box.Len())
		require.Equal(t, make([]byte, n), box.Bytes(), "size %d", n)
		box.Free()
	}
}

func TestResizePreservesPrefix(t *testing.T) {
	box := New[entryHeader](64)
	defer box.Free()

	for i := range box.Bytes() {
		box.Bytes()[i] = byte(i)
	}
	snapshot := util.CloneBytes(box.Bytes())

	box.Resize(300)
	require.Equal(t, uint64(300), box.Len())
	require.Equal(t, snapshot, box.Bytes()[:64])

	box.Resize(16)
	require.Equal(t, uint64(16), box.Len())
	require.Equal(t, snapshot[:16], box.Bytes())
}

func TestZeroSizePanics(t *testing.T) {
	require.Panics(t, func() {
		New[entryHeader](0)
	})
	box := New[entryHeader](8)
	defer box.Free()
	require.Panics(t, func() {
		box.Resize(0)
	})
}

func TestSanitizeKeepsAddress(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	field := (*uint32)(unsafe.Pointer(&box.Header().Items))
	sanitized := Sanitize(box, field)
	require.Equal(t, uintptr(unsafe.Pointer(field)), uintptr(unsafe.Pointer(sanitized)))
}

func TestSanitizeRejectsForeignPointer(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	var elsewhere uint32
	require.Panics(t, func() {
		Sanitize(box, &elsewhere)
	})
}

func TestSliceFromCountBounds(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	field := (*uint32)(unsafe.Pointer(&box.Header().Items))

	// 4 bytes header + 3 * 4 bytes = 16, the exact fit succeeds
	items := SliceFromCount(box, field, 3)
	require.Len(t, items, 3)

	// one element over the end fails
	require.Panics(t, func() {
		SliceFromCount(box, field, 4)
	})

	// from the base, 4 elements fill the allocation exactly
	head := (*uint32)(box.UnsafePointer())
	require.Len(t, SliceFromCount(box, head, 4), 4)
	require.Panics(t, func() {
		SliceFromCount(box, head, 5)
	})
}

func TestEmptyTrailingArray(t *testing.T) {
	// header only, the foreign side reports zero trailing elements; the
	// array field then sits exactly at the end of the allocation
	box := Zeroed[entryHeader](4)
	defer box.Free()

	field := (*uint32)(unsafe.Pointer(&box.Header().Items))
	require.Len(t, SliceFromTotalBytes(box, field, 4), 0)
	require.Len(t, SliceFromCount(box, field, 0), 0)
	require.Len(t, SliceFromBytes(box, field, 0), 0)

	// the past-the-end position holds no element
	require.Panics(t, func() {
		SliceFromCount(box, field, 1)
	})
}

func TestSliceFromCountOverflow(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	head := (*uint32)(box.UnsafePointer())
	require.Panics(t, func() {
		// count * elemSize overflows uint64
		SliceFromCount(box, head, 1<<62)
	})
}

func TestSliceFromBytesDropsPartialElement(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	field := (*uint32)(unsafe.Pointer(&box.Header().Items))
	require.Len(t, SliceFromBytes(box, field, 11), 2)
	require.Len(t, SliceFromBytes(box, field, 12), 3)
}

func TestSliceFromTotalBytesUnderflow(t *testing.T) {
	box := Zeroed[entryHeader](16)
	defer box.Free()

	field := (*uint32)(unsafe.Pointer(&box.Header().Items))
	require.Panics(t, func() {
		// the total is smaller than the field's own offset
		SliceFromTotalBytes(box, field, 2)
	})
}

func TestHeaderWithTrailingArray(t *testing.T) {
	// 4-byte header plus room for 3 trailing uint32s
	box := Zeroed[entryHeader](16)
	defer box.Free()

	header := box.Header()
	header.Count = 3

	field := (*uint32)(unsafe.Pointer(&header.Items))
	items := SliceFromTotalBytes(box, field, 16)
	require.Len(t, items, 3)
	for _, v := range items {
		require.Zero(t, v)
	}

	items[0] = 7
	items[2] = 9

	// writes land at the right offsets after the header
	second := (*uint32)(unsafe.Add(box.UnsafePointer(), 8))
	*second = 8
	require.Equal(t, []uint32{7, 8, 9}, items)
	require.Equal(t, uint32(3), box.Header().Count)
}

func TestShrinkInvalidatesOldBounds(t *testing.T) {
	box := Zeroed[uint32](8)
	defer box.Free()

	box.Resize(4)
	require.Equal(t, uint64(4), box.Len())

	// two uint32s need 8 bytes, the allocation now holds 4
	head := box.Ptr()
	require.Len(t, SliceFromCount(box, head, 1), 1)
	require.Panics(t, func() {
		SliceFromCount(box, head, 2)
	})
}

func TestAlignmentStability(t *testing.T) {
	box := New[entryHeader](8)
	defer box.Free()

	align := uintptr(unsafe.Alignof(entryHeader{}))
	require.Zero(t, uintptr(box.UnsafePointer())%align)
	for _, n := range []uint64{24, 16, 1000, 3, 2 * malloc.MB} {
		box.Resize(n)
		require.Zero(t, uintptr(box.UnsafePointer())%align)
	}
}

func TestNoLeaksAcrossCycles(t *testing.T) {
	checked := malloc.NewCheckedAllocator(
		malloc.NewClassAllocator(malloc.NewFixedSizeMmapAllocator),
	)
	for i := 0; i < 2; i++ {
		box := ZeroedIn[entryHeader](checked, 64)
		require.Equal(t, int64(1), checked.LiveObjects())
		box.Free()
		require.Equal(t, int64(0), checked.LiveObjects())
		require.Equal(t, int64(0), checked.LiveBytes())
	}
}

func TestResizeDoesNotLeak(t *testing.T) {
	checked := malloc.NewCheckedAllocator(
		malloc.NewClassAllocator(malloc.NewFixedSizeMmapAllocator),
	)
	box := NewIn[entryHeader](checked, 16)
	box.Resize(1024)
	box.Resize(8)
	require.Equal(t, int64(1), checked.LiveObjects())
	box.Free()
	require.Equal(t, int64(0), checked.LiveObjects())
}

func TestFreeze(t *testing.T) {
	allocator := malloc.NewReadOnlyAllocator(
		malloc.NewClassAllocator(malloc.NewFixedSizeMmapAllocator),
	)

	box := ZeroedIn[entryHeader](allocator, 4096)
	box.Header().Count = 3
	require.True(t, box.Freeze())
	require.Equal(t, uint32(3), box.Header().Count)
	box.Free()

	// without the freeze decorator the box just stays writable
	box = Zeroed[entryHeader](16)
	defer box.Free()
	require.False(t, box.Freeze())
	box.Header().Count = 1
}

func TestUseAfterFree(t *testing.T) {
	box := Zeroed[entryHeader](16)
	box.Free()
	require.Panics(t, func() {
		box.Header()
	})
	require.Panics(t, func() {
		box.Free()
	})
	require.Panics(t, func() {
		box.Resize(32)
	})
}
