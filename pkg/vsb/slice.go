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
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// Sanitize re-derives a pointer into the box's allocation from the box's
// own base pointer. A pointer obtained through a Header borrow carries the
// borrow's provenance; re-basing it on the allocation keeps slices built
// from it valid for the box's whole lifetime. The address itself does not
// change. p must point into the allocation or one past its end; the
// past-the-end position is where a trailing array with zero elements
// lives, and is only valid to slice with length zero, never to
// dereference.
func Sanitize[U any, T any](b *Box[T], p *U) *U {
	b.mustLive()
	offset := uintptr(unsafe.Pointer(p)) - uintptr(b.base)
	// a pointer below base wraps around and fails the same check
	if uint64(offset) > b.size {
		panic(fmt.Sprintf("vsb: pointer %p outside allocation [%p, %p]",
			p, b.base, unsafe.Add(b.base, b.size)))
	}
	return (*U)(unsafe.Add(b.base, offset))
}

// SliceFromCount views count elements of type U starting at the trailing
// array field p. The whole span must lie within the allocation; a violation
// means the caller's idea of the foreign layout is wrong, and continuing
// would touch adjacent heap memory, so it panics instead.
func SliceFromCount[U any, T any](b *Box[T], p *U, count uint64) []U {
	ptr := Sanitize(b, p)
	offset := uint64(uintptr(unsafe.Pointer(ptr)) - uintptr(b.base))

	var zero U
	elemSize := uint64(unsafe.Sizeof(zero))
	hi, spanBytes := bits.Mul64(count, elemSize)
	if hi != 0 || spanBytes > b.size {
		panic(fmt.Sprintf("vsb: %d elements of %d bytes exceed allocation of %d bytes",
			count, elemSize, b.size))
	}
	if offset+spanBytes > b.size {
		panic(fmt.Sprintf("vsb: slice [%d, %d) out of bounds of allocation of %d bytes",
			offset, offset+spanBytes, b.size))
	}
	if count > math.MaxInt {
		panic(fmt.Sprintf("vsb: element count %d overflows int", count))
	}
	return unsafe.Slice(ptr, int(count))
}

// SliceFromBytes is SliceFromCount with the array length given in bytes,
// the way many foreign APIs report it. A trailing partial element is
// dropped.
func SliceFromBytes[U any, T any](b *Box[T], p *U, byteLen uint64) []U {
	var zero U
	elemSize := uint64(unsafe.Sizeof(zero))
	if elemSize == 0 {
		panic("vsb: zero-sized element type")
	}
	return SliceFromCount(b, p, byteLen/elemSize)
}

// SliceFromTotalBytes is SliceFromCount for the idiom where the foreign API
// reports the size of the whole struct including the trailing array. A
// total smaller than the field's offset is malformed input from the foreign
// side and panics rather than wrapping around.
func SliceFromTotalBytes[U any, T any](b *Box[T], p *U, totalBytes uint64) []U {
	ptr := Sanitize(b, p)
	offset := uint64(uintptr(unsafe.Pointer(ptr)) - uintptr(b.base))
	if totalBytes < offset {
		panic(fmt.Sprintf("vsb: total struct size %d smaller than field offset %d",
			totalBytes, offset))
	}
	return SliceFromBytes(b, ptr, totalBytes-offset)
}
