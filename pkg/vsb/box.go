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

// Package vsb provides a box for foreign structs whose size varies, most
// commonly a fixed header with a trailing array member whose length is
// carried by another header field or by an external source.
//
// The box owns exactly one allocation from a malloc.Allocator. Pointers and
// slices handed out by the accessors are borrows: they stay valid until the
// next Resize or Free, whichever comes first. The box itself is not safe
// for concurrent use.
package vsb

import (
	"fmt"
	"unsafe"

	"github.com/ffikit/varbox/pkg/common/malloc"
)

// Box holds a variable-sized allocation viewed through the nominal header
// type T. T contributes only its layout; the allocation is sized in bytes
// and may be smaller or larger than T.
type Box[T any] struct {
	size      uint64
	buf       []byte
	base      unsafe.Pointer
	dec       malloc.Deallocator
	allocator malloc.Allocator
}

// New allocates size bytes with unspecified contents. Allocation failure is
// not recoverable and panics, matching the allocator's out-of-memory
// contract.
func New[T any](size uint64) *Box[T] {
	return NewIn[T](malloc.GetDefault(nil), size)
}

// Zeroed allocates size bytes, all zero.
func Zeroed[T any](size uint64) *Box[T] {
	return ZeroedIn[T](malloc.GetDefault(nil), size)
}

// NewIn is New with an explicit allocator. The box keeps using the same
// allocator for Resize.
func NewIn[T any](allocator malloc.Allocator, size uint64) *Box[T] {
	return newBox[T](allocator, size, malloc.NoClear)
}

// ZeroedIn is Zeroed with an explicit allocator.
func ZeroedIn[T any](allocator malloc.Allocator, size uint64) *Box[T] {
	return newBox[T](allocator, size, malloc.NoHints)
}

func newBox[T any](allocator malloc.Allocator, size uint64, hints malloc.Hints) *Box[T] {
	buf, dec := mustAllocate(allocator, size, hints)
	b := &Box[T]{
		size:      size,
		buf:       buf,
		base:      unsafe.Pointer(unsafe.SliceData(buf)),
		dec:       dec,
		allocator: allocator,
	}
	b.checkAlignment()
	return b
}

func mustAllocate(allocator malloc.Allocator, size uint64, hints malloc.Hints) ([]byte, malloc.Deallocator) {
	if size == 0 {
		panic("vsb: zero-sized allocation")
	}
	buf, dec, err := allocator.Allocate(size, hints)
	if err != nil {
		// out-of-memory is not locally recoverable
		panic(fmt.Sprintf("vsb: allocating %d bytes: %v", size, err))
	}
	return buf, dec
}

func (b *Box[T]) checkAlignment() {
	var zero T
	if align := unsafe.Alignof(zero); uintptr(b.base)%align != 0 {
		panic(fmt.Sprintf("vsb: allocation at %p not aligned to %d", b.base, align))
	}
}

func (b *Box[T]) mustLive() {
	if b.base == nil {
		panic("vsb: use of freed box")
	}
}

// Len is the length of the allocation in bytes.
func (b *Box[T]) Len() uint64 {
	return b.size
}

// Ptr returns the start of the allocation typed as the header, for passing
// to foreign calls. No validity checking of any kind.
func (b *Box[T]) Ptr() *T {
	b.mustLive()
	return (*T)(b.base)
}

// UnsafePointer returns the start of the allocation untyped.
func (b *Box[T]) UnsafePointer() unsafe.Pointer {
	b.mustLive()
	return b.base
}

// Header views the start of the allocation as a T, for access to the fixed
// size fields. The bytes there must currently hold a valid T; the box does
// not and cannot check this.
func (b *Box[T]) Header() *T {
	b.mustLive()
	return (*T)(b.base)
}

// Bytes views the whole allocation. Same borrow rules as every other
// accessor: invalid after Resize or Free.
func (b *Box[T]) Bytes() []byte {
	b.mustLive()
	return b.buf[:b.size]
}

// Resize grows or shrinks the allocation to size bytes, preserving the
// first min(old, new) bytes. Bytes beyond the old length have unspecified
// contents; callers needing zeroes must clear them. The backing memory may
// move, which invalidates everything previously returned by the accessors.
func (b *Box[T]) Resize(size uint64) {
	b.mustLive()
	if size == b.size {
		return
	}
	buf, dec := mustAllocate(b.allocator, size, malloc.NoClear)
	copy(buf, b.buf[:min(b.size, size)])
	b.dec.Deallocate(malloc.NoHints)
	b.size = size
	b.buf = buf
	b.base = unsafe.Pointer(unsafe.SliceData(buf))
	b.dec = dec
	b.checkAlignment()
}

// Freeze write-protects the allocation, typically after a foreign call has
// filled it, so a stray late write faults instead of corrupting the data.
// Returns false when the allocator cannot protect this allocation; the box
// stays writable then. Requires an allocator wrapped in
// malloc.ReadOnlyAllocator. Free restores write access.
func (b *Box[T]) Freeze() bool {
	b.mustLive()
	var freeze malloc.Freeze
	if !b.dec.As(&freeze) {
		return false
	}
	return freeze.Freeze()
}

// Free releases the allocation. Must be called exactly once; any use of the
// box or of previously returned pointers and slices after Free is invalid.
func (b *Box[T]) Free() {
	b.mustLive()
	b.dec.Deallocate(malloc.NoHints)
	b.size = 0
	b.buf = nil
	b.base = nil
	b.dec = nil
}
