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

package malloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	minClassSize = 128
	maxClassSize = 1 * MB
)

type Class[T FixedSizeAllocator] struct {
	size      uint64
	allocator T
}

// ClassAllocator rounds each request up to a power-of-two size class and
// delegates to the class's fixed-size allocator. Requests above the largest
// class get a dedicated mapping.
type ClassAllocator[T FixedSizeAllocator] struct {
	classes         []Class[T]
	deallocatorPool *ClosureDeallocatorPool[largeMmapDeallocatorArgs, *largeMmapDeallocatorArgs]
}

type largeMmapDeallocatorArgs struct {
	mem []byte
}

func (l largeMmapDeallocatorArgs) As(trait Trait) bool {
	if info, ok := trait.(*MmapInfo); ok {
		info.Addr = unsafe.Pointer(unsafe.SliceData(l.mem))
		info.Length = uint64(len(l.mem))
		return true
	}
	return false
}

func NewClassAllocator[T FixedSizeAllocator](
	newAllocator func(size uint64) T,
) *ClassAllocator[T] {
	ret := &ClassAllocator[T]{
		deallocatorPool: NewClosureDeallocatorPool(
			func(hints Hints, args *largeMmapDeallocatorArgs) {
				if err := unix.Munmap(args.mem); err != nil {
					panic(err)
				}
			},
		),
	}
	for size := uint64(minClassSize); size <= maxClassSize; size *= 2 {
		ret.classes = append(ret.classes, Class[T]{
			size:      size,
			allocator: newAllocator(size),
		})
	}
	return ret
}

var _ Allocator = new(ClassAllocator[FixedSizeAllocator])

func (c *ClassAllocator[T]) Allocate(size uint64, hints Hints) ([]byte, Deallocator, error) {
	if size == 0 {
		panic("invalid size: 0")
	}
	for _, class := range c.classes {
		if class.size >= size {
			slice, dec, err := class.allocator.Allocate(hints, size)
			if err != nil {
				return nil, nil, err
			}
			return slice[:size], dec, nil
		}
	}
	return c.allocateLarge(size, hints)
}

func (c *ClassAllocator[T]) allocateLarge(size uint64, hints Hints) ([]byte, Deallocator, error) {
	slice, err := unix.Mmap(
		-1, 0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, nil, err
	}
	// fresh anonymous pages are already zero
	return slice[:size], c.deallocatorPool.Get(largeMmapDeallocatorArgs{
		mem: slice,
	}), nil
}
