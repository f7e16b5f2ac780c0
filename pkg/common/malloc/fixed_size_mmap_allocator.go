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
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type fixedSizeMmapAllocator struct {
	size uint64

	mu              sync.Mutex // it's OK to use mutex since this allocator will be in ShardedAllocator
	activeSlabs     []*_Slab   // slabs with free slots or recently used
	maxActiveSlabs  int
	standbySlabs    []*_Slab // slabs still mapped but no physical memory backed
	maxStandbySlabs int

	deallocatorPool *ClosureDeallocatorPool[fixedSizeMmapDeallocatorArgs, *fixedSizeMmapDeallocatorArgs]
}

type fixedSizeMmapDeallocatorArgs struct {
	slab   *_Slab
	ptr    unsafe.Pointer
	length uint64
}

func (f fixedSizeMmapDeallocatorArgs) As(trait Trait) bool {
	if info, ok := trait.(*MmapInfo); ok {
		info.Addr = f.ptr
		info.Length = f.length
		return true
	}
	return false
}

type MmapInfo struct {
	Addr   unsafe.Pointer
	Length uint64
}

func (*MmapInfo) IsTrait() {}

const (
	maxActiveSlabs  = 256
	maxActiveBytes  = 1 * MB
	minActiveSlabs  = 4
	maxStandbySlabs = 1024
	maxStandbyBytes = 16 * MB
	minStandbySlabs = 4
)

func NewFixedSizeMmapAllocator(
	size uint64,
) (ret *fixedSizeMmapAllocator) {

	ret = &fixedSizeMmapAllocator{
		size: size,

		maxActiveSlabs: max(
			min(
				maxActiveSlabs,
				maxActiveBytes/(int(size)*slabCapacity),
			),
			minActiveSlabs,
		),

		maxStandbySlabs: max(
			min(
				maxStandbySlabs,
				maxStandbyBytes/(int(size)*slabCapacity),
			),
			minStandbySlabs,
		),

		deallocatorPool: NewClosureDeallocatorPool(
			func(hints Hints, args *fixedSizeMmapDeallocatorArgs) {
				empty := args.slab.free(args.ptr)
				if empty {
					ret.retireSlab(args.slab)
				}
			},
		),
	}

	return ret
}

var _ FixedSizeAllocator = new(fixedSizeMmapAllocator)

func (f *fixedSizeMmapAllocator) Allocate(hints Hints, clearSize uint64) ([]byte, Deallocator, error) {
	slab, ptr, err := f.allocate(hints)
	if err != nil {
		return nil, nil, err
	}

	slice := unsafe.Slice(
		(*byte)(ptr),
		f.size,
	)
	if hints&NoClear == 0 {
		clear(slice[:min(clearSize, f.size)])
	}

	return slice, f.deallocatorPool.Get(fixedSizeMmapDeallocatorArgs{
		slab:   slab,
		ptr:    ptr,
		length: f.size,
	}), nil
}

func (f *fixedSizeMmapAllocator) allocate(hints Hints) (*_Slab, unsafe.Pointer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// from existing
	for _, slab := range f.activeSlabs {
		ptr, ok := slab.allocate()
		if ok {
			return slab, ptr, nil
		}
	}

	// empty or all full
	// from standby slabs
	if len(f.standbySlabs) > 0 {
		slab := f.standbySlabs[len(f.standbySlabs)-1]
		f.standbySlabs = f.standbySlabs[:len(f.standbySlabs)-1]
		f.reuseMem(slab, hints)
		f.activeSlabs = append(f.activeSlabs, slab)
		ptr, _ := slab.allocate()
		return slab, ptr, nil
	}

	// map a new slab
	slice, err := unix.Mmap(
		-1, 0,
		int(f.size)*slabCapacity,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, nil, err
	}

	slab := &_Slab{
		base:       unsafe.Pointer(unsafe.SliceData(slice)),
		mem:        slice,
		objectSize: int(f.size),
	}
	f.activeSlabs = append(f.activeSlabs, slab)

	ptr, _ := slab.allocate()
	return slab, ptr, nil
}

func (f *fixedSizeMmapAllocator) retireSlab(slab *_Slab) {
	f.mu.Lock() // to prevent new allocation
	defer f.mu.Unlock()

	if len(f.activeSlabs) <= f.maxActiveSlabs {
		return
	}

	if slab.mask.Load() != 0 {
		// has new allocation
		return
	}

	offset := -1
	for i, s := range f.activeSlabs {
		if s == slab {
			offset = i
			break
		}
	}
	if offset == -1 {
		// already moved
		return
	}
	f.activeSlabs = append(
		f.activeSlabs[:offset],
		f.activeSlabs[offset+1:]...,
	)

	// release physical memory, keep the mapping for reuse
	f.freeMem(slab)
	f.standbySlabs = append(f.standbySlabs, slab)

	if len(f.standbySlabs) > f.maxStandbySlabs {
		victim := f.standbySlabs[0]
		f.standbySlabs = f.standbySlabs[1:]
		if err := unix.Munmap(victim.mem); err != nil {
			panic(err)
		}
	}
}
