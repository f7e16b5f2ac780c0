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
	"sync/atomic"
	"unsafe"
)

// PureGoClassAllocator is a size-class allocator backed by the Go heap. It
// does not release buffered objects to the runtime, so it trades memory for
// not requiring mmap. Used where the mmap backend is unwanted.
type PureGoClassAllocator struct {
	classSizes []uint64
	pools      []pureGoClassAllocatorPool
}

type pureGoClassAllocatorPool struct {
	numAlloc atomic.Int64
	numFree  atomic.Int64
	ch       chan *pureGoClassAllocatorHandle
}

type pureGoClassAllocatorHandle struct {
	ptr       unsafe.Pointer
	class     int
	allocator *PureGoClassAllocator
}

var _ Deallocator = new(pureGoClassAllocatorHandle)

func (p *pureGoClassAllocatorHandle) Deallocate(hints Hints) {
	if p.class < 0 {
		// GC-owned, nothing to recycle
		return
	}
	select {
	case p.allocator.pools[p.class].ch <- p:
		p.allocator.pools[p.class].numFree.Add(1)
	default:
		// buffer full, let the GC reclaim it
	}
}

func (p *pureGoClassAllocatorHandle) As(Trait) bool {
	return false
}

func NewPureGoClassAllocator(
	maxBufferSize uint64,
) *PureGoClassAllocator {
	const (
		minClassSize    = 128
		maxClassSize    = 8 * (1 << 20)
		classSizeFactor = 1.8
	)

	classSizes := func() (ret []uint64) {
		for size := uint64(minClassSize); size <= maxClassSize; size = uint64(float64(size) * classSizeFactor) {
			ret = append(ret, size)
		}
		return
	}()

	classSumSize := func() (ret uint64) {
		for _, size := range classSizes {
			ret += size
		}
		return
	}()

	bufferedObjectsPerClass := func() int {
		return int(maxBufferSize / classSumSize)
	}()

	pools := func() (ret []pureGoClassAllocatorPool) {
		for range classSizes {
			ret = append(
				ret,
				pureGoClassAllocatorPool{
					ch: make(chan *pureGoClassAllocatorHandle, bufferedObjectsPerClass),
				},
			)
		}
		return
	}()

	return &PureGoClassAllocator{
		classSizes: classSizes,
		pools:      pools,
	}
}

var _ Allocator = new(PureGoClassAllocator)

func (p *PureGoClassAllocator) Allocate(size uint64, hints Hints) ([]byte, Deallocator, error) {
	if size == 0 {
		panic("invalid size: 0")
	}
	class := p.requestSizeToClass(size)
	if class == -1 {
		// over the largest class, a dedicated GC-owned slice
		return make([]byte, size), NoopDeallocator, nil
	}
	handle := p.classAllocate(class, hints, size)
	return unsafe.Slice((*byte)(handle.ptr), size), handle, nil
}

func (p *PureGoClassAllocator) requestSizeToClass(size uint64) int {
	for class, classSize := range p.classSizes {
		if classSize >= size {
			return class
		}
	}
	return -1
}

func (p *PureGoClassAllocator) classAllocate(class int, hints Hints, clearSize uint64) *pureGoClassAllocatorHandle {
	select {
	case handle := <-p.pools[class].ch:
		p.pools[class].numAlloc.Add(1)
		if hints&NoClear == 0 {
			clear(unsafe.Slice(
				(*byte)(handle.ptr),
				min(p.classSizes[handle.class], clearSize),
			))
		}
		return handle
	default:
		slice := make([]byte, p.classSizes[class])
		return &pureGoClassAllocatorHandle{
			ptr:       unsafe.Pointer(unsafe.SliceData(slice)),
			class:     class,
			allocator: p,
		}
	}
}
