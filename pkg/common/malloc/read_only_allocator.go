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
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ReadOnlyAllocator exposes the Freeze trait on its deallocators. Freezing
// write-protects the backing pages after the memory has been filled, so a
// stray late write faults instead of silently corrupting it. Deallocate
// restores write access before the memory goes back to the upstream
// allocator.
type ReadOnlyAllocator struct {
	upstream        Allocator
	deallocatorPool *ClosureDeallocatorPool[readOnlyDeallocatorArgs, *readOnlyDeallocatorArgs]
}

type readOnlyDeallocatorArgs struct {
	mmapInfo MmapInfo
	frozen   bool
}

func (r *readOnlyDeallocatorArgs) As(trait Trait) bool {
	if freeze, ok := trait.(*Freeze); ok {
		freeze.args = r
		return true
	}
	return false
}

// Freeze is the Trait of deallocators whose memory can be write-protected.
type Freeze struct {
	args *readOnlyDeallocatorArgs
}

func (*Freeze) IsTrait() {}

var pageSize = uint64(os.Getpagesize())

// Freeze write-protects the allocation. Returns false when the backing
// memory is not an exclusively owned page range, typically a sub-page slot
// in a shared slab or a GC-owned slice.
func (f *Freeze) Freeze() bool {
	info := f.args.mmapInfo
	if info.Addr == nil {
		return false
	}
	if uint64(uintptr(info.Addr))%pageSize != 0 ||
		info.Length%pageSize != 0 {
		// protecting would also protect a neighboring allocation
		return false
	}
	if err := unix.Mprotect(
		unsafe.Slice((*byte)(info.Addr), info.Length),
		unix.PROT_READ,
	); err != nil {
		panic(err)
	}
	f.args.frozen = true
	return true
}

func NewReadOnlyAllocator(
	upstream Allocator,
) *ReadOnlyAllocator {
	return &ReadOnlyAllocator{
		upstream: upstream,

		deallocatorPool: NewClosureDeallocatorPool(
			func(hints Hints, args *readOnlyDeallocatorArgs) {
				if args.frozen {
					info := args.mmapInfo
					if err := unix.Mprotect(
						unsafe.Slice((*byte)(info.Addr), info.Length),
						unix.PROT_READ|unix.PROT_WRITE,
					); err != nil {
						panic(err)
					}
					args.frozen = false
				}
			},
		),
	}
}

var _ Allocator = new(ReadOnlyAllocator)

func (r *ReadOnlyAllocator) Allocate(size uint64, hints Hints) ([]byte, Deallocator, error) {
	bytes, dec, err := r.upstream.Allocate(size, hints)
	if err != nil {
		return nil, nil, err
	}

	var args readOnlyDeallocatorArgs
	// only mmap-backed memory can change protection
	dec.As(&args.mmapInfo)

	return bytes, ChainDeallocator(
		dec,
		r.deallocatorPool.Get(args),
	), nil
}
