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
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// slabCapacity is the number of objects per mmap'd slab. It matches the
// width of the occupancy mask.
const slabCapacity = 64

type _Slab struct {
	base       unsafe.Pointer
	mem        []byte // the whole mapping, for munmap
	objectSize int
	mask       atomic.Uint64 // bit set = slot allocated
}

func (s *_Slab) allocate() (unsafe.Pointer, bool) {
	for {
		mask := s.mask.Load()
		if mask == ^uint64(0) {
			// full
			return nil, false
		}
		slot := bits.TrailingZeros64(^mask)
		if s.mask.CompareAndSwap(mask, mask|uint64(1)<<slot) {
			return unsafe.Add(s.base, slot*s.objectSize), true
		}
	}
}

// free returns true if the slab has no allocated slot left.
func (s *_Slab) free(ptr unsafe.Pointer) bool {
	slot := (uintptr(ptr) - uintptr(s.base)) / uintptr(s.objectSize)
	for {
		mask := s.mask.Load()
		newMask := mask &^ (uint64(1) << slot)
		if mask == newMask {
			panic("double free in slab")
		}
		if s.mask.CompareAndSwap(mask, newMask) {
			return newMask == 0
		}
	}
}
