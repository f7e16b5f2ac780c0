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

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

type Hints uint32

const (
	NoHints Hints = 0

	// NoClear allows the allocator to return memory with arbitrary contents.
	NoClear Hints = 1 << iota
)

// Allocator is the interface of all general-purpose allocators.
// The returned slice has length size. The Deallocator must be called
// exactly once to release the memory.
type Allocator interface {
	Allocate(size uint64, hints Hints) ([]byte, Deallocator, error)
}

// FixedSizeAllocator is the interface of allocators that always allocate
// objects of a single size. clearSize is the prefix callers will read
// before writing, so backends may clear less than the full object.
type FixedSizeAllocator interface {
	Allocate(hints Hints, clearSize uint64) ([]byte, Deallocator, error)
}

type Trait interface {
	IsTrait()
}

// TraitHolder is implemented by deallocator argument types to expose
// backend information to callers.
type TraitHolder interface {
	As(Trait) bool
}
