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
)

type Deallocator interface {
	Deallocate(hints Hints)
	As(Trait) bool
}

type noopDeallocator struct{}

var _ Deallocator = noopDeallocator{}

func (noopDeallocator) Deallocate(hints Hints) {}

func (noopDeallocator) As(Trait) bool {
	return false
}

// NoopDeallocator is for memory not owned by any allocator, typically
// GC-managed slices.
var NoopDeallocator Deallocator = noopDeallocator{}

// ClosureDeallocatorPool pools deallocators whose Deallocate calls a fixed
// function with per-allocation arguments, to avoid allocating a closure for
// every allocation.
type ClosureDeallocatorPool[T any, P interface {
	*T
	TraitHolder
}] struct {
	deallocateFunc func(hints Hints, args *T)
	pool           sync.Pool
}

type closureDeallocator[T any, P interface {
	*T
	TraitHolder
}] struct {
	args T
	pool *ClosureDeallocatorPool[T, P]
}

var _ Deallocator = &closureDeallocator[traitHolderInt, *traitHolderInt]{}

func (c *closureDeallocator[T, P]) Deallocate(hints Hints) {
	c.pool.deallocateFunc(hints, &c.args)
	c.pool.pool.Put(c)
}

func (c *closureDeallocator[T, P]) As(trait Trait) bool {
	return P(&c.args).As(trait)
}

func NewClosureDeallocatorPool[T any, P interface {
	*T
	TraitHolder
}](
	deallocateFunc func(hints Hints, args *T),
) *ClosureDeallocatorPool[T, P] {
	ret := &ClosureDeallocatorPool[T, P]{
		deallocateFunc: deallocateFunc,
	}
	ret.pool.New = func() any {
		return &closureDeallocator[T, P]{
			pool: ret,
		}
	}
	return ret
}

func (c *ClosureDeallocatorPool[T, P]) Get(args T) Deallocator {
	dec := c.pool.Get().(*closureDeallocator[T, P])
	dec.args = args
	return dec
}

// traitHolderInt is only to satisfy the compile-time interface check above.
type traitHolderInt int

func (*traitHolderInt) As(Trait) bool {
	return false
}

type chainDeallocator []Deallocator

var _ Deallocator = &chainDeallocator{}

func (c *chainDeallocator) Deallocate(hints Hints) {
	if len(*c) == 0 {
		panic("double free")
	}
	// deallocate in reverse, decorators enclose their upstream
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i].Deallocate(hints)
	}
	*c = (*c)[:0]
	chainDeallocatorPool.Put(c)
}

func (c *chainDeallocator) As(trait Trait) bool {
	for _, dec := range *c {
		if dec.As(trait) {
			return true
		}
	}
	return false
}

var chainDeallocatorPool = sync.Pool{
	New: func() any {
		ret := make(chainDeallocator, 0, 4)
		return &ret
	},
}

func ChainDeallocator(decs ...Deallocator) Deallocator {
	if len(decs) == 1 {
		return decs[0]
	}
	chain := chainDeallocatorPool.Get().(*chainDeallocator)
	*chain = append(*chain, decs...)
	return chain
}
