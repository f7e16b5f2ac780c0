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
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ffikit/varbox/pkg/logutil"
)

// CheckedAllocator panics on double free, reports leaked allocations when
// their tracking token is collected, and keeps live-allocation counters.
type CheckedAllocator struct {
	upstream        Allocator
	deallocatorPool *ClosureDeallocatorPool[checkedDeallocatorArgs, *checkedDeallocatorArgs]

	inuseObjects *ShardedCounter[int64, atomic.Int64, *atomic.Int64]
	inuseBytes   *ShardedCounter[int64, atomic.Int64, *atomic.Int64]
}

type checkToken struct {
	deallocated   atomic.Bool
	allocateStack StacktraceID
}

type checkedDeallocatorArgs struct {
	token *checkToken
	size  uint64
}

func (checkedDeallocatorArgs) As(Trait) bool {
	return false
}

func NewCheckedAllocator(upstream Allocator) *CheckedAllocator {
	ret := &CheckedAllocator{
		upstream:     upstream,
		inuseObjects: NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0)),
		inuseBytes:   NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0)),
	}
	ret.deallocatorPool = NewClosureDeallocatorPool(
		func(hints Hints, args *checkedDeallocatorArgs) {
			if args.token.deallocated.Swap(true) {
				panic("double free, allocated at:\n" + args.token.allocateStack.String())
			}
			runtime.SetFinalizer(args.token, nil)
			ret.inuseObjects.Add(-1)
			ret.inuseBytes.Add(-int64(args.size))
		},
	)
	return ret
}

var _ Allocator = new(CheckedAllocator)

func (c *CheckedAllocator) Allocate(size uint64, hints Hints) ([]byte, Deallocator, error) {
	slice, dec, err := c.upstream.Allocate(size, hints)
	if err != nil {
		return nil, nil, err
	}

	token := &checkToken{
		allocateStack: GetStacktraceID(1),
	}
	runtime.SetFinalizer(token, reportLeak)

	c.inuseObjects.Add(1)
	c.inuseBytes.Add(int64(size))

	return slice, ChainDeallocator(
		dec,
		c.deallocatorPool.Get(checkedDeallocatorArgs{
			token: token,
			size:  size,
		}),
	), nil
}

func reportLeak(token *checkToken) {
	if token.deallocated.Load() {
		return
	}
	logutil.Error("memory leak",
		zap.Stringer("allocated at", token.allocateStack),
	)
}

// LiveObjects is the number of allocations not yet deallocated.
func (c *CheckedAllocator) LiveObjects() int64 {
	return c.inuseObjects.Load()
}

// LiveBytes is the total size of allocations not yet deallocated.
func (c *CheckedAllocator) LiveBytes() int64 {
	return c.inuseBytes.Load()
}
