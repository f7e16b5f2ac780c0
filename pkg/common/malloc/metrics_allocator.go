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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsAllocator reports allocation counters to prometheus. Sharded
// counters absorb the per-allocation updates; the prometheus metrics are
// refreshed at most once per updateInterval.
type MetricsAllocator[U Allocator] struct {
	upstream        U
	deallocatorPool *ClosureDeallocatorPool[metricsDeallocatorArgs, *metricsDeallocatorArgs]

	allocateBytesCounter   prometheus.Counter
	inuseBytesGauge        prometheus.Gauge
	allocateObjectsCounter prometheus.Counter
	inuseObjectsGauge      prometheus.Gauge

	allocateBytes   ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	inuseBytes      ShardedCounter[int64, atomic.Int64, *atomic.Int64]
	allocateObjects ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	inuseObjects    ShardedCounter[int64, atomic.Int64, *atomic.Int64]

	// owned by update, which runs at most once at a time
	lastAllocateBytes   uint64
	lastAllocateObjects uint64

	updating atomic.Bool
}

type metricsDeallocatorArgs struct {
	size uint64
}

func (metricsDeallocatorArgs) As(Trait) bool {
	return false
}

func NewMetricsAllocator[U Allocator](
	upstream U,
	allocateBytesCounter prometheus.Counter,
	inuseBytesGauge prometheus.Gauge,
	allocateObjectsCounter prometheus.Counter,
	inuseObjectsGauge prometheus.Gauge,
) *MetricsAllocator[U] {

	var ret *MetricsAllocator[U]

	ret = &MetricsAllocator[U]{
		upstream:               upstream,
		allocateBytesCounter:   allocateBytesCounter,
		inuseBytesGauge:        inuseBytesGauge,
		allocateObjectsCounter: allocateObjectsCounter,
		inuseObjectsGauge:      inuseObjectsGauge,

		deallocatorPool: NewClosureDeallocatorPool(
			func(hints Hints, args *metricsDeallocatorArgs) {
				ret.inuseBytes.Add(-int64(args.size))
				ret.inuseObjects.Add(-1)
				ret.triggerUpdate()
			},
		),
	}

	ret.allocateBytes = *NewShardedCounter[uint64, atomic.Uint64](runtime.GOMAXPROCS(0))
	ret.inuseBytes = *NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0))
	ret.allocateObjects = *NewShardedCounter[uint64, atomic.Uint64](runtime.GOMAXPROCS(0))
	ret.inuseObjects = *NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0))

	return ret
}

var _ Allocator = new(MetricsAllocator[Allocator])

func (m *MetricsAllocator[U]) Allocate(size uint64, hints Hints) ([]byte, Deallocator, error) {
	bytes, dec, err := m.upstream.Allocate(size, hints)
	if err != nil {
		return nil, nil, err
	}

	m.allocateBytes.Add(size)
	m.allocateObjects.Add(1)
	m.inuseBytes.Add(int64(size))
	m.inuseObjects.Add(1)
	m.triggerUpdate()

	return bytes, ChainDeallocator(
		dec,
		m.deallocatorPool.Get(metricsDeallocatorArgs{
			size: size,
		}),
	), nil
}

const updateInterval = time.Second

func (m *MetricsAllocator[U]) triggerUpdate() {
	if m.updating.CompareAndSwap(false, true) {
		time.AfterFunc(updateInterval, func() {
			m.update()
			m.updating.Store(false)
		})
	}
}

func (m *MetricsAllocator[U]) update() {
	if m.allocateBytesCounter != nil {
		n := m.allocateBytes.Load()
		m.allocateBytesCounter.Add(float64(n - m.lastAllocateBytes))
		m.lastAllocateBytes = n
	}
	if m.inuseBytesGauge != nil {
		inuse := m.inuseBytes.Load()
		m.inuseBytesGauge.Set(float64(inuse))
		GlobalPeakInuseTracker.Update(uint64(max(inuse, 0)))
	}
	if m.allocateObjectsCounter != nil {
		n := m.allocateObjects.Load()
		m.allocateObjectsCounter.Add(float64(n - m.lastAllocateObjects))
		m.lastAllocateObjects = n
	}
	if m.inuseObjectsGauge != nil {
		m.inuseObjectsGauge.Set(float64(m.inuseObjects.Load()))
	}
}
