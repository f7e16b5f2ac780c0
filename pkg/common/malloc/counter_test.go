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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardedCounter(t *testing.T) {
	counter := NewShardedCounter[int64, atomic.Int64](8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				counter.Add(2)
				counter.Add(-1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(16*1000), counter.Load())
}

func TestPeakInuseTracker(t *testing.T) {
	tracker := new(PeakInuseTracker)
	tracker.ptr.Store(&peakInuseValue{})

	tracker.Update(100)
	require.Equal(t, uint64(100), tracker.Peak())

	// lower values don't move the peak
	tracker.Update(50)
	require.Equal(t, uint64(100), tracker.Peak())

	tracker.Update(200)
	require.Equal(t, uint64(200), tracker.Peak())
	require.False(t, tracker.PeakTime().IsZero())
}

func TestStacktraceID(t *testing.T) {
	var ids []StacktraceID
	for i := 0; i < 3; i++ {
		ids = append(ids, GetStacktraceID(0))
	}
	// same call site, same id
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, ids[1], ids[2])

	require.Contains(t, ids[0].String(), "TestStacktraceID")
	require.NotEmpty(t, ids[0].PCs())
}
