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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsAllocator(t *testing.T) {
	allocateBytes := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_allocate_bytes"})
	inuseBytes := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_inuse_bytes"})
	allocateObjects := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_allocate_objects"})
	inuseObjects := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_inuse_objects"})

	allocator := NewMetricsAllocator(
		NewClassAllocator(NewFixedSizeMmapAllocator),
		allocateBytes,
		inuseBytes,
		allocateObjects,
		inuseObjects,
	)

	_, dec, err := allocator.Allocate(300, NoHints)
	require.NoError(t, err)
	allocator.update()
	require.Equal(t, float64(300), testutil.ToFloat64(allocateBytes))
	require.Equal(t, float64(300), testutil.ToFloat64(inuseBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(allocateObjects))
	require.Equal(t, float64(1), testutil.ToFloat64(inuseObjects))

	dec.Deallocate(NoHints)
	allocator.update()
	require.Equal(t, float64(300), testutil.ToFloat64(allocateBytes))
	require.Equal(t, float64(0), testutil.ToFloat64(inuseBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(allocateObjects))
	require.Equal(t, float64(0), testutil.ToFloat64(inuseObjects))

	require.GreaterOrEqual(t, GlobalPeakInuseTracker.Peak(), uint64(300))
}

func TestRegisterMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	RegisterMetrics(registry)
	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
}
