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
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/ffikit/varbox/pkg/logutil"
)

var (
	defaultAllocator     Allocator
	defaultAllocatorOnce sync.Once
)

// GetDefault returns the process-wide allocator, building it on first use
// from config, defaults and environment. Passing nil uses defaults only.
func GetDefault(config *Config) Allocator {
	defaultAllocatorOnce.Do(func() {
		if config == nil {
			config = &Config{}
		}
		defaultAllocator = newDefault(patchConfig(*config))
	})
	return defaultAllocator
}

var globalProfiler = NewProfiler[HeapSampleValues]()

// WriteHeapProfile writes the live-heap profile of the default allocator in
// pprof format. Empty unless profile-fraction is enabled.
func WriteHeapProfile(w io.Writer) error {
	return globalProfiler.Write(w)
}

func newDefault(config Config) (allocator Allocator) {
	logutil.Info("malloc",
		zap.Stringp("allocator", config.Allocator),
		zap.Boolp("enable metrics", config.EnableMetrics),
		zap.Boolp("enable checks", config.EnableChecks),
		zap.Uint32p("profile fraction", config.ProfileFraction),
	)

	switch *config.Allocator {

	case "go":
		allocator = NewShardedAllocator(
			runtime.GOMAXPROCS(0),
			func() Allocator {
				return NewPureGoClassAllocator(256 * MB / uint64(runtime.GOMAXPROCS(0)))
			},
		)

	case "mmap":
		allocator = NewShardedAllocator(
			runtime.GOMAXPROCS(0),
			func() Allocator {
				return NewClassAllocator(NewFixedSizeMmapAllocator)
			},
		)

	default:
		panic("unknown allocator: " + *config.Allocator)
	}

	if *config.ProfileFraction > 0 {
		allocator = NewProfileAllocator(allocator, globalProfiler, *config.ProfileFraction)
	}

	if *config.EnableMetrics {
		allocator = NewMetricsAllocator(
			allocator,
			AllocateBytesCounter,
			InuseBytesGauge,
			AllocateObjectsCounter,
			InuseObjectsGauge,
		)
	}

	if *config.EnableChecks {
		allocator = NewCheckedAllocator(allocator)
	}

	return allocator
}
