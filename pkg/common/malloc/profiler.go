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
	"math/rand"
	"runtime"
	"sync"

	"github.com/google/pprof/profile"
)

type SampleValues[P any] interface {
	Init()
	DefaultSampleType() string
	SampleTypes() []*profile.ValueType
	Values() []int64
}

// Profiler aggregates sample values per allocation call stack and renders
// them as a pprof profile.
type Profiler[V any, P interface {
	*V
	SampleValues[P]
}] struct {
	samples sync.Map // StacktraceID -> P
}

func NewProfiler[V any, P interface {
	*V
	SampleValues[P]
}]() *Profiler[V, P] {
	return &Profiler[V, P]{}
}

// Sample returns the values bucket for the caller's stack. With fraction
// greater than 1, only 1/fraction of calls record a full stack; the rest
// share a single bucket so their totals are still accounted.
func (p *Profiler[V, P]) Sample(skip int, fraction uint32) P {
	if fraction > 1 && rand.Int63n(int64(fraction)) != 0 {
		return p.sampleFor(stacktraceIDElsewhere)
	}
	return p.sampleFor(GetStacktraceID(1 + skip))
}

// stacktraceIDElsewhere keys the shared bucket of non-sampled stacks.
const stacktraceIDElsewhere = StacktraceID(0)

func (p *Profiler[V, P]) sampleFor(id StacktraceID) P {
	if v, ok := p.samples.Load(id); ok {
		return v.(P)
	}
	var values V
	ptr := P(&values)
	ptr.Init()
	v, _ := p.samples.LoadOrStore(id, ptr)
	return v.(P)
}

// Write renders the profile in pprof format.
func (p *Profiler[V, P]) Write(w io.Writer) error {
	var empty V
	prof := &profile.Profile{
		SampleType:        P(&empty).SampleTypes(),
		DefaultSampleType: P(&empty).DefaultSampleType(),
	}

	locations := make(map[uintptr]*profile.Location)
	functions := make(map[string]*profile.Function)

	locationFor := func(pc uintptr) *profile.Location {
		if loc, ok := locations[pc]; ok {
			return loc
		}
		frames := runtime.CallersFrames([]uintptr{pc})
		frame, _ := frames.Next()
		name := frame.Function
		if name == "" {
			name = "unknown"
		}
		fn, ok := functions[name]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(functions) + 1),
				Name:       name,
				SystemName: name,
				Filename:   frame.File,
			}
			functions[name] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:      uint64(len(locations) + 1),
			Address: uint64(pc),
			Line: []profile.Line{
				{
					Function: fn,
					Line:     int64(frame.Line),
				},
			},
		}
		locations[pc] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	p.samples.Range(func(k, v any) bool {
		id := k.(StacktraceID)
		sample := &profile.Sample{
			Value: v.(P).Values(),
		}
		if id != stacktraceIDElsewhere {
			for _, pc := range id.PCs() {
				sample.Location = append(sample.Location, locationFor(pc))
			}
		}
		prof.Sample = append(prof.Sample, sample)
		return true
	})

	return prof.Write(w)
}
