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
	_ "unsafe"
)

type Atomic[T any] interface {
	Add(delta T) T
	Load() T
}

// ShardedCounter spreads contention over multiple atomic shards, indexed by
// the calling P. Load sums all shards, so it is not a point-in-time snapshot
// under concurrent updates.
type ShardedCounter[T int64 | uint64, A any, P interface {
	*A
	Atomic[T]
}] struct {
	shards []A
}

func NewShardedCounter[T int64 | uint64, A any, P interface {
	*A
	Atomic[T]
}](shards int) *ShardedCounter[T, A, P] {
	return &ShardedCounter[T, A, P]{
		shards: make([]A, shards),
	}
}

func (s *ShardedCounter[T, A, P]) Add(delta T) {
	pid := runtime_procPin()
	runtime_procUnpin()
	P(&s.shards[pid%len(s.shards)]).Add(delta)
}

func (s *ShardedCounter[T, A, P]) Load() T {
	var ret T
	for i := range s.shards {
		ret += P(&s.shards[i]).Load()
	}
	return ret
}

//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin() int
