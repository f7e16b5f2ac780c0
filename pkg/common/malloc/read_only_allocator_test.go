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

	"github.com/stretchr/testify/require"
)

func TestReadOnlyAllocator(t *testing.T) {
	allocator := NewReadOnlyAllocator(
		NewClassAllocator(NewFixedSizeMmapAllocator),
	)

	// a page-sized class owns its pages exclusively and can freeze
	slice, dec, err := allocator.Allocate(4096, NoHints)
	require.NoError(t, err)
	slice[0] = 42

	var freeze Freeze
	require.True(t, dec.As(&freeze))
	require.True(t, freeze.Freeze())

	// reads still work while frozen
	require.Equal(t, byte(42), slice[0])

	// Deallocate restores write access before the slot is reused
	dec.Deallocate(NoHints)
	slice, dec, err = allocator.Allocate(4096, NoHints)
	require.NoError(t, err)
	slice[1] = 1
	dec.Deallocate(NoHints)
}

func TestReadOnlyAllocatorUnfreezable(t *testing.T) {
	// sub-page slots share their pages with neighboring slots
	allocator := NewReadOnlyAllocator(
		NewClassAllocator(NewFixedSizeMmapAllocator),
	)
	_, dec, err := allocator.Allocate(64, NoHints)
	require.NoError(t, err)
	var freeze Freeze
	require.True(t, dec.As(&freeze))
	require.False(t, freeze.Freeze())
	dec.Deallocate(NoHints)

	// GC-owned memory has no page protection at all
	goAllocator := NewReadOnlyAllocator(NewPureGoClassAllocator(1 * MB))
	_, dec, err = goAllocator.Allocate(4096, NoHints)
	require.NoError(t, err)
	require.True(t, dec.As(&freeze))
	require.False(t, freeze.Freeze())
	dec.Deallocate(NoHints)
}
