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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatchConfigDefaults(t *testing.T) {
	config := patchConfig(Config{})
	require.Equal(t, "mmap", *config.Allocator)
	require.True(t, *config.EnableMetrics)
	require.False(t, *config.EnableChecks)
	require.Equal(t, uint32(0), *config.ProfileFraction)
}

func TestPatchConfigFromEnv(t *testing.T) {
	t.Setenv("VARBOX_MALLOC_ALLOCATOR", "go")
	t.Setenv("VARBOX_MALLOC_ENABLE_METRICS", "false")
	t.Setenv("VARBOX_MALLOC_ENABLE_CHECKS", "true")
	t.Setenv("VARBOX_MALLOC_PROFILE_FRACTION", "10")

	config := patchConfig(Config{})
	require.Equal(t, "go", *config.Allocator)
	require.False(t, *config.EnableMetrics)
	require.True(t, *config.EnableChecks)
	require.Equal(t, uint32(10), *config.ProfileFraction)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malloc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
allocator = "go"
enable-metrics = false
`), 0644))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "go", *config.Allocator)
	require.False(t, *config.EnableMetrics)
	// not present in the file, left for defaulting
	require.Nil(t, config.EnableChecks)
	require.Nil(t, config.ProfileFraction)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestNewDefaultAllocators(t *testing.T) {
	for _, name := range []string{"go", "mmap"} {
		config := patchConfig(Config{Allocator: ptrTo(name)})
		allocator := newDefault(config)
		slice, dec, err := allocator.Allocate(1024, NoHints)
		require.NoError(t, err)
		require.Equal(t, 1024, len(slice))
		dec.Deallocate(NoHints)
	}

	require.Panics(t, func() {
		newDefault(patchConfig(Config{Allocator: ptrTo("bogus")}))
	})
}
