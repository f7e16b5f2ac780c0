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
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Allocator selects the backing allocator: "mmap" or "go".
	Allocator *string `toml:"allocator"`

	// EnableMetrics enables the prometheus decorator.
	EnableMetrics *bool `toml:"enable-metrics"`

	// EnableChecks enables the double-free and leak checking decorator.
	EnableChecks *bool `toml:"enable-checks"`

	// ProfileFraction enables the heap profiling decorator. 0 disables it;
	// N records a full call stack for roughly 1/N of allocations.
	ProfileFraction *uint32 `toml:"profile-fraction"`
}

func ptrTo[T any](v T) *T {
	return &v
}

var defaultConfigValues = Config{
	Allocator:       ptrTo("mmap"),
	EnableMetrics:   ptrTo(true),
	EnableChecks:    ptrTo(false),
	ProfileFraction: ptrTo(uint32(0)),
}

// LoadConfigFile reads a Config in TOML format. Fields not set in the file
// stay nil and fall back to defaults and environment overrides.
func LoadConfigFile(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func patchConfig(config Config) Config {
	if config.Allocator == nil {
		config.Allocator = defaultConfigValues.Allocator
	}
	if config.EnableMetrics == nil {
		config.EnableMetrics = defaultConfigValues.EnableMetrics
	}
	if config.EnableChecks == nil {
		config.EnableChecks = defaultConfigValues.EnableChecks
	}
	if config.ProfileFraction == nil {
		config.ProfileFraction = defaultConfigValues.ProfileFraction
	}
	return patchConfigFromEnv(config)
}

func patchConfigFromEnv(config Config) Config {
	if value := os.Getenv("VARBOX_MALLOC_ALLOCATOR"); value != "" {
		config.Allocator = &value
	}
	if value := os.Getenv("VARBOX_MALLOC_ENABLE_METRICS"); value != "" {
		if enable, err := strconv.ParseBool(value); err == nil {
			config.EnableMetrics = &enable
		}
	}
	if value := os.Getenv("VARBOX_MALLOC_ENABLE_CHECKS"); value != "" {
		if enable, err := strconv.ParseBool(value); err == nil {
			config.EnableChecks = &enable
		}
	}
	if value := os.Getenv("VARBOX_MALLOC_PROFILE_FRACTION"); value != "" {
		if fraction, err := strconv.ParseUint(value, 10, 32); err == nil {
			config.ProfileFraction = ptrTo(uint32(fraction))
		}
	}
	return config
}
