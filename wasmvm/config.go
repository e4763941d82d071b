// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wasmvm

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"
)

const (
	// PageSize is the size of a linear memory page.
	PageSize = 65536
	// MaxMemoryPages is the 4GiB sandbox ceiling.
	MaxMemoryPages = 65536
	// MaxTableSize is the ceiling on table entries.
	MaxTableSize = 1024
)

// Config controls the behavior and resource limits of the runtime.
type Config struct {
	// StackSize is the size in bytes of the interpreter call stack owned by
	// each execution environment. Frames, locals and operands all live in it.
	// Default: 64 KiB.
	StackSize int `yaml:"stack_size"`

	// MaxCallDepth is the hard limit on nested wasm calls. Default: 8192.
	MaxCallDepth int `yaml:"max_call_depth"`

	// DefaultMaxMemoryPages is the max page count given to a memory that
	// declares none. It is clamped to MaxMemoryPages. Default: 65536.
	DefaultMaxMemoryPages uint32 `yaml:"default_max_memory_pages"`

	// MaxLocals bounds the number of locals a function may declare.
	// Default: 50000.
	MaxLocals int `yaml:"max_locals"`

	// BlockCacheSize is the number of buckets in the block address cache.
	// It must be a power of two. Default: 1024.
	BlockCacheSize int `yaml:"block_cache_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StackSize:             64 * 1024,
		MaxCallDepth:          8192,
		DefaultMaxMemoryPages: MaxMemoryPages,
		MaxLocals:             50000,
		BlockCacheSize:        1024,
	}
}

// withDefaults fills zero fields of c from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StackSize <= 0 {
		c.StackSize = d.StackSize
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = d.MaxCallDepth
	}
	if c.DefaultMaxMemoryPages == 0 || c.DefaultMaxMemoryPages > MaxMemoryPages {
		c.DefaultMaxMemoryPages = d.DefaultMaxMemoryPages
	}
	if c.MaxLocals <= 0 {
		c.MaxLocals = d.MaxLocals
	}
	if c.BlockCacheSize <= 0 || c.BlockCacheSize&(c.BlockCacheSize-1) != 0 {
		c.BlockCacheSize = d.BlockCacheSize
	}
	return c
}

// LoadConfig reads a YAML configuration. Fields the document leaves out
// keep their defaults; unknown fields are an error.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	config := DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, &config, yaml.DisallowUnknownField()); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config.withDefaults(), nil
}
