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
	"bytes"
	"errors"
)

var ErrMemoryOutOfBounds = errors.New("out of bounds memory access")

// Memory represents a linear memory instance.
// https://webassembly.github.io/spec/core/exec/runtime.html#memory-instances
type Memory struct {
	maxPages uint32
	data     []byte
}

// NewMemory creates a memory of memType.Limits.Min pages. A memory without a
// declared maximum may grow up to defaultMaxPages.
func NewMemory(memType MemoryType, defaultMaxPages uint32) *Memory {
	return &Memory{
		maxPages: min(memType.Limits.maxOr(defaultMaxPages), MaxMemoryPages),
		data:     make([]byte, uint64(memType.Limits.Min)*PageSize),
	}
}

// Grow extends the memory by delta pages. It returns the previous size in
// pages, or -1 without changing the memory if the result would exceed the
// maximum.
func (m *Memory) Grow(delta uint32) int32 {
	current := m.Size()
	if uint64(current)+uint64(delta) > uint64(m.maxPages) {
		return -1
	}
	if delta > 0 {
		m.data = append(m.data, make([]byte, uint64(delta)*PageSize)...)
	}
	return int32(current)
}

// Size returns the size of the memory in pages.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data) / PageSize)
}

// MaxPages returns the page count the memory may grow to.
func (m *Memory) MaxPages() uint32 {
	return m.maxPages
}

// Len returns the size of the memory in bytes.
func (m *Memory) Len() uint64 {
	return uint64(len(m.data))
}

// Bytes exposes the backing buffer. It is invalidated by Grow.
func (m *Memory) Bytes() []byte {
	return m.data
}

// checkRange returns the start of the n bytes at addr+offset, checking the
// sum in 64 bits so that it cannot wrap.
func (m *Memory) checkRange(addr, offset uint32, n uint64) (uint64, error) {
	start := uint64(addr) + uint64(offset)
	if start+n > uint64(len(m.data)) {
		return 0, ErrMemoryOutOfBounds
	}
	return start, nil
}

// Read returns a view of n bytes at addr.
func (m *Memory) Read(addr, n uint32) ([]byte, error) {
	start, err := m.checkRange(addr, 0, uint64(n))
	if err != nil {
		return nil, err
	}
	return m.data[start : start+uint64(n)], nil
}

// Write copies values into memory at addr.
func (m *Memory) Write(addr uint32, values []byte) error {
	start, err := m.checkRange(addr, 0, uint64(len(values)))
	if err != nil {
		return err
	}
	copy(m.data[start:], values)
	return nil
}

// ReadCString reads the NUL-terminated string starting at addr.
func (m *Memory) ReadCString(addr uint32) (string, error) {
	if uint64(addr) >= uint64(len(m.data)) {
		return "", ErrMemoryOutOfBounds
	}
	n := bytes.IndexByte(m.data[addr:], 0)
	if n < 0 {
		return "", ErrMemoryOutOfBounds
	}
	return string(m.data[addr : int(addr)+n]), nil
}

// Init copies n bytes of content starting at src into memory at dst.
func (m *Memory) Init(dst, src, n uint32, content []byte) error {
	if uint64(src)+uint64(n) > uint64(len(content)) {
		return ErrMemoryOutOfBounds
	}
	start, err := m.checkRange(dst, 0, uint64(n))
	if err != nil {
		return err
	}
	copy(m.data[start:start+uint64(n)], content[src:src+n])
	return nil
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src, n uint32) error {
	if _, err := m.checkRange(src, 0, uint64(n)); err != nil {
		return err
	}
	if _, err := m.checkRange(dst, 0, uint64(n)); err != nil {
		return err
	}
	copy(m.data[dst:uint64(dst)+uint64(n)], m.data[src:uint64(src)+uint64(n)])
	return nil
}

// Fill sets n bytes starting at dst to val.
func (m *Memory) Fill(dst uint32, val byte, n uint32) error {
	start, err := m.checkRange(dst, 0, uint64(n))
	if err != nil {
		return err
	}
	region := m.data[start : start+uint64(n)]
	for i := range region {
		region[i] = val
	}
	return nil
}
