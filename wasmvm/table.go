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

import "errors"

var (
	errTableOutOfBounds     = errors.New("out of bounds table access")
	ErrUndefinedElement     = errors.New("undefined element")
	ErrUninitializedElement = errors.New("uninitialized element")
)

// Table is a funcref table. Entries are function indices into the owning
// instance, or NullReference.
type Table struct {
	Type     TableType
	elements []uint32
}

// NewTable creates a table of tt.Limits.Min null entries.
func NewTable(tt TableType) *Table {
	elements := make([]uint32, tt.Limits.Min)
	for i := range elements {
		elements[i] = NullReference
	}
	return &Table{Type: tt, elements: elements}
}

func (t *Table) Size() uint32 {
	return uint32(len(t.elements))
}

// Get returns the entry at index for an indirect call.
func (t *Table) Get(index uint32) (uint32, error) {
	if index >= uint32(len(t.elements)) {
		return 0, ErrUndefinedElement
	}
	return t.elements[index], nil
}

// Set places a function index, or NullReference, at index.
func (t *Table) Set(index uint32, funcIndex uint32) error {
	if index >= uint32(len(t.elements)) {
		return errTableOutOfBounds
	}
	t.elements[index] = funcIndex
	return nil
}

// Init copies funcIndices into the table starting at offset.
func (t *Table) Init(offset uint32, funcIndices []uint32) error {
	if uint64(offset)+uint64(len(funcIndices)) > uint64(len(t.elements)) {
		return errTableOutOfBounds
	}
	copy(t.elements[offset:], funcIndices)
	return nil
}
