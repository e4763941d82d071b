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
	"cmp"
	"slices"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// funcInstance is an entry of the instance's function index space. Exactly
// one of code and imported is set.
type funcInstance struct {
	index    uint32
	typ      *FuncType
	code     *Function
	imported *Import
}

func (f *funcInstance) name() string {
	switch {
	case f.imported != nil:
		return f.imported.ModuleName + "." + f.imported.FieldName
	case f.code.Name != "":
		return f.code.Name
	default:
		return "$f" + strconv.FormatUint(uint64(f.index), 10)
	}
}

// ModuleInstance is the runtime representation of a module. It is owned by
// one execution thread at a time.
type ModuleInstance struct {
	module *Module
	config Config

	functions  []funcInstance
	memory     *Memory
	table      *Table
	globals    []globalInstance
	globalData []byte
	exports    map[string]Export

	droppedData     *bitset.BitSet
	droppedElements *bitset.BitSet

	excMu          sync.Mutex
	exception      string
	exceptionCause error

	// invokeEnv is created by the first Invoke and reused afterwards.
	invokeEnv *ExecEnv
}

// Module returns the module the instance was created from.
func (m *ModuleInstance) Module() *Module {
	return m.module
}

// Memory returns the instance's linear memory, or nil if it has none.
func (m *ModuleInstance) Memory() *Memory {
	return m.memory
}

// Table returns the instance's table, or nil if it has none.
func (m *ModuleInstance) Table() *Table {
	return m.table
}

func (m *ModuleInstance) Config() Config {
	return m.config
}

// ExportedFunction describes a function export.
type ExportedFunction struct {
	Name  string
	Index uint32
	Type  *FuncType
}

// LookupFunction finds an exported function by name.
func (m *ModuleInstance) LookupFunction(name string) (*ExportedFunction, bool) {
	e, ok := m.exports[name]
	if !ok || e.Kind != ExternFunc {
		return nil, false
	}
	return &ExportedFunction{Name: name, Index: e.Index, Type: m.functions[e.Index].typ}, true
}

// Exports returns the module's exports sorted by name.
func (m *ModuleInstance) Exports() []Export {
	exports := make([]Export, 0, len(m.exports))
	for _, e := range m.exports {
		exports = append(exports, e)
	}
	slices.SortFunc(exports, func(a, b Export) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return exports
}

// ElementSegment returns the function indices of element segment idx while
// it is still available, that is, passive and not dropped. Active and
// declarative segments are dropped during instantiation.
func (m *ModuleInstance) ElementSegment(idx uint32) ([]uint32, bool) {
	if int(idx) >= len(m.module.Elements) || m.droppedElements.Test(uint(idx)) {
		return nil, false
	}
	return m.module.Elements[idx].FuncIndices, true
}

// FunctionType returns the type of the function at idx.
func (m *ModuleInstance) FunctionType(idx uint32) *FuncType {
	return m.functions[idx].typ
}
