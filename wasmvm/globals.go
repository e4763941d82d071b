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

import "encoding/binary"

// globalInstance locates one global inside the instance's global data.
type globalInstance struct {
	Type   GlobalType
	offset int
}

// layoutGlobals assigns each global an offset in a single data blob. 64-bit
// globals are 8-byte aligned, the others 4-byte aligned.
func layoutGlobals(m *Module) ([]globalInstance, int) {
	globals := make([]globalInstance, 0, m.globalCount())
	size := 0
	place := func(t GlobalType) {
		width := 4 * t.ValueType.Cells()
		size = (size + width - 1) &^ (width - 1)
		globals = append(globals, globalInstance{Type: t, offset: size})
		size += width
	}
	for _, imp := range m.ImportGlobals {
		place(imp.Global)
	}
	for _, g := range m.Globals {
		place(g.Type)
	}
	return globals, size
}

func (m *ModuleInstance) globalBits(idx uint32) uint64 {
	g := m.globals[idx]
	if g.Type.ValueType.Cells() == 2 {
		return binary.LittleEndian.Uint64(m.globalData[g.offset:])
	}
	return uint64(binary.LittleEndian.Uint32(m.globalData[g.offset:]))
}

func (m *ModuleInstance) setGlobalBits(idx uint32, v uint64) {
	g := m.globals[idx]
	if g.Type.ValueType.Cells() == 2 {
		binary.LittleEndian.PutUint64(m.globalData[g.offset:], v)
		return
	}
	binary.LittleEndian.PutUint32(m.globalData[g.offset:], uint32(v))
}

// evalConstExpr computes the value of an initializer. global.get may only
// name imported globals, which are initialized first.
func (m *ModuleInstance) evalConstExpr(e ConstExpr) uint64 {
	switch e.Opcode {
	case globalGet:
		return m.globalBits(e.Index)
	case refNull:
		return uint64(NullReference)
	case refFunc:
		return uint64(e.Index)
	default:
		return e.Bits
	}
}

// LookupGlobal returns the raw bits and type of an exported global.
func (m *ModuleInstance) LookupGlobal(name string) (uint64, ValueType, bool) {
	e, ok := m.exports[name]
	if !ok || e.Kind != ExternGlobal {
		return 0, 0, false
	}
	return m.globalBits(e.Index), m.globals[e.Index].Type.ValueType, true
}
