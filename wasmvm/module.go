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

// ExternKind tags imports and exports.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x0
	ExternTable  ExternKind = 0x1
	ExternMemory ExternKind = 0x2
	ExternGlobal ExternKind = 0x3
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Import represents a WASM import. Only the field matching Kind is set.
type Import struct {
	ModuleName string
	FieldName  string
	Kind       ExternKind

	// TypeIndex and Type describe a function import.
	TypeIndex uint32
	Type      *FuncType
	// Native is the resolved host function, or nil when the import is
	// unlinked. Calling an unlinked import traps.
	Native *NativeSymbol

	Table  TableType
	Memory MemoryType
	Global GlobalType
}

// Function is a function defined by the module's code section.
type Function struct {
	TypeIndex uint32
	Type      *FuncType
	// Locals are the declared locals, parameters excluded.
	Locals []ValueType
	// Code holds the instruction sequence including the final end opcode.
	Code []byte
	// CodeOffset is the offset of Code[0] within the module binary. It makes
	// instruction addresses unique across functions.
	CodeOffset int
	Name       string

	// The remaining fields size the call frame and are filled by the
	// validator.
	LocalCells    int
	LocalOffsets  []int
	LocalTypes    []ValueType
	MaxStackCells int
	MaxBlocks     int
}

// CodeEnd is the offset of the function's final end opcode within Code.
func (f *Function) CodeEnd() int {
	return len(f.Code) - 1
}

// ConstExpr is a decoded constant initializer expression.
type ConstExpr struct {
	Opcode byte
	// Bits holds the raw constant for the *.const forms.
	Bits uint64
	// Index is the global index for global.get and the function index for
	// ref.func.
	Index uint32
}

type Global struct {
	Type GlobalType
	Init ConstExpr
}

type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// SegmentMode specifies how an element or data segment is applied.
type SegmentMode int

const (
	SegmentActive SegmentMode = iota
	SegmentPassive
	SegmentDeclarative
)

type ElementSegment struct {
	Mode       SegmentMode
	TableIndex uint32
	Offset     ConstExpr
	// FuncIndices holds NullReference for ref.null entries.
	FuncIndices []uint32
}

type DataSegment struct {
	Mode        SegmentMode
	MemoryIndex uint32
	Offset      ConstExpr
	Init        []byte
}

// Module is the in-memory representation of a loaded binary. It is immutable
// once loading completes.
type Module struct {
	Types []*FuncType

	// Imports holds every import in declaration order. The per-kind slices
	// are sized by a counting pass and point into Imports.
	Imports         []Import
	ImportFunctions []*Import
	ImportTables    []*Import
	ImportMemories  []*Import
	ImportGlobals   []*Import

	Functions []*Function
	Tables    []TableType
	Memories  []MemoryType
	Globals   []Global
	Exports   []Export
	Elements  []ElementSegment
	Datas     []DataSegment

	StartFunction *uint32
	DataCount     *uint32

	// FunctionNames is decoded from the "name" custom section when present.
	FunctionNames map[uint32]string
}

func (m *Module) functionCount() uint32 {
	return uint32(len(m.ImportFunctions) + len(m.Functions))
}

func (m *Module) globalCount() uint32 {
	return uint32(len(m.ImportGlobals) + len(m.Globals))
}

func (m *Module) tableCount() int {
	return len(m.ImportTables) + len(m.Tables)
}

func (m *Module) memoryCount() int {
	return len(m.ImportMemories) + len(m.Memories)
}

// functionType returns the type of the function at index idx of the function
// index space, imports first.
func (m *Module) functionType(idx uint32) *FuncType {
	if int(idx) < len(m.ImportFunctions) {
		return m.ImportFunctions[idx].Type
	}
	return m.Functions[int(idx)-len(m.ImportFunctions)].Type
}

func (m *Module) globalType(idx uint32) GlobalType {
	if int(idx) < len(m.ImportGlobals) {
		return m.ImportGlobals[idx].Global
	}
	return m.Globals[int(idx)-len(m.ImportGlobals)].Type
}

// ExportedFunction returns the function index of the named export.
func (m *Module) ExportedFunction(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == ExternFunc && e.Name == name {
			return e.Index, true
		}
	}
	return 0, false
}
