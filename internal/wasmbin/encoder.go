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

// Package wasmbin encodes WebAssembly binary modules for tests. It does no
// validation: malformed modules are useful inputs too.
package wasmbin

// Value types.
const (
	I32       byte = 0x7f
	I64       byte = 0x7e
	F32       byte = 0x7d
	F64       byte = 0x7c
	FuncRef   byte = 0x70
	ExternRef byte = 0x6f
)

// External kinds of imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Section ids.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type FuncType struct {
	Params  []byte
	Results []byte
}

type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

type GlobalType struct {
	Type    byte
	Mutable bool
}

// Import describes one import. Which of TypeIndex, Limits and Global is used
// depends on Kind. Table imports are always funcref.
type Import struct {
	Module    string
	Field     string
	Kind      byte
	TypeIndex uint32
	Limits    Limits
	Global    GlobalType
}

// Func is a function defined in the module. Locals lists one value type per
// local. Body is the instruction sequence without the final end.
type Func struct {
	Type   uint32
	Locals []byte
	Body   []byte
	Name   string
}

// Global is a module-defined global. Init is the constant expression without
// the final end.
type Global struct {
	GlobalType
	Init []byte
}

type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is a funcref element segment. Active segments target table 0.
type Element struct {
	Offset      int32
	Funcs       []uint32
	Passive     bool
	Declarative bool
}

// Data is a data segment. Active segments target memory 0.
type Data struct {
	Offset  int32
	Init    []byte
	Passive bool
}

type Custom struct {
	Name    string
	Payload []byte
}

// Module is the contents of a binary module. Sections are emitted in their
// canonical order and only when non-empty.
type Module struct {
	Types     []FuncType
	Imports   []Import
	Funcs     []Func
	Table     *Limits
	Memory    *Limits
	Globals   []Global
	Exports   []Export
	Start     *uint32
	Elements  []Element
	Data      []Data
	DataCount bool
	Customs   []Custom
}

// Encode returns the binary encoding of m.
func (m *Module) Encode() []byte {
	out := append([]byte(nil), header...)
	for _, c := range m.Customs {
		out = append(out, Section(SectionCustom, append(Name(c.Name), c.Payload...))...)
	}
	if len(m.Types) > 0 {
		out = append(out, Section(SectionType, vec(m.Types, encodeFuncType))...)
	}
	if len(m.Imports) > 0 {
		out = append(out, Section(SectionImport, vec(m.Imports, encodeImport))...)
	}
	if len(m.Funcs) > 0 {
		out = append(out, Section(SectionFunction, vec(m.Funcs, func(f Func) []byte {
			return U32(f.Type)
		}))...)
	}
	if m.Table != nil {
		out = append(out, Section(SectionTable, append([]byte{1, FuncRef}, encodeLimits(*m.Table)...))...)
	}
	if m.Memory != nil {
		out = append(out, Section(SectionMemory, append([]byte{1}, encodeLimits(*m.Memory)...))...)
	}
	if len(m.Globals) > 0 {
		out = append(out, Section(SectionGlobal, vec(m.Globals, func(g Global) []byte {
			b := encodeGlobalType(g.GlobalType)
			b = append(b, g.Init...)
			return append(b, OpEnd)
		}))...)
	}
	if len(m.Exports) > 0 {
		out = append(out, Section(SectionExport, vec(m.Exports, func(e Export) []byte {
			b := Name(e.Name)
			b = append(b, e.Kind)
			return append(b, U32(e.Index)...)
		}))...)
	}
	if m.Start != nil {
		out = append(out, Section(SectionStart, U32(*m.Start))...)
	}
	if len(m.Elements) > 0 {
		out = append(out, Section(SectionElement, vec(m.Elements, encodeElement))...)
	}
	if m.DataCount {
		out = append(out, Section(SectionDataCount, U32(uint32(len(m.Data))))...)
	}
	if len(m.Funcs) > 0 {
		out = append(out, Section(SectionCode, vec(m.Funcs, encodeCode))...)
	}
	if len(m.Data) > 0 {
		out = append(out, Section(SectionData, vec(m.Data, encodeData))...)
	}
	if names := m.encodeNames(); names != nil {
		out = append(out, Section(SectionCustom, append(Name("name"), names...))...)
	}
	return out
}

// Section frames payload as a section with the given id.
func Section(id byte, payload []byte) []byte {
	b := append([]byte{id}, U32(uint32(len(payload)))...)
	return append(b, payload...)
}

// Name encodes a length-prefixed string.
func Name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}

func vec[T any](items []T, encode func(T) []byte) []byte {
	b := U32(uint32(len(items)))
	for _, it := range items {
		b = append(b, encode(it)...)
	}
	return b
}

func encodeFuncType(t FuncType) []byte {
	b := []byte{0x60}
	b = append(b, U32(uint32(len(t.Params)))...)
	b = append(b, t.Params...)
	b = append(b, U32(uint32(len(t.Results)))...)
	return append(b, t.Results...)
}

func encodeLimits(l Limits) []byte {
	if l.HasMax {
		b := append([]byte{1}, U32(l.Min)...)
		return append(b, U32(l.Max)...)
	}
	return append([]byte{0}, U32(l.Min)...)
}

func encodeGlobalType(g GlobalType) []byte {
	if g.Mutable {
		return []byte{g.Type, 1}
	}
	return []byte{g.Type, 0}
}

func encodeImport(imp Import) []byte {
	b := Name(imp.Module)
	b = append(b, Name(imp.Field)...)
	b = append(b, imp.Kind)
	switch imp.Kind {
	case KindFunc:
		b = append(b, U32(imp.TypeIndex)...)
	case KindTable:
		b = append(b, FuncRef)
		b = append(b, encodeLimits(imp.Limits)...)
	case KindMemory:
		b = append(b, encodeLimits(imp.Limits)...)
	case KindGlobal:
		b = append(b, encodeGlobalType(imp.Global)...)
	}
	return b
}

func encodeElement(e Element) []byte {
	var b []byte
	switch {
	case e.Passive:
		b = []byte{1, 0x00}
	case e.Declarative:
		b = []byte{3, 0x00}
	default:
		b = append([]byte{0}, I32Const(e.Offset)...)
		b = append(b, OpEnd)
	}
	return append(b, vec(e.Funcs, U32)...)
}

func encodeData(d Data) []byte {
	var b []byte
	if d.Passive {
		b = []byte{1}
	} else {
		b = append([]byte{0}, I32Const(d.Offset)...)
		b = append(b, OpEnd)
	}
	b = append(b, U32(uint32(len(d.Init)))...)
	return append(b, d.Init...)
}

// encodeCode emits one code entry, grouping consecutive locals of the same
// type into a single declaration.
func encodeCode(f Func) []byte {
	var groups [][2]uint32
	for _, t := range f.Locals {
		if n := len(groups); n > 0 && byte(groups[n-1][1]) == t {
			groups[n-1][0]++
			continue
		}
		groups = append(groups, [2]uint32{1, uint32(t)})
	}
	body := vec(groups, func(g [2]uint32) []byte {
		return append(U32(g[0]), byte(g[1]))
	})
	body = append(body, f.Body...)
	body = append(body, OpEnd)
	return append(U32(uint32(len(body))), body...)
}

// encodeNames returns the name section payload holding the function name
// subsection, or nil when no function is named.
func (m *Module) encodeNames() []byte {
	imported := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			imported++
		}
	}
	var entries [][]byte
	for i, f := range m.Funcs {
		if f.Name == "" {
			continue
		}
		entries = append(entries, append(U32(imported+uint32(i)), Name(f.Name)...))
	}
	if entries == nil {
		return nil
	}
	sub := vec(entries, func(e []byte) []byte { return e })
	return append([]byte{1}, append(U32(uint32(len(sub))), sub...)...)
}
