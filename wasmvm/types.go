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
	"slices"
	"strings"
)

// ValueType classifies the individual values that WebAssembly code can compute
// with and the values that a variable accepts.
// See https://webassembly.github.io/spec/core/binary/types.html#value-types.
type ValueType byte

const (
	I32       ValueType = 0x7f
	I64       ValueType = 0x7e
	F32       ValueType = 0x7d
	F64       ValueType = 0x7c
	FuncRef   ValueType = 0x70
	ExternRef ValueType = 0x6f

	// valueTypeUnknown is the polymorphic stack type used by the validator
	// after an unconditional branch.
	valueTypeUnknown ValueType = 0
)

// blockTypeEmpty encodes the absence of a block or function result.
const blockTypeEmpty = 0x40

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FuncRef:
		return "funcref"
	case ExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// Cells returns the number of 32-bit storage cells a value of this type
// occupies on the operand stack, in locals and in globals.
func (t ValueType) Cells() int {
	if t == I64 || t == F64 {
		return 2
	}
	return 1
}

func isValueType(b byte) bool {
	switch ValueType(b) {
	case I32, I64, F32, F64, FuncRef, ExternRef:
		return true
	}
	return false
}

func cellsOf(types []ValueType) int {
	n := 0
	for _, t := range types {
		n += t.Cells()
	}
	return n
}

// FuncType classifies the signature of functions, mapping a vector of
// parameters to a vector of results.
type FuncType struct {
	Params  []ValueType
	Results []ValueType

	// ParamCells and ResultCells are precomputed at load time.
	ParamCells  int
	ResultCells int
}

func NewFuncType(params, results []ValueType) *FuncType {
	return &FuncType{
		Params:      params,
		Results:     results,
		ParamCells:  cellsOf(params),
		ResultCells: cellsOf(results),
	}
}

func (ft *FuncType) Equal(other *FuncType) bool {
	if ft == other {
		return true
	}
	if ft == nil || other == nil {
		return false
	}
	return slices.Equal(ft.Params, other.Params) &&
		slices.Equal(ft.Results, other.Results)
}

func (ft *FuncType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")->(")
	for i, r := range ft.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Limits define min/max constraints for tables and memories.
type Limits struct {
	Min uint32
	Max *uint32
}

func (l Limits) maxOr(def uint32) uint32 {
	if l.Max == nil {
		return def
	}
	return *l.Max
}

type TableType struct {
	ElemType ValueType
	Limits   Limits
}

type MemoryType struct {
	Limits Limits
}

// GlobalType defines the type of a global variable, which includes its value
// type and whether it is mutable.
type GlobalType struct {
	ValueType ValueType
	Mutable   bool
}

// NullReference is the table entry stored for a null funcref.
const NullReference uint32 = 0xFFFFFFFF
