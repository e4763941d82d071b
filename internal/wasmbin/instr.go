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

package wasmbin

import (
	"encoding/binary"
	"math"
)

// BlockType is the encoded type immediate of block, loop and if.
type BlockType []byte

var (
	Void      = BlockType{0x40}
	ResultI32 = BlockType{I32}
	ResultI64 = BlockType{I64}
	ResultF32 = BlockType{F32}
	ResultF64 = BlockType{F64}
)

// TypeIndex is a block type referring to the type section.
func TypeIndex(idx uint32) BlockType {
	return BlockType(S64(int64(idx)))
}

// U32 encodes v as unsigned LEB128.
func U32(v uint32) []byte {
	return U64(uint64(v))
}

func U64(v uint64) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// S32 encodes v as signed LEB128.
func S32(v int32) []byte {
	return S64(int64(v))
}

func S64(v int64) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// Code concatenates instructions.
func Code(instrs ...[]byte) []byte {
	var b []byte
	for _, in := range instrs {
		b = append(b, in...)
	}
	return b
}

// Ops encodes instructions that take no immediates.
func Ops(ops ...byte) []byte {
	return ops
}

func I32Const(v int32) []byte { return append([]byte{OpI32Const}, S32(v)...) }
func I64Const(v int64) []byte { return append([]byte{OpI64Const}, S64(v)...) }

func F32Const(v float32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{OpF32Const}, math.Float32bits(v))
}

func F64Const(v float64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{OpF64Const}, math.Float64bits(v))
}

func LocalGet(idx uint32) []byte  { return append([]byte{OpLocalGet}, U32(idx)...) }
func LocalSet(idx uint32) []byte  { return append([]byte{OpLocalSet}, U32(idx)...) }
func LocalTee(idx uint32) []byte  { return append([]byte{OpLocalTee}, U32(idx)...) }
func GlobalGet(idx uint32) []byte { return append([]byte{OpGlobalGet}, U32(idx)...) }
func GlobalSet(idx uint32) []byte { return append([]byte{OpGlobalSet}, U32(idx)...) }
func Call(idx uint32) []byte      { return append([]byte{OpCall}, U32(idx)...) }
func Br(depth uint32) []byte      { return append([]byte{OpBr}, U32(depth)...) }
func BrIf(depth uint32) []byte    { return append([]byte{OpBrIf}, U32(depth)...) }

// CallIndirect calls through table 0.
func CallIndirect(typeIdx uint32) []byte {
	return append(append([]byte{OpCallIndirect}, U32(typeIdx)...), 0)
}

func BrTable(targets []uint32, def uint32) []byte {
	b := append([]byte{OpBrTable}, U32(uint32(len(targets)))...)
	for _, t := range targets {
		b = append(b, U32(t)...)
	}
	return append(b, U32(def)...)
}

func Block(bt BlockType, body ...[]byte) []byte {
	return structured(OpBlock, bt, Code(body...))
}

func Loop(bt BlockType, body ...[]byte) []byte {
	return structured(OpLoop, bt, Code(body...))
}

// If encodes an if without an else arm.
func If(bt BlockType, then ...[]byte) []byte {
	return structured(OpIf, bt, Code(then...))
}

func IfElse(bt BlockType, then, els []byte) []byte {
	b := append([]byte{OpIf}, bt...)
	b = append(b, then...)
	b = append(b, OpElse)
	b = append(b, els...)
	return append(b, OpEnd)
}

func structured(op byte, bt BlockType, body []byte) []byte {
	b := append([]byte{op}, bt...)
	b = append(b, body...)
	return append(b, OpEnd)
}

// MemArg encodes a load or store with its alignment exponent and offset.
func MemArg(op byte, align, offset uint32) []byte {
	b := append([]byte{op}, U32(align)...)
	return append(b, U32(offset)...)
}

func MemorySize() []byte { return []byte{OpMemorySize, 0} }
func MemoryGrow() []byte { return []byte{OpMemoryGrow, 0} }

func Misc(sub uint32) []byte {
	return append([]byte{OpMiscPrefix}, U32(sub)...)
}

func MemoryInit(seg uint32) []byte {
	return append(append(Misc(MiscMemoryInit), U32(seg)...), 0)
}

func DataDrop(seg uint32) []byte {
	return append(Misc(MiscDataDrop), U32(seg)...)
}

func MemoryCopy() []byte { return append(Misc(MiscMemoryCopy), 0, 0) }
func MemoryFill() []byte { return append(Misc(MiscMemoryFill), 0) }
