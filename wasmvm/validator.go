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
	"slices"
)

// maxOperandCells bounds the operand stack of a single function.
const maxOperandCells = 0xFFFF

// Internal opcodes written over drop and select when the operands are 64 bits
// wide. They occupy bytes that are reserved in the binary format.
const (
	drop64   opcode = 0x1e
	select64 opcode = 0x1f
)

type controlFrame struct {
	opcode      opcode
	startTypes  []ValueType
	endTypes    []ValueType
	height      int // The height of valueStack when the frame was pushed.
	unreachable bool
}

// validator type-checks one function body and measures the operand-stack and
// block depth the interpreter will need for it.
type validator struct {
	module       *Module
	function     *Function
	reader       *binaryReader
	valueStack   []ValueType
	controlStack []controlFrame
	cells        int
	maxCells     int
	maxBlocks    int
}

// validateFunction checks the body of fn and fills in its frame layout.
func validateFunction(module *Module, fn *Function) error {
	v := &validator{
		module:   module,
		function: fn,
		reader:   newBinaryReader(fn.Code),
	}

	fn.LocalTypes = make([]ValueType, 0, len(fn.Type.Params)+len(fn.Locals))
	fn.LocalTypes = append(fn.LocalTypes, fn.Type.Params...)
	fn.LocalTypes = append(fn.LocalTypes, fn.Locals...)
	fn.LocalOffsets = make([]int, len(fn.LocalTypes))
	offset := 0
	for i, t := range fn.LocalTypes {
		fn.LocalOffsets[i] = offset
		offset += t.Cells()
	}
	fn.LocalCells = offset - fn.Type.ParamCells

	v.pushControlFrame(block, nil, fn.Type.Results)
	for len(v.controlStack) > 0 {
		if v.reader.eof() {
			return ErrUnexpectedEndOfBody
		}
		if err := v.validateInstruction(); err != nil {
			return err
		}
		if v.maxCells > maxOperandCells {
			return ErrOperandStackLimit
		}
	}
	if !v.reader.eof() {
		return ErrFunctionBodyNotEnded
	}

	fn.MaxStackCells = v.maxCells
	fn.MaxBlocks = v.maxBlocks
	return nil
}

func (v *validator) validateInstruction() error {
	pos := v.reader.pos
	op, err := v.reader.readByte()
	if err != nil {
		return err
	}

	switch op {
	case unreachable:
		return v.markFrameUnreachable()
	case nop:
		return nil
	case block, loop:
		return v.validateBlock(op)
	case ifOp:
		if _, err := v.popExpectedValue(I32); err != nil {
			return err
		}
		return v.validateBlock(op)
	case elseOp:
		return v.validateElse()
	case end:
		return v.validateEnd()
	case br:
		return v.validateBr()
	case brIf:
		return v.validateBrIf()
	case brTable:
		return v.validateBrTable()
	case returnOp:
		if _, err := v.popExpectedValues(v.controlStack[0].endTypes); err != nil {
			return err
		}
		return v.markFrameUnreachable()
	case call:
		return v.validateCall()
	case callIndirect:
		return v.validateCallIndirect()
	case drop:
		t, err := v.popValue()
		if err != nil {
			return err
		}
		if t.Cells() == 2 {
			v.function.Code[pos] = drop64
		}
		return nil
	case selectOp:
		return v.validateSelect(pos)
	case selectT:
		return v.validateSelectT()
	case localGet, localSet, localTee:
		return v.validateLocal(op)
	case globalGet, globalSet:
		return v.validateGlobal(op)
	case memorySize, memoryGrow:
		return v.validateMemorySizeGrow(op)
	case i32Const:
		if _, err := v.reader.readVarInt32(); err != nil {
			return err
		}
		v.pushValue(I32)
		return nil
	case i64Const:
		if _, err := v.reader.readVarInt64(); err != nil {
			return err
		}
		v.pushValue(I64)
		return nil
	case f32Const:
		if _, err := v.reader.readBytes(4); err != nil {
			return err
		}
		v.pushValue(F32)
		return nil
	case f64Const:
		if _, err := v.reader.readBytes(8); err != nil {
			return err
		}
		v.pushValue(F64)
		return nil
	case miscPrefix:
		return v.validateMisc()
	}

	if op >= i32Load && op <= i64Store32 {
		return v.validateMemoryAccess(op)
	}
	if in, out, ok := numericSignature(op); ok {
		for i := len(in) - 1; i >= 0; i-- {
			if _, err := v.popExpectedValue(in[i]); err != nil {
				return err
			}
		}
		v.pushValue(out)
		return nil
	}
	return fmt.Errorf("%w 0x%02x", ErrUnsupportedOpcode, op)
}

func (v *validator) readBlockType() ([]ValueType, []ValueType, error) {
	blockType, err := v.reader.readVarInt33()
	if err != nil {
		return nil, nil, err
	}
	return v.module.blockTypes(blockType)
}

// blockTypes decodes a block type immediate into its parameter and result
// types.
func (m *Module) blockTypes(blockType int64) ([]ValueType, []ValueType, error) {
	if blockType >= 0 {
		if blockType >= int64(len(m.Types)) {
			return nil, nil, ErrUnknownType
		}
		t := m.Types[blockType]
		return t.Params, t.Results, nil
	}
	b := byte(blockType & 0x7f)
	if b == blockTypeEmpty {
		return nil, nil, nil
	}
	if !isValueType(b) {
		return nil, nil, ErrInvalidValueType
	}
	return nil, []ValueType{ValueType(b)}, nil
}

func (v *validator) validateBlock(op opcode) error {
	startTypes, endTypes, err := v.readBlockType()
	if err != nil {
		return err
	}
	if _, err := v.popExpectedValues(startTypes); err != nil {
		return err
	}
	v.pushControlFrame(op, startTypes, endTypes)
	return nil
}

func (v *validator) validateElse() error {
	frame, err := v.popControlFrame()
	if err != nil {
		return err
	}
	if frame.opcode != ifOp {
		return ErrElseWithoutIf
	}
	v.pushControlFrame(elseOp, frame.startTypes, frame.endTypes)
	return nil
}

func (v *validator) validateEnd() error {
	frame, err := v.popControlFrame()
	if err != nil {
		return err
	}
	// An if without else behaves as if the missing branch passes its
	// parameters through unchanged.
	if frame.opcode == ifOp && !slices.Equal(frame.startTypes, frame.endTypes) {
		return ErrTypeMismatch
	}
	v.pushValues(frame.endTypes)
	return nil
}

func (v *validator) labelFrame(depth uint32) (*controlFrame, error) {
	if depth >= uint32(len(v.controlStack)) {
		return nil, fmt.Errorf("unknown label %d", depth)
	}
	return &v.controlStack[len(v.controlStack)-1-int(depth)], nil
}

func (v *validator) validateBr() error {
	depth, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	frame, err := v.labelFrame(depth)
	if err != nil {
		return err
	}
	if _, err := v.popExpectedValues(labelTypes(frame)); err != nil {
		return err
	}
	return v.markFrameUnreachable()
}

func (v *validator) validateBrIf() error {
	depth, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	frame, err := v.labelFrame(depth)
	if err != nil {
		return err
	}
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}
	types := labelTypes(frame)
	if _, err := v.popExpectedValues(types); err != nil {
		return err
	}
	v.pushValues(types)
	return nil
}

func (v *validator) validateBrTable() error {
	count, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if int(count) > v.reader.remaining() {
		return ErrUnexpectedEnd
	}
	depths := make([]uint32, count+1)
	for i := range depths {
		if depths[i], err = v.reader.readVarUint32(); err != nil {
			return err
		}
	}
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}

	defaultFrame, err := v.labelFrame(depths[count])
	if err != nil {
		return err
	}
	arity := len(labelTypes(defaultFrame))
	for _, depth := range depths[:count] {
		frame, err := v.labelFrame(depth)
		if err != nil {
			return err
		}
		types := labelTypes(frame)
		if len(types) != arity {
			return ErrTypeMismatch
		}
		values, err := v.popExpectedValues(types)
		if err != nil {
			return err
		}
		v.pushValues(values)
	}
	if _, err := v.popExpectedValues(labelTypes(defaultFrame)); err != nil {
		return err
	}
	return v.markFrameUnreachable()
}

func (v *validator) validateCall() error {
	idx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if idx >= v.module.functionCount() {
		return ErrUnknownFunction
	}
	t := v.module.functionType(idx)
	if _, err := v.popExpectedValues(t.Params); err != nil {
		return err
	}
	v.pushValues(t.Results)
	return nil
}

func (v *validator) validateCallIndirect() error {
	typeIdx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	tableIdx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if tableIdx != 0 || v.module.tableCount() == 0 {
		return ErrUnknownTable
	}
	if typeIdx >= uint32(len(v.module.Types)) {
		return ErrUnknownType
	}
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}
	t := v.module.Types[typeIdx]
	if _, err := v.popExpectedValues(t.Params); err != nil {
		return err
	}
	v.pushValues(t.Results)
	return nil
}

func (v *validator) validateSelect(pos int) error {
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}
	t1, err := v.popValue()
	if err != nil {
		return err
	}
	t2, err := v.popValue()
	if err != nil {
		return err
	}
	if t1 == FuncRef || t1 == ExternRef || t2 == FuncRef || t2 == ExternRef {
		return ErrTypeMismatch
	}
	if t1 != t2 && t1 != valueTypeUnknown && t2 != valueTypeUnknown {
		return ErrTypeMismatch
	}
	t := t1
	if t == valueTypeUnknown {
		t = t2
	}
	if t.Cells() == 2 {
		v.function.Code[pos] = select64
	}
	v.pushValue(t)
	return nil
}

func (v *validator) validateSelectT() error {
	n, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInvalidResultArity
	}
	b, err := v.reader.readByte()
	if err != nil {
		return err
	}
	if !isValueType(b) {
		return ErrInvalidValueType
	}
	t := ValueType(b)
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}
	if _, err := v.popExpectedValue(t); err != nil {
		return err
	}
	if _, err := v.popExpectedValue(t); err != nil {
		return err
	}
	v.pushValue(t)
	return nil
}

func (v *validator) validateLocal(op opcode) error {
	idx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if idx >= uint32(len(v.function.LocalTypes)) {
		return ErrUnknownLocal
	}
	t := v.function.LocalTypes[idx]
	switch op {
	case localGet:
		v.pushValue(t)
	case localSet:
		if _, err := v.popExpectedValue(t); err != nil {
			return err
		}
	case localTee:
		if _, err := v.popExpectedValue(t); err != nil {
			return err
		}
		v.pushValue(t)
	}
	return nil
}

func (v *validator) validateGlobal(op opcode) error {
	idx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if idx >= v.module.globalCount() {
		return ErrUnknownGlobal
	}
	gt := v.module.globalType(idx)
	if op == globalGet {
		v.pushValue(gt.ValueType)
		return nil
	}
	if !gt.Mutable {
		return ErrImmutableGlobal
	}
	_, err = v.popExpectedValue(gt.ValueType)
	return err
}

func (v *validator) validateMemorySizeGrow(op opcode) error {
	if err := v.readZeroByte(); err != nil {
		return err
	}
	if v.module.memoryCount() == 0 {
		return ErrUnknownMemory
	}
	if op == memoryGrow {
		if _, err := v.popExpectedValue(I32); err != nil {
			return err
		}
	}
	v.pushValue(I32)
	return nil
}

func (v *validator) readZeroByte() error {
	b, err := v.reader.readByte()
	if err != nil {
		return err
	}
	if b != 0 {
		return ErrZeroByteExpected
	}
	return nil
}

// memoryAccess returns the value type and the log2 of the natural alignment
// of a load or store opcode.
func memoryAccess(op opcode) (ValueType, uint32) {
	switch op {
	case i32Load, i32Store:
		return I32, 2
	case i64Load, i64Store:
		return I64, 3
	case f32Load, f32Store:
		return F32, 2
	case f64Load, f64Store:
		return F64, 3
	case i32Load8S, i32Load8U, i32Store8:
		return I32, 0
	case i32Load16S, i32Load16U, i32Store16:
		return I32, 1
	case i64Load8S, i64Load8U, i64Store8:
		return I64, 0
	case i64Load16S, i64Load16U, i64Store16:
		return I64, 1
	default: // i64Load32S, i64Load32U, i64Store32
		return I64, 2
	}
}

func (v *validator) validateMemoryAccess(op opcode) error {
	align, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if _, err := v.reader.readVarUint32(); err != nil {
		return err
	}
	if v.module.memoryCount() == 0 {
		return ErrUnknownMemory
	}
	t, natural := memoryAccess(op)
	if align > natural {
		return ErrAlignmentTooLarge
	}
	if op >= i32Store {
		if _, err := v.popExpectedValue(t); err != nil {
			return err
		}
		_, err := v.popExpectedValue(I32)
		return err
	}
	if _, err := v.popExpectedValue(I32); err != nil {
		return err
	}
	v.pushValue(t)
	return nil
}

func (v *validator) validateMisc() error {
	sub, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	switch sub {
	case i32TruncSatF32S, i32TruncSatF32U:
		return v.validateConversion(F32, I32)
	case i32TruncSatF64S, i32TruncSatF64U:
		return v.validateConversion(F64, I32)
	case i64TruncSatF32S, i64TruncSatF32U:
		return v.validateConversion(F32, I64)
	case i64TruncSatF64S, i64TruncSatF64U:
		return v.validateConversion(F64, I64)
	case memoryInit:
		if err := v.readDataIndex(); err != nil {
			return err
		}
		if err := v.readZeroByte(); err != nil {
			return err
		}
		return v.validateBulkMemory()
	case dataDrop:
		return v.readDataIndex()
	case memoryCopy:
		if err := v.readZeroByte(); err != nil {
			return err
		}
		if err := v.readZeroByte(); err != nil {
			return err
		}
		return v.validateBulkMemory()
	case memoryFill:
		if err := v.readZeroByte(); err != nil {
			return err
		}
		return v.validateBulkMemory()
	default:
		return fmt.Errorf("%w 0xfc 0x%02x", ErrUnsupportedOpcode, sub)
	}
}

func (v *validator) readDataIndex() error {
	idx, err := v.reader.readVarUint32()
	if err != nil {
		return err
	}
	if v.module.DataCount == nil {
		return ErrDataCountRequired
	}
	if idx >= *v.module.DataCount {
		return ErrUnknownDataSegment
	}
	return nil
}

func (v *validator) validateBulkMemory() error {
	if v.module.memoryCount() == 0 {
		return ErrUnknownMemory
	}
	for range 3 {
		if _, err := v.popExpectedValue(I32); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateConversion(from, to ValueType) error {
	if _, err := v.popExpectedValue(from); err != nil {
		return err
	}
	v.pushValue(to)
	return nil
}

var (
	typesI32    = []ValueType{I32}
	typesI64    = []ValueType{I64}
	typesF32    = []ValueType{F32}
	typesF64    = []ValueType{F64}
	typesI32I32 = []ValueType{I32, I32}
	typesI64I64 = []ValueType{I64, I64}
	typesF32F32 = []ValueType{F32, F32}
	typesF64F64 = []ValueType{F64, F64}
)

// numericSignature returns the operand and result types of the numeric
// instructions that take no immediates.
func numericSignature(op opcode) ([]ValueType, ValueType, bool) {
	switch {
	case op == i32Eqz:
		return typesI32, I32, true
	case op >= i32Eq && op <= i32GeU:
		return typesI32I32, I32, true
	case op == i64Eqz:
		return typesI64, I32, true
	case op >= i64Eq && op <= i64GeU:
		return typesI64I64, I32, true
	case op >= f32Eq && op <= f32Ge:
		return typesF32F32, I32, true
	case op >= f64Eq && op <= f64Ge:
		return typesF64F64, I32, true
	case op >= i32Clz && op <= i32Popcnt:
		return typesI32, I32, true
	case op >= i32Add && op <= i32Rotr:
		return typesI32I32, I32, true
	case op >= i64Clz && op <= i64Popcnt:
		return typesI64, I64, true
	case op >= i64Add && op <= i64Rotr:
		return typesI64I64, I64, true
	case op >= f32Abs && op <= f32Sqrt:
		return typesF32, F32, true
	case op >= f32Add && op <= f32Copysign:
		return typesF32F32, F32, true
	case op >= f64Abs && op <= f64Sqrt:
		return typesF64, F64, true
	case op >= f64Add && op <= f64Copysign:
		return typesF64F64, F64, true
	case op == i32Extend8S || op == i32Extend16S:
		return typesI32, I32, true
	case op >= i64Extend8S && op <= i64Extend32S:
		return typesI64, I64, true
	}

	switch op {
	case i32WrapI64:
		return typesI64, I32, true
	case i32TruncF32S, i32TruncF32U, i32ReinterpretF32:
		return typesF32, I32, true
	case i32TruncF64S, i32TruncF64U:
		return typesF64, I32, true
	case i64ExtendI32S, i64ExtendI32U:
		return typesI32, I64, true
	case i64TruncF32S, i64TruncF32U:
		return typesF32, I64, true
	case i64TruncF64S, i64TruncF64U, i64ReinterpretF64:
		return typesF64, I64, true
	case f32ConvertI32S, f32ConvertI32U, f32ReinterpretI32:
		return typesI32, F32, true
	case f32ConvertI64S, f32ConvertI64U:
		return typesI64, F32, true
	case f32DemoteF64:
		return typesF64, F32, true
	case f64ConvertI32S, f64ConvertI32U:
		return typesI32, F64, true
	case f64ConvertI64S, f64ConvertI64U, f64ReinterpretI64:
		return typesI64, F64, true
	case f64PromoteF32:
		return typesF32, F64, true
	}
	return nil, 0, false
}

func (v *validator) pushValue(t ValueType) {
	v.valueStack = append(v.valueStack, t)
	v.cells += t.Cells()
	if v.cells > v.maxCells {
		v.maxCells = v.cells
	}
}

func (v *validator) pushValues(types []ValueType) {
	for _, t := range types {
		v.pushValue(t)
	}
}

func (v *validator) popValue() (ValueType, error) {
	frame := &v.controlStack[len(v.controlStack)-1]
	if len(v.valueStack) == frame.height {
		if frame.unreachable {
			// The stack is polymorphic after an unconditional branch.
			return valueTypeUnknown, nil
		}
		return 0, ErrTypeMismatch
	}
	t := v.valueStack[len(v.valueStack)-1]
	v.valueStack = v.valueStack[:len(v.valueStack)-1]
	v.cells -= t.Cells()
	return t, nil
}

func (v *validator) popExpectedValue(expected ValueType) (ValueType, error) {
	t, err := v.popValue()
	if err != nil {
		return 0, err
	}
	if t != expected && t != valueTypeUnknown && expected != valueTypeUnknown {
		return 0, ErrTypeMismatch
	}
	return t, nil
}

func (v *validator) popExpectedValues(expected []ValueType) ([]ValueType, error) {
	values := make([]ValueType, len(expected))
	for i := len(expected) - 1; i >= 0; i-- {
		t, err := v.popExpectedValue(expected[i])
		if err != nil {
			return nil, err
		}
		if t == valueTypeUnknown {
			t = expected[i]
		}
		values[i] = t
	}
	return values, nil
}

func (v *validator) pushControlFrame(op opcode, start, end []ValueType) {
	v.controlStack = append(v.controlStack, controlFrame{
		opcode:     op,
		startTypes: start,
		endTypes:   end,
		height:     len(v.valueStack),
	})
	if len(v.controlStack) > v.maxBlocks {
		v.maxBlocks = len(v.controlStack)
	}
	v.pushValues(start)
}

func (v *validator) popControlFrame() (controlFrame, error) {
	if len(v.controlStack) == 0 {
		return controlFrame{}, ErrUnexpectedEndOfBody
	}
	frame := v.controlStack[len(v.controlStack)-1]
	if _, err := v.popExpectedValues(frame.endTypes); err != nil {
		return controlFrame{}, err
	}
	if len(v.valueStack) != frame.height {
		return controlFrame{}, ErrTypeMismatch
	}
	v.controlStack = v.controlStack[:len(v.controlStack)-1]
	return frame, nil
}

func (v *validator) markFrameUnreachable() error {
	frame := &v.controlStack[len(v.controlStack)-1]
	v.valueStack = v.valueStack[:frame.height]
	v.cells = cellsOf(v.valueStack)
	frame.unreachable = true
	return nil
}

func labelTypes(frame *controlFrame) []ValueType {
	if frame.opcode == loop {
		return frame.startTypes
	}
	return frame.endTypes
}
