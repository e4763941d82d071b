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
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrUnreachable              = errors.New("unreachable")
	ErrIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
	errInvalidArgumentCount     = errors.New("invalid argument count")
)

// CallFunction runs the function at funcIndex. args holds the parameters as
// cells, i64 and f64 taking two cells with the low word first. On success the
// results overwrite the leading cells of args. A trap is returned as an
// *Exception and also recorded on the instance.
func (env *ExecEnv) CallFunction(funcIndex uint32, args []uint32) error {
	inst := env.inst
	if funcIndex >= uint32(len(inst.functions)) {
		return fmt.Errorf("%w %d", ErrUnknownFunction, funcIndex)
	}
	fn := &inst.functions[funcIndex]
	need := max(fn.typ.ParamCells, fn.typ.ResultCells)
	if len(args) < need {
		return fmt.Errorf("%w %d, must be no smaller than %d", errInvalidArgumentCount, len(args), need)
	}

	// A call from a native function nests on top of the running frames.
	entryDepth := len(env.frames)
	if entryDepth == 0 {
		env.top, env.labelTop = 0, 0
		inst.ClearException()
	}
	cellBase, labelBase := env.top, env.labelTop

	argBase, _, err := env.allocFrame(need, 0)
	if err != nil {
		return inst.raise(err)
	}
	copy(env.cells[argBase:], args[:fn.typ.ParamCells])

	err = env.invokeTop(fn, argBase, entryDepth)
	if err != nil {
		Logger().Debug("wasm trap",
			zap.String("function", fn.name()),
			zap.Error(err),
			zap.Strings("traceback", env.Traceback()))
		env.frames = env.frames[:entryDepth]
		env.freeFrame(cellBase, labelBase)
		return inst.raise(err)
	}
	copy(args, env.cells[argBase:argBase+fn.typ.ResultCells])
	env.freeFrame(cellBase, labelBase)
	return nil
}

func (env *ExecEnv) invokeTop(fn *funcInstance, argBase, entryDepth int) error {
	if fn.code == nil {
		if err := env.callNative(fn, argBase); err != nil {
			return err
		}
		if exc := env.inst.pendingException(); exc != nil {
			return exc
		}
		return nil
	}
	if err := env.pushFrame(fn, argBase); err != nil {
		return err
	}
	env.frames[len(env.frames)-1].entry = true
	return env.run(entryDepth)
}

// pushFrame enters a wasm function whose arguments are at argBase. The
// function body is label 0 of the new frame.
func (env *ExecEnv) pushFrame(fn *funcInstance, argBase int) error {
	if len(env.frames) >= env.maxCallDepth {
		return ErrStackOverflow
	}
	code := fn.code
	paramCells := fn.typ.ParamCells
	lp, labelBase, err := env.allocFrame(paramCells+code.LocalCells+code.MaxStackCells, code.MaxBlocks)
	if err != nil {
		return err
	}
	copy(env.cells[lp:lp+paramCells], env.cells[argBase:argBase+paramCells])
	sp := lp + paramCells + code.LocalCells
	clear(env.cells[lp+paramCells : sp])

	env.labels[labelBase] = label{arity: fn.typ.ResultCells, target: len(code.Code), sp: sp}
	env.frames = append(env.frames, frame{
		fn:        fn,
		code:      code.Code,
		cells:     env.cells,
		lp:        lp,
		sp:        sp,
		labelBase: labelBase,
		csp:       labelBase + 1,
		retBase:   argBase,
	})
	return nil
}

// popFrame returns from the innermost frame, copying its results to the
// caller's operand stack.
func (env *ExecEnv) popFrame() {
	f := &env.frames[len(env.frames)-1]
	n := f.fn.typ.ResultCells
	copy(env.cells[f.retBase:f.retBase+n], env.cells[f.sp-n:f.sp])
	retBase, entry := f.retBase, f.entry
	env.freeFrame(f.lp, f.labelBase)
	env.frames = env.frames[:len(env.frames)-1]
	if !entry {
		env.frames[len(env.frames)-1].sp = retBase + n
	}
}

// run executes until the frame stack unwinds back to entryDepth.
func (env *ExecEnv) run(entryDepth int) error {
	for len(env.frames) > entryDepth {
		// The frame pointer is re-fetched for every instruction because a
		// call appends to env.frames and may move it.
		f := &env.frames[len(env.frames)-1]
		if err := env.executeInstruction(f); err != nil {
			return err
		}
	}
	return nil
}

func (env *ExecEnv) executeInstruction(f *frame) error {
	op := f.code[f.pc]
	f.pc++
	// A switch is considerably faster than a table of handlers.
	switch op {
	case unreachable:
		return ErrUnreachable
	case nop:
	case block, loop, ifOp:
		return env.enterBlock(f, op)
	case elseOp:
		// The then arm is done: leave the if.
		f.csp--
		f.pc = env.labels[f.csp].target
	case end:
		f.csp--
		if f.csp == f.labelBase {
			env.popFrame()
		}
	case br:
		env.branch(f, f.readU32())
	case brIf:
		depth := f.readU32()
		if f.popU32() != 0 {
			env.branch(f, depth)
		}
	case brTable:
		env.handleBrTable(f)
	case returnOp:
		env.popFrame()
	case call:
		return env.call(f, &env.inst.functions[f.readU32()])
	case callIndirect:
		return env.handleCallIndirect(f)
	case drop:
		f.sp--
	case drop64:
		f.sp -= 2
	case selectOp:
		c := f.popU32()
		b := f.popU32()
		if c == 0 {
			f.cells[f.sp-1] = b
		}
	case select64:
		c := f.popU32()
		b := f.popU64()
		if c == 0 {
			f.sp -= 2
			f.pushU64(b)
		}
	case selectT:
		n := f.readU32()
		t := ValueType(f.code[f.pc])
		f.pc += int(n)
		c := f.popU32()
		if t.Cells() == 2 {
			b := f.popU64()
			if c == 0 {
				f.sp -= 2
				f.pushU64(b)
			}
		} else {
			b := f.popU32()
			if c == 0 {
				f.cells[f.sp-1] = b
			}
		}
	case localGet:
		off, n := f.local(f.readU32())
		copy(f.cells[f.sp:f.sp+n], f.cells[off:off+n])
		f.sp += n
	case localSet:
		off, n := f.local(f.readU32())
		f.sp -= n
		copy(f.cells[off:off+n], f.cells[f.sp:f.sp+n])
	case localTee:
		off, n := f.local(f.readU32())
		copy(f.cells[off:off+n], f.cells[f.sp-n:f.sp])
	case globalGet:
		idx := f.readU32()
		if env.inst.globals[idx].Type.ValueType.Cells() == 2 {
			f.pushU64(env.inst.globalBits(idx))
		} else {
			f.pushU32(uint32(env.inst.globalBits(idx)))
		}
	case globalSet:
		idx := f.readU32()
		if env.inst.globals[idx].Type.ValueType.Cells() == 2 {
			env.inst.setGlobalBits(idx, f.popU64())
		} else {
			env.inst.setGlobalBits(idx, uint64(f.popU32()))
		}

	case i32Load, f32Load:
		b, err := env.memoryOperand(f, 4)
		if err != nil {
			return err
		}
		f.pushU32(binary.LittleEndian.Uint32(b))
	case i64Load, f64Load:
		b, err := env.memoryOperand(f, 8)
		if err != nil {
			return err
		}
		f.pushU64(binary.LittleEndian.Uint64(b))
	case i32Load8S:
		b, err := env.memoryOperand(f, 1)
		if err != nil {
			return err
		}
		f.pushI32(int32(int8(b[0])))
	case i32Load8U:
		b, err := env.memoryOperand(f, 1)
		if err != nil {
			return err
		}
		f.pushU32(uint32(b[0]))
	case i32Load16S:
		b, err := env.memoryOperand(f, 2)
		if err != nil {
			return err
		}
		f.pushI32(int32(int16(binary.LittleEndian.Uint16(b))))
	case i32Load16U:
		b, err := env.memoryOperand(f, 2)
		if err != nil {
			return err
		}
		f.pushU32(uint32(binary.LittleEndian.Uint16(b)))
	case i64Load8S:
		b, err := env.memoryOperand(f, 1)
		if err != nil {
			return err
		}
		f.pushI64(int64(int8(b[0])))
	case i64Load8U:
		b, err := env.memoryOperand(f, 1)
		if err != nil {
			return err
		}
		f.pushU64(uint64(b[0]))
	case i64Load16S:
		b, err := env.memoryOperand(f, 2)
		if err != nil {
			return err
		}
		f.pushI64(int64(int16(binary.LittleEndian.Uint16(b))))
	case i64Load16U:
		b, err := env.memoryOperand(f, 2)
		if err != nil {
			return err
		}
		f.pushU64(uint64(binary.LittleEndian.Uint16(b)))
	case i64Load32S:
		b, err := env.memoryOperand(f, 4)
		if err != nil {
			return err
		}
		f.pushI64(int64(int32(binary.LittleEndian.Uint32(b))))
	case i64Load32U:
		b, err := env.memoryOperand(f, 4)
		if err != nil {
			return err
		}
		f.pushU64(uint64(binary.LittleEndian.Uint32(b)))

	case i32Store, f32Store:
		v := f.popU32()
		b, err := env.memoryOperand(f, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, v)
	case i64Store, f64Store:
		v := f.popU64()
		b, err := env.memoryOperand(f, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, v)
	case i32Store8, i64Store8:
		var v uint64
		if op == i32Store8 {
			v = uint64(f.popU32())
		} else {
			v = f.popU64()
		}
		b, err := env.memoryOperand(f, 1)
		if err != nil {
			return err
		}
		b[0] = byte(v)
	case i32Store16, i64Store16:
		var v uint64
		if op == i32Store16 {
			v = uint64(f.popU32())
		} else {
			v = f.popU64()
		}
		b, err := env.memoryOperand(f, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b, uint16(v))
	case i64Store32:
		v := f.popU64()
		b, err := env.memoryOperand(f, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, uint32(v))
	case memorySize:
		f.pc++
		f.pushU32(env.inst.memory.Size())
	case memoryGrow:
		f.pc++
		f.pushI32(env.inst.memory.Grow(f.popU32()))

	case i32Const:
		var v int32
		v, f.pc = fastReadInt32(f.code, f.pc)
		f.pushI32(v)
	case i64Const:
		var v int64
		v, f.pc = fastReadInt64(f.code, f.pc)
		f.pushI64(v)
	case f32Const:
		f.pushU32(binary.LittleEndian.Uint32(f.code[f.pc:]))
		f.pc += 4
	case f64Const:
		f.pushU64(binary.LittleEndian.Uint64(f.code[f.pc:]))
		f.pc += 8

	case miscPrefix:
		return env.executeMisc(f)
	default:
		return executeNumeric(f, op)
	}
	return nil
}

// local returns the cell offset and width of local idx.
func (f *frame) local(idx uint32) (int, int) {
	fn := f.fn.code
	return f.lp + fn.LocalOffsets[idx], fn.LocalTypes[idx].Cells()
}

// blockCells returns the parameter and result cell counts of a block type.
func (env *ExecEnv) blockCells(blockType int64) (int, int) {
	if blockType >= 0 {
		t := env.inst.module.Types[blockType]
		return t.ParamCells, t.ResultCells
	}
	b := byte(blockType & 0x7f)
	if b == blockTypeEmpty {
		return 0, 0
	}
	return 0, ValueType(b).Cells()
}

func (env *ExecEnv) enterBlock(f *frame, op opcode) error {
	var blockType int64
	blockType, f.pc = fastReadInt64(f.code, f.pc)
	paramCells, resultCells := env.blockCells(blockType)

	if op == loop {
		env.labels[f.csp] = label{isLoop: true, arity: paramCells, target: f.pc, sp: f.sp - paramCells}
		f.csp++
		return nil
	}

	cond := true
	if op == ifOp {
		cond = f.popU32() != 0
	}
	elseAddr, endAddr, err := env.blockCache.findBlockAddr(f.fn.code, f.pc)
	if err != nil {
		return err
	}
	l := label{arity: resultCells, target: endAddr + 1, sp: f.sp - paramCells}
	switch {
	case cond:
		env.labels[f.csp] = l
		f.csp++
	case elseAddr >= 0:
		env.labels[f.csp] = l
		f.csp++
		f.pc = elseAddr + 1
	default:
		// An if without else whose condition is false: nothing to run.
		f.pc = endAddr + 1
	}
	return nil
}

// branch transfers control to the label depth levels out. Branching to the
// function body label returns from the function.
func (env *ExecEnv) branch(f *frame, depth uint32) {
	idx := f.csp - 1 - int(depth)
	l := env.labels[idx]
	if idx == f.labelBase {
		env.popFrame()
		return
	}
	copy(f.cells[l.sp:l.sp+l.arity], f.cells[f.sp-l.arity:f.sp])
	f.sp = l.sp + l.arity
	f.pc = l.target
	if l.isLoop {
		f.csp = idx + 1
	} else {
		f.csp = idx
	}
}

func (env *ExecEnv) handleBrTable(f *frame) {
	n := f.readU32()
	i := f.popU32()
	if i > n {
		i = n
	}
	for range i {
		f.pc = skipLeb(f.code, f.pc)
	}
	env.branch(f, f.readU32())
}

// call invokes callee with its arguments on top of f's operand stack. A wasm
// callee gets a new frame that run picks up on its next iteration.
func (env *ExecEnv) call(f *frame, callee *funcInstance) error {
	argBase := f.sp - callee.typ.ParamCells
	if callee.code == nil {
		if err := env.callNative(callee, argBase); err != nil {
			return err
		}
		if exc := env.inst.pendingException(); exc != nil {
			return exc
		}
		// A native that re-entered wasm may have grown env.frames.
		f = &env.frames[len(env.frames)-1]
		f.sp = argBase + callee.typ.ResultCells
		return nil
	}
	f.sp = argBase
	return env.pushFrame(callee, argBase)
}

func (env *ExecEnv) handleCallIndirect(f *frame) error {
	typeIndex := f.readU32()
	f.readU32() // table index, always 0
	elemIndex := f.popU32()

	table := env.inst.table
	if table == nil {
		return ErrUndefinedElement
	}
	funcIndex, err := table.Get(elemIndex)
	if err != nil {
		return err
	}
	if funcIndex == NullReference {
		return ErrUninitializedElement
	}
	callee := &env.inst.functions[funcIndex]
	if !callee.typ.Equal(env.inst.module.Types[typeIndex]) {
		return ErrIndirectCallTypeMismatch
	}
	return env.call(f, callee)
}

// memoryOperand pops an address, reads the memarg immediates and returns the
// n bytes addressed.
func (env *ExecEnv) memoryOperand(f *frame, n uint64) ([]byte, error) {
	f.pc = skipLeb(f.code, f.pc) // alignment hint
	offset := f.readU32()
	addr := f.popU32()
	mem := env.inst.memory
	start, err := mem.checkRange(addr, offset, n)
	if err != nil {
		return nil, err
	}
	return mem.data[start : start+n], nil
}

func (env *ExecEnv) executeMisc(f *frame) error {
	switch sub := f.readU32(); sub {
	case i32TruncSatF32S:
		f.pushI32(truncSatS32(f.popF32()))
	case i32TruncSatF32U:
		f.pushI32(truncSatU32(f.popF32()))
	case i32TruncSatF64S:
		f.pushI32(truncSatS32(f.popF64()))
	case i32TruncSatF64U:
		f.pushI32(truncSatU32(f.popF64()))
	case i64TruncSatF32S:
		f.pushI64(truncSatS64(f.popF32()))
	case i64TruncSatF32U:
		f.pushI64(truncSatU64(f.popF32()))
	case i64TruncSatF64S:
		f.pushI64(truncSatS64(f.popF64()))
	case i64TruncSatF64U:
		f.pushI64(truncSatU64(f.popF64()))
	case memoryInit:
		seg := f.readU32()
		f.pc++
		n, src, dst := f.popU32(), f.popU32(), f.popU32()
		var content []byte
		if !env.inst.droppedData.Test(uint(seg)) {
			content = env.inst.module.Datas[seg].Init
		}
		return env.inst.memory.Init(dst, src, n, content)
	case dataDrop:
		env.inst.droppedData.Set(uint(f.readU32()))
	case memoryCopy:
		f.pc += 2
		n, src, dst := f.popU32(), f.popU32(), f.popU32()
		return env.inst.memory.Copy(dst, src, n)
	case memoryFill:
		f.pc++
		n, val, dst := f.popU32(), f.popU32(), f.popU32()
		return env.inst.memory.Fill(dst, byte(val), n)
	default:
		return fmt.Errorf("%w 0xfc 0x%02x", ErrUnsupportedOpcode, sub)
	}
	return nil
}

func unaryOp[T, R any](pop func() T, push func(R), op func(T) R) {
	push(op(pop()))
}

func binaryOp[T, R any](pop func() T, push func(R), op func(a, b T) R) {
	b := pop()
	a := pop()
	push(op(a, b))
}

func binaryOpErr[T any](pop func() T, push func(T), op func(a, b T) (T, error)) error {
	b := pop()
	a := pop()
	r, err := op(a, b)
	if err != nil {
		return err
	}
	push(r)
	return nil
}

func convertOpErr[T, R any](pop func() T, push func(R), op func(T) (R, error)) error {
	r, err := op(pop())
	if err != nil {
		return err
	}
	push(r)
	return nil
}

func compareOp[T any](f *frame, pop func() T, op func(a, b T) bool) {
	b := pop()
	a := pop()
	f.pushI32(boolToI32(op(a, b)))
}

// executeNumeric runs the numeric instructions, which take no immediates.
func executeNumeric(f *frame, op opcode) error {
	switch op {
	case i32Eqz:
		f.pushI32(boolToI32(f.popU32() == 0))
	case i32Eq:
		compareOp(f, f.popI32, eq[int32])
	case i32Ne:
		compareOp(f, f.popI32, ne[int32])
	case i32LtS:
		compareOp(f, f.popI32, lt[int32])
	case i32LtU:
		compareOp(f, f.popI32, ltU32)
	case i32GtS:
		compareOp(f, f.popI32, gt[int32])
	case i32GtU:
		compareOp(f, f.popI32, gtU32)
	case i32LeS:
		compareOp(f, f.popI32, le[int32])
	case i32LeU:
		compareOp(f, f.popI32, leU32)
	case i32GeS:
		compareOp(f, f.popI32, ge[int32])
	case i32GeU:
		compareOp(f, f.popI32, geU32)
	case i64Eqz:
		f.pushI32(boolToI32(f.popU64() == 0))
	case i64Eq:
		compareOp(f, f.popI64, eq[int64])
	case i64Ne:
		compareOp(f, f.popI64, ne[int64])
	case i64LtS:
		compareOp(f, f.popI64, lt[int64])
	case i64LtU:
		compareOp(f, f.popI64, ltU64)
	case i64GtS:
		compareOp(f, f.popI64, gt[int64])
	case i64GtU:
		compareOp(f, f.popI64, gtU64)
	case i64LeS:
		compareOp(f, f.popI64, le[int64])
	case i64LeU:
		compareOp(f, f.popI64, leU64)
	case i64GeS:
		compareOp(f, f.popI64, ge[int64])
	case i64GeU:
		compareOp(f, f.popI64, geU64)
	case f32Eq:
		compareOp(f, f.popF32, eq[float32])
	case f32Ne:
		compareOp(f, f.popF32, ne[float32])
	case f32Lt:
		compareOp(f, f.popF32, lt[float32])
	case f32Gt:
		compareOp(f, f.popF32, gt[float32])
	case f32Le:
		compareOp(f, f.popF32, le[float32])
	case f32Ge:
		compareOp(f, f.popF32, ge[float32])
	case f64Eq:
		compareOp(f, f.popF64, eq[float64])
	case f64Ne:
		compareOp(f, f.popF64, ne[float64])
	case f64Lt:
		compareOp(f, f.popF64, lt[float64])
	case f64Gt:
		compareOp(f, f.popF64, gt[float64])
	case f64Le:
		compareOp(f, f.popF64, le[float64])
	case f64Ge:
		compareOp(f, f.popF64, ge[float64])

	case i32Clz:
		unaryOp(f.popI32, f.pushI32, clz32)
	case i32Ctz:
		unaryOp(f.popI32, f.pushI32, ctz32)
	case i32Popcnt:
		unaryOp(f.popI32, f.pushI32, popcnt32)
	case i32Add:
		binaryOp(f.popI32, f.pushI32, add[int32])
	case i32Sub:
		binaryOp(f.popI32, f.pushI32, sub[int32])
	case i32Mul:
		binaryOp(f.popI32, f.pushI32, mul[int32])
	case i32DivS:
		return binaryOpErr(f.popI32, f.pushI32, divS[int32])
	case i32DivU:
		return binaryOpErr(f.popI32, f.pushI32, divU32)
	case i32RemS:
		return binaryOpErr(f.popI32, f.pushI32, remS[int32])
	case i32RemU:
		return binaryOpErr(f.popI32, f.pushI32, remU32)
	case i32And:
		binaryOp(f.popI32, f.pushI32, and[int32])
	case i32Or:
		binaryOp(f.popI32, f.pushI32, or[int32])
	case i32Xor:
		binaryOp(f.popI32, f.pushI32, xor[int32])
	case i32Shl:
		binaryOp(f.popI32, f.pushI32, shl32)
	case i32ShrS:
		binaryOp(f.popI32, f.pushI32, shrS32)
	case i32ShrU:
		binaryOp(f.popI32, f.pushI32, shrU32)
	case i32Rotl:
		binaryOp(f.popI32, f.pushI32, rotl32)
	case i32Rotr:
		binaryOp(f.popI32, f.pushI32, rotr32)

	case i64Clz:
		unaryOp(f.popI64, f.pushI64, clz64)
	case i64Ctz:
		unaryOp(f.popI64, f.pushI64, ctz64)
	case i64Popcnt:
		unaryOp(f.popI64, f.pushI64, popcnt64)
	case i64Add:
		binaryOp(f.popI64, f.pushI64, add[int64])
	case i64Sub:
		binaryOp(f.popI64, f.pushI64, sub[int64])
	case i64Mul:
		binaryOp(f.popI64, f.pushI64, mul[int64])
	case i64DivS:
		return binaryOpErr(f.popI64, f.pushI64, divS[int64])
	case i64DivU:
		return binaryOpErr(f.popI64, f.pushI64, divU64)
	case i64RemS:
		return binaryOpErr(f.popI64, f.pushI64, remS[int64])
	case i64RemU:
		return binaryOpErr(f.popI64, f.pushI64, remU64)
	case i64And:
		binaryOp(f.popI64, f.pushI64, and[int64])
	case i64Or:
		binaryOp(f.popI64, f.pushI64, or[int64])
	case i64Xor:
		binaryOp(f.popI64, f.pushI64, xor[int64])
	case i64Shl:
		binaryOp(f.popI64, f.pushI64, shl64)
	case i64ShrS:
		binaryOp(f.popI64, f.pushI64, shrS64)
	case i64ShrU:
		binaryOp(f.popI64, f.pushI64, shrU64)
	case i64Rotl:
		binaryOp(f.popI64, f.pushI64, rotl64)
	case i64Rotr:
		binaryOp(f.popI64, f.pushI64, rotr64)

	case f32Abs:
		unaryOp(f.popF32, f.pushF32, fabs[float32])
	case f32Neg:
		unaryOp(f.popF32, f.pushF32, fneg[float32])
	case f32Ceil:
		unaryOp(f.popF32, f.pushF32, fceil[float32])
	case f32Floor:
		unaryOp(f.popF32, f.pushF32, ffloor[float32])
	case f32Trunc:
		unaryOp(f.popF32, f.pushF32, ftrunc[float32])
	case f32Nearest:
		unaryOp(f.popF32, f.pushF32, fnearest[float32])
	case f32Sqrt:
		unaryOp(f.popF32, f.pushF32, fsqrt[float32])
	case f32Add:
		binaryOp(f.popF32, f.pushF32, add[float32])
	case f32Sub:
		binaryOp(f.popF32, f.pushF32, sub[float32])
	case f32Mul:
		binaryOp(f.popF32, f.pushF32, mul[float32])
	case f32Div:
		binaryOp(f.popF32, f.pushF32, fdiv[float32])
	case f32Min:
		binaryOp(f.popF32, f.pushF32, fmin[float32])
	case f32Max:
		binaryOp(f.popF32, f.pushF32, fmax[float32])
	case f32Copysign:
		binaryOp(f.popF32, f.pushF32, fcopysign[float32])

	case f64Abs:
		unaryOp(f.popF64, f.pushF64, fabs[float64])
	case f64Neg:
		unaryOp(f.popF64, f.pushF64, fneg[float64])
	case f64Ceil:
		unaryOp(f.popF64, f.pushF64, fceil[float64])
	case f64Floor:
		unaryOp(f.popF64, f.pushF64, ffloor[float64])
	case f64Trunc:
		unaryOp(f.popF64, f.pushF64, ftrunc[float64])
	case f64Nearest:
		unaryOp(f.popF64, f.pushF64, fnearest[float64])
	case f64Sqrt:
		unaryOp(f.popF64, f.pushF64, fsqrt[float64])
	case f64Add:
		binaryOp(f.popF64, f.pushF64, add[float64])
	case f64Sub:
		binaryOp(f.popF64, f.pushF64, sub[float64])
	case f64Mul:
		binaryOp(f.popF64, f.pushF64, mul[float64])
	case f64Div:
		binaryOp(f.popF64, f.pushF64, fdiv[float64])
	case f64Min:
		binaryOp(f.popF64, f.pushF64, fmin[float64])
	case f64Max:
		binaryOp(f.popF64, f.pushF64, fmax[float64])
	case f64Copysign:
		binaryOp(f.popF64, f.pushF64, fcopysign[float64])

	case i32WrapI64:
		f.pushU32(uint32(f.popU64()))
	case i32TruncF32S:
		return convertOpErr(f.popF32, f.pushI32, truncS32[float32])
	case i32TruncF32U:
		return convertOpErr(f.popF32, f.pushI32, truncU32[float32])
	case i32TruncF64S:
		return convertOpErr(f.popF64, f.pushI32, truncS32[float64])
	case i32TruncF64U:
		return convertOpErr(f.popF64, f.pushI32, truncU32[float64])
	case i64ExtendI32S:
		f.pushI64(int64(f.popI32()))
	case i64ExtendI32U:
		f.pushU64(uint64(f.popU32()))
	case i64TruncF32S:
		return convertOpErr(f.popF32, f.pushI64, truncS64[float32])
	case i64TruncF32U:
		return convertOpErr(f.popF32, f.pushI64, truncU64[float32])
	case i64TruncF64S:
		return convertOpErr(f.popF64, f.pushI64, truncS64[float64])
	case i64TruncF64U:
		return convertOpErr(f.popF64, f.pushI64, truncU64[float64])
	case f32ConvertI32S:
		f.pushF32(float32(f.popI32()))
	case f32ConvertI32U:
		unaryOp(f.popI32, f.pushF32, convertU32ToF32)
	case f32ConvertI64S:
		f.pushF32(float32(f.popI64()))
	case f32ConvertI64U:
		unaryOp(f.popI64, f.pushF32, convertU64ToF32)
	case f32DemoteF64:
		f.pushF32(float32(f.popF64()))
	case f64ConvertI32S:
		f.pushF64(float64(f.popI32()))
	case f64ConvertI32U:
		unaryOp(f.popI32, f.pushF64, convertU32ToF64)
	case f64ConvertI64S:
		f.pushF64(float64(f.popI64()))
	case f64ConvertI64U:
		unaryOp(f.popI64, f.pushF64, convertU64ToF64)
	case f64PromoteF32:
		f.pushF64(float64(f.popF32()))
	case i32ReinterpretF32, i64ReinterpretF64, f32ReinterpretI32, f64ReinterpretI64:
		// The cells already hold the bit pattern.
	case i32Extend8S:
		f.pushI32(int32(int8(f.popI32())))
	case i32Extend16S:
		f.pushI32(int32(int16(f.popI32())))
	case i64Extend8S:
		f.pushI64(int64(int8(f.popI64())))
	case i64Extend16S:
		f.pushI64(int64(int16(f.popI64())))
	case i64Extend32S:
		f.pushI64(int64(int32(f.popI64())))
	default:
		return fmt.Errorf("%w 0x%02x", ErrUnsupportedOpcode, op)
	}
	return nil
}
