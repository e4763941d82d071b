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
	"errors"
	"fmt"
	"math"
)

var ErrStackOverflow = errors.New("wasm operand stack overflow")

// minStackCells is the smallest arena NewExecEnv accepts.
const minStackCells = 64

// label is an entry of the label stack. A branch to it copies arity cells
// down to sp and continues at target.
type label struct {
	isLoop bool
	arity  int
	target int
	sp     int
}

// frame is an active wasm function call. Its locals and operands live in the
// cells arena starting at lp, and its labels in the label arena starting at
// labelBase.
type frame struct {
	fn    *funcInstance
	code  []byte
	pc    int
	cells []uint32

	lp        int
	sp        int
	labelBase int
	csp       int
	// retBase is where the results are copied in the caller's operand
	// stack. entry marks a frame called from the host rather than from
	// another wasm frame.
	retBase int
	entry   bool
}

func (f *frame) pushU32(v uint32) {
	f.cells[f.sp] = v
	f.sp++
}

func (f *frame) popU32() uint32 {
	f.sp--
	return f.cells[f.sp]
}

func (f *frame) pushU64(v uint64) {
	f.cells[f.sp] = uint32(v)
	f.cells[f.sp+1] = uint32(v >> 32)
	f.sp += 2
}

func (f *frame) popU64() uint64 {
	f.sp -= 2
	return uint64(f.cells[f.sp]) | uint64(f.cells[f.sp+1])<<32
}

func (f *frame) pushI32(v int32)   { f.pushU32(uint32(v)) }
func (f *frame) popI32() int32     { return int32(f.popU32()) }
func (f *frame) pushI64(v int64)   { f.pushU64(uint64(v)) }
func (f *frame) popI64() int64     { return int64(f.popU64()) }
func (f *frame) pushF32(v float32) { f.pushU32(math.Float32bits(v)) }
func (f *frame) popF32() float32   { return math.Float32frombits(f.popU32()) }
func (f *frame) pushF64(v float64) { f.pushU64(math.Float64bits(v)) }
func (f *frame) popF64() float64   { return math.Float64frombits(f.popU64()) }

// readU32 decodes an unsigned LEB128 immediate.
func (f *frame) readU32() uint32 {
	var v uint32
	v, f.pc = fastReadUint32(f.code, f.pc)
	return v
}

// ExecEnv is an execution environment: the interpreter stack of one thread
// of wasm execution. It must not be used by more than one goroutine at a
// time.
type ExecEnv struct {
	inst *ModuleInstance

	// cells is the call-stack arena. Frames are bump allocated at top and
	// freed in reverse order.
	cells []uint32
	top   int

	labels   []label
	labelTop int

	frames       []frame
	maxCallDepth int

	blockCache *blockAddrCache
}

// NewExecEnv creates an execution environment for inst with a call stack of
// stackSize bytes.
func NewExecEnv(inst *ModuleInstance, stackSize int) (*ExecEnv, error) {
	n := stackSize / 4
	if n < minStackCells {
		return nil, fmt.Errorf("create exec env failed: stack size %d is too small", stackSize)
	}
	return &ExecEnv{
		inst:         inst,
		cells:        make([]uint32, n),
		labels:       make([]label, max(n/4, minStackCells)),
		frames:       make([]frame, 0, 16),
		maxCallDepth: inst.config.MaxCallDepth,
		blockCache:   newBlockAddrCache(inst.config.BlockCacheSize),
	}, nil
}

// Instance returns the module instance the environment executes.
func (env *ExecEnv) Instance() *ModuleInstance {
	return env.inst
}

// Memory returns the linear memory of the executing instance, or nil.
func (env *ExecEnv) Memory() *Memory {
	return env.inst.memory
}

// Destroy releases the call stack. The environment cannot be used afterwards.
func (env *ExecEnv) Destroy() {
	env.cells = nil
	env.labels = nil
	env.frames = nil
	env.top, env.labelTop = 0, 0
}

// allocFrame reserves n cells and nLabels labels at the top of the arenas.
func (env *ExecEnv) allocFrame(n, nLabels int) (int, int, error) {
	if env.top+n > len(env.cells) || env.labelTop+nLabels > len(env.labels) {
		return 0, 0, ErrStackOverflow
	}
	cellBase, labelBase := env.top, env.labelTop
	env.top += n
	env.labelTop += nLabels
	return cellBase, labelBase, nil
}

// freeFrame releases everything allocated since the matching allocFrame.
func (env *ExecEnv) freeFrame(cellBase, labelBase int) {
	env.top = cellBase
	env.labelTop = labelBase
}

// Traceback lists the active wasm functions, innermost first.
func (env *ExecEnv) Traceback() []string {
	names := make([]string, 0, len(env.frames))
	for i := len(env.frames) - 1; i >= 0; i-- {
		f := &env.frames[i]
		names = append(names, fmt.Sprintf("%s+0x%x", f.fn.name(), f.pc))
	}
	return names
}
