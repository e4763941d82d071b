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
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
)

// Types of the differential module.
const (
	diffI32Binary uint32 = iota
	diffI64Binary
	diffF64Binary
	diffF64ToI32
	diffF32Unary
)

type diffOp struct {
	name    string
	typeIdx uint32
	op      []byte
}

var diffOps = []diffOp{
	{"i32.add", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Add)},
	{"i32.sub", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Sub)},
	{"i32.mul", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Mul)},
	{"i32.div_s", diffI32Binary, wasmbin.Ops(wasmbin.OpI32DivS)},
	{"i32.div_u", diffI32Binary, wasmbin.Ops(wasmbin.OpI32DivU)},
	{"i32.rem_s", diffI32Binary, wasmbin.Ops(wasmbin.OpI32RemS)},
	{"i32.rem_u", diffI32Binary, wasmbin.Ops(wasmbin.OpI32RemU)},
	{"i32.shl", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Shl)},
	{"i32.shr_s", diffI32Binary, wasmbin.Ops(wasmbin.OpI32ShrS)},
	{"i32.shr_u", diffI32Binary, wasmbin.Ops(wasmbin.OpI32ShrU)},
	{"i32.rotl", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Rotl)},
	{"i32.rotr", diffI32Binary, wasmbin.Ops(wasmbin.OpI32Rotr)},
	{"i32.lt_u", diffI32Binary, wasmbin.Ops(wasmbin.OpI32LtU)},
	{"i32.ge_s", diffI32Binary, wasmbin.Ops(wasmbin.OpI32GeS)},
	{"i64.add", diffI64Binary, wasmbin.Ops(wasmbin.OpI64Add)},
	{"i64.mul", diffI64Binary, wasmbin.Ops(wasmbin.OpI64Mul)},
	{"i64.div_s", diffI64Binary, wasmbin.Ops(wasmbin.OpI64DivS)},
	{"i64.div_u", diffI64Binary, wasmbin.Ops(wasmbin.OpI64DivU)},
	{"i64.rem_s", diffI64Binary, wasmbin.Ops(wasmbin.OpI64RemS)},
	{"i64.shr_s", diffI64Binary, wasmbin.Ops(wasmbin.OpI64ShrS)},
	{"i64.rotl", diffI64Binary, wasmbin.Ops(wasmbin.OpI64Rotl)},
	{"f64.add", diffF64Binary, wasmbin.Ops(wasmbin.OpF64Add)},
	{"f64.div", diffF64Binary, wasmbin.Ops(wasmbin.OpF64Div)},
	{"f64.min", diffF64Binary, wasmbin.Ops(wasmbin.OpF64Min)},
	{"f64.max", diffF64Binary, wasmbin.Ops(wasmbin.OpF64Max)},
	{"f64.copysign", diffF64Binary, wasmbin.Ops(wasmbin.OpF64Copysign)},
	{"i32.trunc_f64_s", diffF64ToI32, wasmbin.Ops(wasmbin.OpI32TruncF64S)},
	{"i32.trunc_f64_u", diffF64ToI32, wasmbin.Ops(wasmbin.OpI32TruncF64U)},
	{"i32.trunc_sat_f64_u", diffF64ToI32, wasmbin.Misc(wasmbin.MiscI32TruncSatF64U)},
	{"f32.nearest", diffF32Unary, wasmbin.Ops(wasmbin.OpF32Nearest)},
	{"f32.sqrt", diffF32Unary, wasmbin.Ops(wasmbin.OpF32Sqrt)},
	{"f32.ceil", diffF32Unary, wasmbin.Ops(wasmbin.OpF32Ceil)},
}

func diffModule() *wasmbin.Module {
	m := &wasmbin.Module{
		Types: []wasmbin.FuncType{
			diffI32Binary: {Params: []byte{wasmbin.I32, wasmbin.I32}, Results: []byte{wasmbin.I32}},
			diffI64Binary: {Params: []byte{wasmbin.I64, wasmbin.I64}, Results: []byte{wasmbin.I64}},
			diffF64Binary: {Params: []byte{wasmbin.F64, wasmbin.F64}, Results: []byte{wasmbin.F64}},
			diffF64ToI32:  {Params: []byte{wasmbin.F64}, Results: []byte{wasmbin.I32}},
			diffF32Unary:  {Params: []byte{wasmbin.F32}, Results: []byte{wasmbin.F32}},
		},
	}
	for i, d := range diffOps {
		body := wasmbin.LocalGet(0)
		if d.typeIdx <= diffF64Binary {
			body = wasmbin.Code(body, wasmbin.LocalGet(1))
		}
		m.Funcs = append(m.Funcs, wasmbin.Func{Type: d.typeIdx, Body: wasmbin.Code(body, d.op)})
		m.Exports = append(m.Exports, wasmbin.Export{Name: d.name, Kind: wasmbin.KindFunc, Index: uint32(i)})
	}
	return m
}

// callRaw calls fn with wazero-style raw parameters and returns its single
// result the same way.
func callRaw(env *ExecEnv, fn *ExportedFunction, params []uint64) (uint64, error) {
	cells := make([]uint32, max(fn.Type.ParamCells, fn.Type.ResultCells))
	c := 0
	for i, p := range fn.Type.Params {
		cells[c] = uint32(params[i])
		if p.Cells() == 2 {
			cells[c+1] = uint32(params[i] >> 32)
		}
		c += p.Cells()
	}
	if err := env.CallFunction(fn.Index, cells); err != nil {
		return 0, err
	}
	if fn.Type.Results[0].Cells() == 2 {
		return uint64(cells[0]) | uint64(cells[1])<<32, nil
	}
	return uint64(cells[0]), nil
}

func sameResult(t ValueType, a, b uint64) bool {
	switch t {
	case F32:
		x, y := api.DecodeF32(a), api.DecodeF32(b)
		return a == b || (math.IsNaN(float64(x)) && math.IsNaN(float64(y)))
	case F64:
		x, y := api.DecodeF64(a), api.DecodeF64(b)
		return a == b || (math.IsNaN(x) && math.IsNaN(y))
	case I32:
		return uint32(a) == uint32(b)
	}
	return a == b
}

func TestDifferentialAgainstWazero(t *testing.T) {
	ctx := context.Background()
	bin := diffModule().Encode()

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)
	theirs, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)

	ours := instantiate(t, diffModule())
	env, err := NewExecEnv(ours, DefaultConfig().StackSize)
	require.NoError(t, err)
	defer env.Destroy()

	agree := func(name string, params ...uint64) bool {
		fn, ok := ours.LookupFunction(name)
		if !ok {
			return false
		}
		got, ourErr := callRaw(env, fn, params)
		want, theirErr := theirs.ExportedFunction(name).Call(ctx, params...)
		if ourErr != nil || theirErr != nil {
			return ourErr != nil && theirErr != nil
		}
		return sameResult(fn.Type.Results[0], got, want[0])
	}

	// Values around the edges of the integer ranges are the interesting
	// ones, so they are mixed into the random inputs.
	i32s := gen.OneGenOf(gen.Int32(), gen.OneConstOf(int32(0), int32(-1), int32(1), int32(math.MinInt32), int32(math.MaxInt32)))
	i64s := gen.OneGenOf(gen.Int64(), gen.OneConstOf(int64(0), int64(-1), int64(math.MinInt64), int64(math.MaxInt64)))
	f64s := gen.OneGenOf(gen.Float64(), gen.Float64Range(-5e9, 5e9),
		gen.OneConstOf(0.0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.NaN(), 2147483647.9, -2147483648.9, 4294967295.5))
	f32s := gen.OneGenOf(gen.Float32(), gen.Float32Range(-100, 100), gen.OneConstOf(float32(0.5), float32(-2.5), float32(math.Inf(-1))))

	properties := gopter.NewProperties(nil)
	for _, d := range diffOps {
		switch d.typeIdx {
		case diffI32Binary:
			properties.Property(d.name, prop.ForAll(func(a, b int32) bool {
				return agree(d.name, api.EncodeI32(a), api.EncodeI32(b))
			}, i32s, i32s))
		case diffI64Binary:
			properties.Property(d.name, prop.ForAll(func(a, b int64) bool {
				return agree(d.name, api.EncodeI64(a), api.EncodeI64(b))
			}, i64s, i64s))
		case diffF64Binary:
			properties.Property(d.name, prop.ForAll(func(a, b float64) bool {
				return agree(d.name, api.EncodeF64(a), api.EncodeF64(b))
			}, f64s, f64s))
		case diffF64ToI32:
			properties.Property(d.name, prop.ForAll(func(a float64) bool {
				return agree(d.name, api.EncodeF64(a))
			}, f64s))
		case diffF32Unary:
			properties.Property(d.name, prop.ForAll(func(a float32) bool {
				return agree(d.name, api.EncodeF32(a))
			}, f32s))
		}
	}
	properties.TestingRun(t)
}
