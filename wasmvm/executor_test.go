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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
)

func identity(t byte) *wasmbin.Module {
	return singleFunc(wasmbin.FuncType{Params: []byte{t}, Results: []byte{t}}, nil, wasmbin.LocalGet(0))
}

func TestExecuteFunc(t *testing.T) {
	add := singleFunc(i32i32ToI32, nil, wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.Ops(wasmbin.OpI32Add))

	tests := []struct {
		name   string
		module *wasmbin.Module
		args   []string
		want   string
	}{
		{name: "i32", module: add, args: []string{"2", "3"}, want: "0x5:i32\n"},
		{name: "i32 hex", module: add, args: []string{"0x10", "0x1"}, want: "0x11:i32\n"},
		{name: "i32 negative", module: add, args: []string{"-1", "0"}, want: "0xffffffff:i32\n"},
		{name: "i32 unsigned", module: add, args: []string{"4294967295", "1"}, want: "0x0:i32\n"},
		{name: "i64 negative", module: identity(wasmbin.I64), args: []string{"-2"}, want: "0xfffffffffffffffe:i64\n"},
		{name: "i64 unsigned", module: identity(wasmbin.I64), args: []string{"18446744073709551615"}, want: "0xffffffffffffffff:i64\n"},
		{name: "f32", module: identity(wasmbin.F32), args: []string{"1.5"}, want: "1.5:f32\n"},
		{name: "f64", module: identity(wasmbin.F64), args: []string{"-3.25"}, want: "-3.25:f64\n"},
		{name: "f64 exponent", module: identity(wasmbin.F64), args: []string{"1e10"}, want: "1e+10:f64\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := instantiate(t, tt.module)
			var out bytes.Buffer
			require.NoError(t, ExecuteFunc(inst, "f", tt.args, &out))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestExecuteFuncErrors(t *testing.T) {
	inst := instantiate(t, singleFunc(i32ToI32Type, nil,
		wasmbin.LocalGet(0), wasmbin.I32Const(0), wasmbin.Ops(wasmbin.OpI32DivU)))
	var out bytes.Buffer

	require.ErrorIs(t, ExecuteFunc(inst, "f", nil, &out), ErrInvalidArgumentCount)
	require.EqualError(t, ExecuteFunc(inst, "f", []string{"abc"}, &out), "invalid input argument 0: abc")
	require.EqualError(t, ExecuteFunc(inst, "nope", nil, &out), "lookup function nope failed")

	err := ExecuteFunc(inst, "f", []string{"1"}, &out)
	require.EqualError(t, err, "Exception: integer divide by zero")
	assert.Empty(t, out.String())
}

func TestExecuteMainStart(t *testing.T) {
	m := singleFunc(voidType, nil, wasmbin.I32Const(9), wasmbin.GlobalSet(0))
	m.Exports[0].Name = "_start"
	m.Globals = []wasmbin.Global{{GlobalType: wasmbin.GlobalType{Type: wasmbin.I32, Mutable: true}, Init: wasmbin.I32Const(0)}}
	m.Exports = append(m.Exports, wasmbin.Export{Name: "ran", Kind: wasmbin.KindGlobal, Index: 0})
	inst := instantiate(t, m)

	require.NoError(t, ExecuteMain(inst, []string{"prog"}))
	v, _, _ := inst.LookupGlobal("ran")
	assert.Equal(t, uint64(9), v)
}

// argvModule exports a bump allocator as malloc and a main(argc, argv) that
// stores its arguments at addresses 0 and 4 and returns argc.
func argvModule(withMalloc bool) *wasmbin.Module {
	m := &wasmbin.Module{
		Types: []wasmbin.FuncType{i32i32ToI32, i32ToI32Type},
		Funcs: []wasmbin.Func{
			{Type: 0, Body: wasmbin.Code(
				wasmbin.I32Const(0), wasmbin.LocalGet(0), wasmbin.MemArg(wasmbin.OpI32Store, 2, 0),
				wasmbin.I32Const(4), wasmbin.LocalGet(1), wasmbin.MemArg(wasmbin.OpI32Store, 2, 0),
				wasmbin.LocalGet(0),
			)},
			{Type: 1, Body: wasmbin.Code(
				wasmbin.GlobalGet(0),
				wasmbin.GlobalGet(0), wasmbin.LocalGet(0), wasmbin.Ops(wasmbin.OpI32Add), wasmbin.GlobalSet(0),
			)},
		},
		Memory:  &wasmbin.Limits{Min: 1},
		Globals: []wasmbin.Global{{GlobalType: wasmbin.GlobalType{Type: wasmbin.I32, Mutable: true}, Init: wasmbin.I32Const(1024)}},
		Exports: []wasmbin.Export{{Name: "__main_argc_argv", Kind: wasmbin.KindFunc, Index: 0}},
	}
	if withMalloc {
		m.Exports = append(m.Exports, wasmbin.Export{Name: "malloc", Kind: wasmbin.KindFunc, Index: 1})
	}
	return m
}

func TestExecuteMainArgv(t *testing.T) {
	inst := instantiate(t, argvModule(true))
	argv := []string{"prog", "a1", "third"}
	require.NoError(t, ExecuteMain(inst, argv))

	mem := inst.Memory()
	header, err := mem.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(header))
	argvPtr := binary.LittleEndian.Uint32(header[4:])
	assert.Zero(t, argvPtr%4, "the pointer array is aligned")
	assert.Equal(t, uint32(1024+16), argvPtr, "strings take 5+3+6 bytes, rounded up to 16")

	for i, want := range argv {
		p, err := mem.Read(argvPtr+uint32(4*i), 4)
		require.NoError(t, err)
		s, err := mem.ReadCString(binary.LittleEndian.Uint32(p))
		require.NoError(t, err)
		assert.Equal(t, want, s)
	}
}

func TestExecuteMainWithoutMalloc(t *testing.T) {
	inst := instantiate(t, argvModule(false))
	require.NoError(t, ExecuteMain(inst, []string{"prog"}))

	header, _ := inst.Memory().Read(0, 8)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(header))
	assert.Zero(t, binary.LittleEndian.Uint32(header[4:]), "argv is null")
}

func TestExecuteMainErrors(t *testing.T) {
	withExport := func(m *wasmbin.Module, name string) *wasmbin.Module {
		m.Exports[0].Name = name
		return m
	}

	t.Run("no entry point", func(t *testing.T) {
		inst := instantiate(t, singleFunc(voidType, nil))
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrEntryPointNotFound)
		assert.Equal(t, ErrEntryPointNotFound.Error(), inst.Exception())
	})

	t.Run("_start with parameters and no main", func(t *testing.T) {
		inst := instantiate(t, withExport(singleFunc(wasmbin.FuncType{Params: []byte{wasmbin.I32}}, nil), "_start"))
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrEntryPointNotFound)
	})

	t.Run("main with an i64 parameter", func(t *testing.T) {
		inst := instantiate(t, withExport(singleFunc(wasmbin.FuncType{Params: []byte{wasmbin.I64}}, nil), "main"))
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrInvalidMainType)
	})

	t.Run("main returning f32", func(t *testing.T) {
		inst := instantiate(t, withExport(singleFunc(wasmbin.FuncType{Results: []byte{wasmbin.F32}}, nil,
			wasmbin.F32Const(0)), "_main"))
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrInvalidMainType)
	})

	t.Run("main is an import", func(t *testing.T) {
		inst := instantiate(t, &wasmbin.Module{
			Types:   []wasmbin.FuncType{voidType},
			Imports: []wasmbin.Import{{Module: "env", Field: "main", Kind: wasmbin.KindFunc}},
			Exports: []wasmbin.Export{{Name: "main", Kind: wasmbin.KindFunc, Index: 0}},
		})
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrMainIsImport)
		assert.Equal(t, "lookup main function failed", inst.Exception())
	})

	t.Run("main traps", func(t *testing.T) {
		inst := instantiate(t, withExport(singleFunc(voidType, nil, wasmbin.Ops(wasmbin.OpUnreachable)), "main"))
		require.ErrorIs(t, ExecuteMain(inst, nil), ErrUnreachable)
		assert.Equal(t, "unreachable", inst.Exception())
	})
}

func TestExecuteMainSkipsInvalidStart(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	inst := instantiate(t, &wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Params: []byte{wasmbin.I32}},
			{Results: []byte{wasmbin.I32}},
		},
		Funcs: []wasmbin.Func{
			{Type: 0, Body: wasmbin.Ops(wasmbin.OpUnreachable)},
			{Type: 1, Body: wasmbin.Code(wasmbin.I32Const(7), wasmbin.GlobalSet(0), wasmbin.I32Const(0))},
		},
		Globals: []wasmbin.Global{{GlobalType: wasmbin.GlobalType{Type: wasmbin.I32, Mutable: true}, Init: wasmbin.I32Const(0)}},
		Exports: []wasmbin.Export{
			{Name: "_start", Kind: wasmbin.KindFunc, Index: 0},
			{Name: "main", Kind: wasmbin.KindFunc, Index: 1},
			{Name: "ran", Kind: wasmbin.KindGlobal, Index: 0},
		},
	})

	require.NoError(t, ExecuteMain(inst, nil))
	v, _, ok := inst.LookupGlobal("ran")
	require.True(t, ok)
	assert.Equal(t, uint64(7), v, "main ran instead of _start")

	warnings := logs.FilterMessage("lookup wasi _start function failed: invalid function type").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "(i32)->()", warnings[0].ContextMap()["type"])
}

func TestInvokeErrors(t *testing.T) {
	inst := instantiate(t, singleFunc(i32ToI32Type, nil, wasmbin.LocalGet(0)))

	_, err := inst.Invoke("f")
	require.ErrorIs(t, err, ErrInvalidArgumentCount)

	_, err = inst.Invoke("f", 1.5)
	require.EqualError(t, err, "argument 0: float64 does not match i32")

	_, err = inst.Invoke("g", int32(1))
	require.EqualError(t, err, "lookup function g failed")

	results, err := inst.Invoke("f", uint32(0xFFFFFFFF))
	require.NoError(t, err)
	assert.Equal(t, []any{int32(-1)}, results)
}
