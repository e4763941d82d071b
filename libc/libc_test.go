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


package libc

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

// pack lays out args the way clang does for a wasm32 vararg call.
func pack(args ...any) []byte {
	var buf []byte
	align := func(n int) {
		for len(buf)%n != 0 {
			buf = append(buf, 0)
		}
	}
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			align(4)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		case uint32:
			align(4)
			buf = binary.LittleEndian.AppendUint32(buf, v)
		case int64:
			align(8)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		case float64:
			align(8)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf
}

func TestFormatC(t *testing.T) {
	mem := wasmvm.NewMemory(wasmvm.MemoryType{Limits: wasmvm.Limits{Min: 1}}, 1)
	require.NoError(t, mem.Write(100, []byte("wasm\x00")))

	tests := []struct {
		format string
		args   []byte
		want   string
	}{
		{"plain text", nil, "plain text"},
		{"%d %i", pack(int32(-5), int32(7)), "-5 7"},
		{"%u", pack(int32(-1)), "4294967295"},
		{"%x %X %o", pack(int32(255), int32(255), int32(8)), "ff FF 10"},
		{"%#x", pack(int32(255)), "0xff"},
		{"%05d|%-4d|%+d", pack(int32(42), int32(7), int32(3)), "00042|7   |+3"},
		{"%ld", pack(int32(-9)), "-9"},
		{"%lld", pack(int64(math.MinInt64)), "-9223372036854775808"},
		{"%d %lld", pack(int32(1), int64(1<<40)), "1 1099511627776"},
		{"%llu", pack(int64(-1)), "18446744073709551615"},
		{"%c%c", pack(int32('o'), int32('k')), "ok"},
		{"%s!", pack(uint32(100)), "wasm!"},
		{"%.2s|%6s", pack(uint32(100), uint32(100)), "wa|  wasm"},
		{"%s", pack(uint32(0)), "(null)"},
		{"%f", pack(1.5), "1.500000"},
		{"%.2f", pack(math.Pi), "3.14"},
		{"%e", pack(1234.5), "1.234500e+03"},
		{"%g %g", pack(0.1, 1234567.0), "0.1 1.23457e+06"},
		{"%d %f", pack(int32(3), 2.0), "3 2.000000"},
		{"%p", pack(uint32(0x400)), "0x400"},
		{"100%%", nil, "100%"},
		{"%q", nil, "%q"},
		{"trailing %", nil, "trailing %"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			got, err := formatC(mem, tc.format, tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestFormatCErrors(t *testing.T) {
	mem := wasmvm.NewMemory(wasmvm.MemoryType{Limits: wasmvm.Limits{Min: 1}}, 1)

	_, err := formatC(mem, "%d %d", pack(int32(1)))
	require.ErrorIs(t, err, errVarargs)

	_, err = formatC(mem, "%f", pack(int32(1)))
	require.ErrorIs(t, err, errVarargs)

	_, err = formatC(mem, "%s", pack(uint32(wasmvm.PageSize+8)))
	require.ErrorIs(t, err, wasmvm.ErrMemoryOutOfBounds)
}

func TestFormatCIntegers(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("%d matches strconv", prop.ForAll(func(v int32) bool {
		got, err := formatC(nil, "%d", pack(v))
		return err == nil && string(got) == strconv.Itoa(int(v))
	}, gen.Int32()))
	properties.Property("%llx matches strconv", prop.ForAll(func(pad int32, v int64) bool {
		got, err := formatC(nil, "%d%llx", pack(pad, v))
		return err == nil && string(got) == strconv.Itoa(int(pad))+strconv.FormatUint(uint64(v), 16)
	}, gen.Int32(), gen.Int64()))
	properties.TestingRun(t)
}

// consoleModule calls the builtins from wasm. The format string for printf
// lives at 0, its arguments at 64 and a string argument at 128.
func consoleModule() *wasmbin.Module {
	i32 := wasmbin.I32
	return &wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Params: []byte{i32}, Results: []byte{i32}},
			{Params: []byte{i32, i32}, Results: []byte{i32}},
			{},
			{Params: []byte{wasmbin.F64}},
		},
		Imports: []wasmbin.Import{
			{Module: ModuleName, Field: "puts", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: ModuleName, Field: "printf", Kind: wasmbin.KindFunc, TypeIndex: 1},
			{Module: ModuleName, Field: "abort", Kind: wasmbin.KindFunc, TypeIndex: 2},
			{Module: ModuleName, Field: "print_f64", Kind: wasmbin.KindFunc, TypeIndex: 3},
			{Module: ModuleName, Field: "strlen", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: ModuleName, Field: "putchar", Kind: wasmbin.KindFunc, TypeIndex: 0},
		},
		Memory: &wasmbin.Limits{Min: 1},
		Data: []wasmbin.Data{
			{Offset: 0, Init: []byte("%s has %d pages\n\x00")},
			{Offset: 64, Init: pack(uint32(128), int32(1))},
			{Offset: 128, Init: []byte("memory\x00")},
		},
		Funcs: []wasmbin.Func{
			{Type: 2, Body: wasmbin.Code(
				wasmbin.I32Const(128), wasmbin.Call(0), wasmbin.Ops(wasmbin.OpDrop),
				wasmbin.I32Const(0), wasmbin.I32Const(64), wasmbin.Call(1), wasmbin.Ops(wasmbin.OpDrop),
				wasmbin.I32Const('!'), wasmbin.Call(5), wasmbin.Ops(wasmbin.OpDrop),
				wasmbin.F64Const(0.25), wasmbin.Call(3),
			)},
			{Type: 2, Body: wasmbin.Call(2)},
		},
		Exports: []wasmbin.Export{
			{Name: "run", Kind: wasmbin.KindFunc, Index: 6},
			{Name: "crash", Kind: wasmbin.KindFunc, Index: 7},
			{Name: "strlen", Kind: wasmbin.KindFunc, Index: 4},
		},
	}
}

func TestBuiltinsFromWasm(t *testing.T) {
	var out bytes.Buffer
	rt := wasmvm.NewRuntime()
	require.NoError(t, New(&out).Register(rt.Registry()))
	inst, err := rt.InstantiateFromBytes(consoleModule().Encode())
	require.NoError(t, err)

	_, err = inst.Invoke("run")
	require.NoError(t, err)
	assert.Equal(t, "memory\nmemory has 1 pages\n!0.25\n", out.String())

	got, err := inst.Invoke("strlen", int32(0))
	require.NoError(t, err)
	assert.Equal(t, []any{int32(len("%s has %d pages\n"))}, got)

	_, err = inst.Invoke("crash")
	require.ErrorIs(t, err, ErrAbort)
	assert.Equal(t, "env.abort()", inst.Exception())
}

func TestPrintValues(t *testing.T) {
	var out bytes.Buffer
	b := New(&out)
	b.printI32(nil, -1)
	b.printI64(nil, 1<<40)
	b.printF32(nil, 0.1)
	b.printF64(nil, math.Inf(-1))
	assert.Equal(t, "-1\n1099511627776\n0.1\n-Inf\n", out.String())
}
