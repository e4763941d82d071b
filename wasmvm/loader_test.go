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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
)

var (
	header       = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	voidType     = wasmbin.FuncType{}
	i32i32ToI32  = wasmbin.FuncType{Params: []byte{wasmbin.I32, wasmbin.I32}, Results: []byte{wasmbin.I32}}
	i32ToI32Type = wasmbin.FuncType{Params: []byte{wasmbin.I32}, Results: []byte{wasmbin.I32}}
)

func load(m *wasmbin.Module) (*Module, error) {
	return LoadModule(m.Encode(), nil, DefaultConfig())
}

func concat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func TestLoadEmptyModule(t *testing.T) {
	m, err := LoadModule(header, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, m.Functions)
	assert.Nil(t, m.StartFunction)
}

func TestLoadHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
		wantMsg string
	}{
		{
			name:    "bad magic",
			input:   []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00},
			wantErr: ErrInvalidMagic,
			wantMsg: "WASM module load failed: invalid magic number/version: magic header not detected",
		},
		{
			name:    "short magic",
			input:   []byte{0x00, 0x61},
			wantErr: ErrInvalidMagic,
		},
		{
			name:    "version 2",
			input:   []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00},
			wantErr: ErrInvalidVersion,
			wantMsg: "WASM module load failed: invalid magic number/version: unknown binary version",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := LoadModule(tt.input, nil, DefaultConfig())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, m)
			var le *LoadError
			require.True(t, errors.As(err, &le))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
		})
	}
}

func TestLoadSectionFraming(t *testing.T) {
	typeSection := wasmbin.Section(wasmbin.SectionType, []byte{0x00})
	funcSection := wasmbin.Section(wasmbin.SectionFunction, []byte{0x00})

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{
			name:    "unknown section id",
			input:   concat(header, wasmbin.Section(13, nil)),
			wantErr: ErrUnknownSection,
		},
		{
			name:    "sections out of order",
			input:   concat(header, funcSection, typeSection),
			wantErr: ErrUnexpectedSection,
		},
		{
			name:    "duplicate section",
			input:   concat(header, typeSection, typeSection),
			wantErr: ErrUnexpectedSection,
		},
		{
			name:    "payload longer than parsed",
			input:   concat(header, wasmbin.Section(wasmbin.SectionType, []byte{0x00, 0x00})),
			wantErr: ErrSectionSizeMismatch,
		},
		{
			name:    "payload shorter than parsed",
			input:   concat(header, wasmbin.Section(wasmbin.SectionType, []byte{0x01, 0x60})),
			wantErr: ErrSectionSizeMismatch,
		},
		{
			name:    "declared size overruns buffer",
			input:   concat(header, []byte{wasmbin.SectionType, 0x05, 0x00}),
			wantErr: ErrUnexpectedEnd,
		},
		{
			name: "function without code",
			input: concat(header,
				wasmbin.Section(wasmbin.SectionType, concat([]byte{0x01}, []byte{0x60, 0x00, 0x00})),
				wasmbin.Section(wasmbin.SectionFunction, []byte{0x01, 0x00})),
			wantErr: ErrFuncCodeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModule(tt.input, nil, DefaultConfig())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadCustomSectionsAreSkipped(t *testing.T) {
	m, err := load(&wasmbin.Module{
		Customs: []wasmbin.Custom{{Name: "producers", Payload: []byte{0xff, 0xfe}}},
		Types:   []wasmbin.FuncType{voidType},
		Funcs:   []wasmbin.Func{{Type: 0}},
	})
	require.NoError(t, err)
	assert.Len(t, m.Functions, 1)
}

func TestLoadCustomSectionInvalidName(t *testing.T) {
	_, err := LoadModule(concat(header,
		wasmbin.Section(wasmbin.SectionCustom, []byte{0x02, 0xc0, 0x80})), nil, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestLoadNameSection(t *testing.T) {
	m, err := load(&wasmbin.Module{
		Types: []wasmbin.FuncType{voidType},
		Imports: []wasmbin.Import{
			{Module: "env", Field: "f", Kind: wasmbin.KindFunc, TypeIndex: 0},
		},
		Funcs: []wasmbin.Func{{Type: 0, Name: "helper"}, {Type: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "helper", m.Functions[0].Name)
	assert.Equal(t, "", m.Functions[1].Name)
}

func TestLoadModuleErrors(t *testing.T) {
	tests := []struct {
		name    string
		module  *wasmbin.Module
		wantErr error
	}{
		{
			name: "duplicate export",
			module: &wasmbin.Module{
				Types: []wasmbin.FuncType{voidType},
				Funcs: []wasmbin.Func{{Type: 0}},
				Exports: []wasmbin.Export{
					{Name: "f", Kind: wasmbin.KindFunc, Index: 0},
					{Name: "f", Kind: wasmbin.KindFunc, Index: 0},
				},
			},
			wantErr: ErrDuplicateExport,
		},
		{
			name: "export of unknown function",
			module: &wasmbin.Module{
				Exports: []wasmbin.Export{{Name: "f", Kind: wasmbin.KindFunc, Index: 3}},
			},
			wantErr: ErrUnknownFunction,
		},
		{
			name: "export name is not utf-8",
			module: &wasmbin.Module{
				Types:   []wasmbin.FuncType{voidType},
				Funcs:   []wasmbin.Func{{Type: 0}},
				Exports: []wasmbin.Export{{Name: "\xed\xa0\x80", Kind: wasmbin.KindFunc}},
			},
			wantErr: ErrInvalidUTF8,
		},
		{
			name: "start function with params",
			module: &wasmbin.Module{
				Types: []wasmbin.FuncType{i32ToI32Type},
				Funcs: []wasmbin.Func{{Type: 0, Body: wasmbin.LocalGet(0)}},
				Start: new(uint32),
			},
			wantErr: ErrInvalidStartFunction,
		},
		{
			name:    "memory min above max",
			module:  &wasmbin.Module{Memory: &wasmbin.Limits{Min: 2, Max: 1, HasMax: true}},
			wantErr: ErrLimitsMinGreaterMax,
		},
		{
			name:    "memory above 4GiB",
			module:  &wasmbin.Module{Memory: &wasmbin.Limits{Min: 65537}},
			wantErr: ErrMemorySizeTooLarge,
		},
		{
			name:    "table above ceiling",
			module:  &wasmbin.Module{Table: &wasmbin.Limits{Min: MaxTableSize + 1}},
			wantErr: ErrTableSizeTooLarge,
		},
		{
			name: "global initializer of wrong type",
			module: &wasmbin.Module{
				Globals: []wasmbin.Global{{
					GlobalType: wasmbin.GlobalType{Type: wasmbin.I64},
					Init:       wasmbin.I32Const(1),
				}},
			},
			wantErr: ErrConstExprRequired,
		},
		{
			name: "global initializer with illegal opcode",
			module: &wasmbin.Module{
				Globals: []wasmbin.Global{{
					GlobalType: wasmbin.GlobalType{Type: wasmbin.I32},
					Init:       wasmbin.Ops(wasmbin.OpNop),
				}},
			},
			wantErr: ErrIllegalConstOpcode,
		},
		{
			name: "global.get of a defined global",
			module: &wasmbin.Module{
				Globals: []wasmbin.Global{
					{GlobalType: wasmbin.GlobalType{Type: wasmbin.I32}, Init: wasmbin.I32Const(1)},
					{GlobalType: wasmbin.GlobalType{Type: wasmbin.I32}, Init: wasmbin.GlobalGet(0)},
				},
			},
			wantErr: ErrUnknownGlobal,
		},
		{
			name: "too many locals",
			module: &wasmbin.Module{
				Types: []wasmbin.FuncType{voidType},
				Funcs: []wasmbin.Func{{Type: 0, Locals: bytes.Repeat([]byte{wasmbin.I32}, 50001)}},
			},
			wantErr: ErrTooManyLocals,
		},
		{
			name: "function of unknown type",
			module: &wasmbin.Module{
				Types: []wasmbin.FuncType{voidType},
				Funcs: []wasmbin.Func{{Type: 1}},
			},
			wantErr: ErrUnknownType,
		},
		{
			name: "element segment without table",
			module: &wasmbin.Module{
				Types:    []wasmbin.FuncType{voidType},
				Funcs:    []wasmbin.Func{{Type: 0}},
				Elements: []wasmbin.Element{{Funcs: []uint32{0}}},
			},
			wantErr: ErrUnknownTable,
		},
		{
			name: "data segment without memory",
			module: &wasmbin.Module{
				Data: []wasmbin.Data{{Init: []byte("x")}},
			},
			wantErr: ErrUnknownMemory,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := load(tt.module)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, m)
		})
	}
}

func TestLoadResolvesNatives(t *testing.T) {
	registry := NewNativeRegistry()
	require.NoError(t, registry.Register("env", []NativeSymbol{
		{Name: "add", Func: func(_ *ExecEnv, a, b int32) int32 { return a + b }, Signature: "(ii)i"},
		{Name: "wrong", Func: func(_ *ExecEnv, a int32) int32 { return a }, Signature: "(i)i"},
	}))

	bin := (&wasmbin.Module{
		Types: []wasmbin.FuncType{i32i32ToI32},
		Imports: []wasmbin.Import{
			{Module: "env", Field: "add", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: "env", Field: "_add", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: "env", Field: "wrong", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: "env", Field: "missing", Kind: wasmbin.KindFunc, TypeIndex: 0},
		},
	}).Encode()

	m, err := LoadModule(bin, registry, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, m.ImportFunctions, 4)
	assert.NotNil(t, m.ImportFunctions[0].Native)
	assert.NotNil(t, m.ImportFunctions[1].Native, "leading underscore is stripped on lookup")
	assert.Nil(t, m.ImportFunctions[2].Native, "signature mismatch leaves the import unlinked")
	assert.Nil(t, m.ImportFunctions[3].Native)
}

func TestLoadDoesNotModifyInput(t *testing.T) {
	// drop of an i64 is rewritten in the loaded copy only.
	bin := (&wasmbin.Module{
		Types: []wasmbin.FuncType{voidType},
		Funcs: []wasmbin.Func{{Type: 0, Body: wasmbin.Code(wasmbin.I64Const(1), wasmbin.Ops(wasmbin.OpDrop))}},
	}).Encode()
	original := append([]byte(nil), bin...)

	m, err := LoadModule(bin, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, original, bin)
	assert.Equal(t, []byte{wasmbin.OpI64Const, 0x01, drop64, wasmbin.OpEnd}, m.Functions[0].Code)
}
