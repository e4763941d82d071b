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


package wasip1

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

type wasiImport struct {
	name    string
	params  []byte
	results []byte
}

var (
	i32 = wasmbin.I32
	i64 = wasmbin.I64
)

var wasiImports = []wasiImport{
	{"args_get", []byte{i32, i32}, []byte{i32}},
	{"args_sizes_get", []byte{i32, i32}, []byte{i32}},
	{"environ_get", []byte{i32, i32}, []byte{i32}},
	{"environ_sizes_get", []byte{i32, i32}, []byte{i32}},
	{"fd_write", []byte{i32, i32, i32, i32}, []byte{i32}},
	{"fd_read", []byte{i32, i32, i32, i32}, []byte{i32}},
	{"fd_close", []byte{i32}, []byte{i32}},
	{"fd_seek", []byte{i32, i64, i32, i32}, []byte{i32}},
	{"fd_fdstat_get", []byte{i32, i32}, []byte{i32}},
	{"fd_prestat_get", []byte{i32, i32}, []byte{i32}},
	{"fd_prestat_dir_name", []byte{i32, i32, i32}, []byte{i32}},
	{"proc_exit", []byte{i32}, nil},
	{"clock_time_get", []byte{i32, i64, i32}, []byte{i32}},
	{"random_get", []byte{i32, i32}, []byte{i32}},
}

// wasiModule imports every host function and re-exports it under its own
// name, so tests can call them directly.
func wasiModule() *wasmbin.Module {
	m := &wasmbin.Module{Memory: &wasmbin.Limits{Min: 1}}
	for i, imp := range wasiImports {
		m.Types = append(m.Types, wasmbin.FuncType{Params: imp.params, Results: imp.results})
		m.Imports = append(m.Imports, wasmbin.Import{
			Module: ModuleName, Field: imp.name, Kind: wasmbin.KindFunc, TypeIndex: uint32(i),
		})
		m.Exports = append(m.Exports, wasmbin.Export{Name: imp.name, Kind: wasmbin.KindFunc, Index: uint32(i)})
	}
	return m
}

func instantiate(t *testing.T, w *Module, m *wasmbin.Module) *wasmvm.ModuleInstance {
	t.Helper()
	rt := wasmvm.NewRuntime()
	require.NoError(t, w.Register(rt.Registry()))
	inst, err := rt.InstantiateFromBytes(m.Encode())
	require.NoError(t, err)
	return inst
}

func call(t *testing.T, inst *wasmvm.ModuleInstance, name string, args ...any) int32 {
	t.Helper()
	got, err := inst.Invoke(name, args...)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].(int32)
}

func u32At(t *testing.T, inst *wasmvm.ModuleInstance, addr uint32) uint32 {
	t.Helper()
	b, err := inst.Memory().Read(addr, 4)
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(b)
}

func putIovec(t *testing.T, inst *wasmvm.ModuleInstance, at uint32, bufs ...[2]uint32) {
	t.Helper()
	for i, b := range bufs {
		iov := binary.LittleEndian.AppendUint32(nil, b[0])
		iov = binary.LittleEndian.AppendUint32(iov, b[1])
		require.NoError(t, inst.Memory().Write(at+uint32(8*i), iov))
	}
}

func TestArgsAndEnviron(t *testing.T) {
	w := New(Options{Args: []string{"prog", "-x"}, Env: []string{"A=1", "HOME=/"}})
	inst := instantiate(t, w, wasiModule())

	assert.Equal(t, errnoSuccess, call(t, inst, "args_sizes_get", int32(0), int32(4)))
	assert.Equal(t, uint32(2), u32At(t, inst, 0))
	assert.Equal(t, uint32(len("prog\x00-x\x00")), u32At(t, inst, 4))

	assert.Equal(t, errnoSuccess, call(t, inst, "args_get", int32(100), int32(200)))
	assert.Equal(t, uint32(200), u32At(t, inst, 100))
	assert.Equal(t, uint32(205), u32At(t, inst, 104))
	buf, _ := inst.Memory().Read(200, 8)
	assert.Equal(t, []byte("prog\x00-x\x00"), buf)

	assert.Equal(t, errnoSuccess, call(t, inst, "environ_sizes_get", int32(0), int32(4)))
	assert.Equal(t, uint32(2), u32At(t, inst, 0))
	assert.Equal(t, uint32(len("A=1\x00HOME=/\x00")), u32At(t, inst, 4))

	assert.Equal(t, errnoSuccess, call(t, inst, "environ_get", int32(300), int32(400)))
	s, err := inst.Memory().ReadCString(u32At(t, inst, 304))
	require.NoError(t, err)
	assert.Equal(t, "HOME=/", s)

	assert.Equal(t, errnoFault, call(t, inst, "args_get", int32(wasmvm.PageSize-2), int32(0)))
}

func TestFdWrite(t *testing.T) {
	var stdout, stderr bytes.Buffer
	w := New(Options{Stdout: &stdout, Stderr: &stderr})
	inst := instantiate(t, w, wasiModule())

	require.NoError(t, inst.Memory().Write(64, []byte("hello, world\n")))
	putIovec(t, inst, 16, [2]uint32{64, 7}, [2]uint32{71, 6})

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_write", int32(1), int32(16), int32(2), int32(8)))
	assert.Equal(t, "hello, world\n", stdout.String())
	assert.Equal(t, uint32(13), u32At(t, inst, 8))

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_write", int32(2), int32(16), int32(1), int32(8)))
	assert.Equal(t, "hello, ", stderr.String())

	assert.Equal(t, errnoBadF, call(t, inst, "fd_write", int32(9), int32(16), int32(1), int32(8)))
	assert.Equal(t, errnoBadF, call(t, inst, "fd_write", int32(0), int32(16), int32(1), int32(8)), "stdin is not writable")

	putIovec(t, inst, 32, [2]uint32{wasmvm.PageSize - 2, 4})
	assert.Equal(t, errnoFault, call(t, inst, "fd_write", int32(1), int32(32), int32(1), int32(8)))
}

func TestFdWriteError(t *testing.T) {
	w := New(Options{Stdout: errWriter{}})
	inst := instantiate(t, w, wasiModule())
	putIovec(t, inst, 16, [2]uint32{64, 4})
	assert.Equal(t, errnoIO, call(t, inst, "fd_write", int32(1), int32(16), int32(1), int32(8)))
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFdRead(t *testing.T) {
	w := New(Options{Stdin: iotest.OneByteReader(strings.NewReader("abc"))})
	inst := instantiate(t, w, wasiModule())

	putIovec(t, inst, 16, [2]uint32{64, 8})
	// The reader hands out one byte at a time, and a short read ends the
	// call.
	assert.Equal(t, errnoSuccess, call(t, inst, "fd_read", int32(0), int32(16), int32(1), int32(8)))
	assert.Equal(t, uint32(1), u32At(t, inst, 8))

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_read", int32(0), int32(16), int32(1), int32(8)))
	assert.Equal(t, errnoSuccess, call(t, inst, "fd_read", int32(0), int32(16), int32(1), int32(8)))
	b, _ := inst.Memory().Read(64, 1)
	assert.Equal(t, []byte("c"), b)

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_read", int32(0), int32(16), int32(1), int32(8)))
	assert.Zero(t, u32At(t, inst, 8), "end of input")
}

func TestDescriptors(t *testing.T) {
	w := New(Options{Stdout: &bytes.Buffer{}, Preopens: []string{"/sandbox"}})
	inst := instantiate(t, w, wasiModule())
	assert.Equal(t, []string{"/sandbox"}, w.Preopens())

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_fdstat_get", int32(1), int32(0)))
	b, _ := inst.Memory().Read(0, 24)
	assert.Equal(t, fileTypeCharacterDevice, b[0])
	assert.Equal(t, uint64(stdioRights), binary.LittleEndian.Uint64(b[8:16]))

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_fdstat_get", int32(3), int32(0)))
	b, _ = inst.Memory().Read(0, 24)
	assert.Equal(t, fileTypeDirectory, b[0])

	assert.Equal(t, errnoBadF, call(t, inst, "fd_prestat_get", int32(1), int32(0)))
	assert.Equal(t, errnoBadF, call(t, inst, "fd_prestat_get", int32(4), int32(0)))
	assert.Equal(t, errnoSuccess, call(t, inst, "fd_prestat_get", int32(3), int32(0)))
	b, _ = inst.Memory().Read(0, 8)
	assert.Equal(t, preopenTypeDir, b[0])
	assert.Equal(t, uint32(len("/sandbox")), binary.LittleEndian.Uint32(b[4:8]))

	assert.Equal(t, errnoNameTooLong, call(t, inst, "fd_prestat_dir_name", int32(3), int32(32), int32(3)))
	assert.Equal(t, errnoSuccess, call(t, inst, "fd_prestat_dir_name", int32(3), int32(32), int32(8)))
	b, _ = inst.Memory().Read(32, 8)
	assert.Equal(t, "/sandbox", string(b))

	assert.Equal(t, errnoSPipe, call(t, inst, "fd_seek", int32(1), int64(0), int32(0), int32(0)))
	assert.Equal(t, errnoInval, call(t, inst, "fd_seek", int32(1), int64(0), int32(7), int32(0)))

	assert.Equal(t, errnoSuccess, call(t, inst, "fd_close", int32(3)))
	assert.Equal(t, errnoBadF, call(t, inst, "fd_close", int32(3)))
	assert.Equal(t, errnoBadF, call(t, inst, "fd_prestat_get", int32(3), int32(0)))
	assert.Empty(t, w.Preopens())
}

func TestClockAndRandom(t *testing.T) {
	inst := instantiate(t, New(Options{}), wasiModule())

	assert.Equal(t, errnoSuccess, call(t, inst, "clock_time_get", int32(clockMonotonic), int64(1), int32(8)))
	b, _ := inst.Memory().Read(8, 8)
	first := binary.LittleEndian.Uint64(b)
	assert.Equal(t, errnoSuccess, call(t, inst, "clock_time_get", int32(clockMonotonic), int64(1), int32(8)))
	b, _ = inst.Memory().Read(8, 8)
	assert.GreaterOrEqual(t, binary.LittleEndian.Uint64(b), first)

	assert.Equal(t, errnoSuccess, call(t, inst, "clock_time_get", int32(clockRealtime), int64(1), int32(8)))
	b, _ = inst.Memory().Read(8, 8)
	assert.NotZero(t, binary.LittleEndian.Uint64(b))
	assert.Equal(t, errnoInval, call(t, inst, "clock_time_get", int32(42), int64(1), int32(8)))

	assert.Equal(t, errnoSuccess, call(t, inst, "random_get", int32(64), int32(32)))
	b, _ = inst.Memory().Read(64, 32)
	assert.NotEqual(t, make([]byte, 32), b)
}

func TestProcExit(t *testing.T) {
	inst := instantiate(t, New(Options{}), wasiModule())
	_, err := inst.Invoke("proc_exit", int32(3))

	var exitErr *ProcExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, int32(3), exitErr.Code)
	assert.Equal(t, "proc_exit: 3", inst.Exception())
}

// TestCommand runs a _start that prints a message and exits with a code, the
// way a compiled C program would.
func TestCommand(t *testing.T) {
	var stdout bytes.Buffer
	w := New(Options{Stdout: &stdout})
	m := &wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Params: []byte{i32, i32, i32, i32}, Results: []byte{i32}},
			{Params: []byte{i32}},
			{},
		},
		Imports: []wasmbin.Import{
			{Module: ModuleName, Field: "fd_write", Kind: wasmbin.KindFunc, TypeIndex: 0},
			{Module: ModuleName, Field: "proc_exit", Kind: wasmbin.KindFunc, TypeIndex: 1},
		},
		Memory: &wasmbin.Limits{Min: 1},
		Data: []wasmbin.Data{
			{Offset: 0, Init: []byte{16, 0, 0, 0, 3, 0, 0, 0}},
			{Offset: 16, Init: []byte("hi\n")},
		},
		Funcs: []wasmbin.Func{{Type: 2, Body: wasmbin.Code(
			wasmbin.I32Const(1), wasmbin.I32Const(0), wasmbin.I32Const(1), wasmbin.I32Const(8),
			wasmbin.Call(0), wasmbin.Ops(wasmbin.OpDrop),
			wasmbin.I32Const(7), wasmbin.Call(1),
		)}},
		Exports: []wasmbin.Export{{Name: "_start", Kind: wasmbin.KindFunc, Index: 2}},
	}
	inst := instantiate(t, w, m)

	err := wasmvm.ExecuteMain(inst, nil)
	var exitErr *ProcExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, int32(7), exitErr.Code)
	assert.Equal(t, "hi\n", stdout.String())
}

func TestRegister(t *testing.T) {
	var a, b bytes.Buffer
	registryA, registryB := wasmvm.NewNativeRegistry(), wasmvm.NewNativeRegistry()
	require.NoError(t, New(Options{Stdout: &a}).Register(registryA))
	require.NoError(t, New(Options{Stdout: &b}).Register(registryB))

	sym, ok := registryA.Lookup(ModuleName, "fd_write")
	require.True(t, ok)
	assert.Equal(t, "fd_write(iiii)i", sym.String())
	assert.Equal(t, []string{ModuleName}, registryA.ModuleNames())
}
