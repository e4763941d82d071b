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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/testing/hammer"
	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
)

func TestNewExecEnvStackTooSmall(t *testing.T) {
	inst := instantiate(t, singleFunc(voidType, nil))
	_, err := NewExecEnv(inst, 100)
	require.EqualError(t, err, "create exec env failed: stack size 100 is too small")

	env, err := NewExecEnv(inst, 4*minStackCells)
	require.NoError(t, err)
	assert.Same(t, inst, env.Instance())
	assert.Nil(t, env.Memory())
}

func TestSmallStackOverflows(t *testing.T) {
	// Each frame of fib needs a few cells, so a minimal stack runs out long
	// before the call depth limit.
	inst := instantiate(t, singleFunc(i32ToI32Type, nil, fibBody))
	env, err := NewExecEnv(inst, 4*minStackCells)
	require.NoError(t, err)
	defer env.Destroy()

	args := []uint32{5}
	require.NoError(t, env.CallFunction(0, args))
	assert.Equal(t, uint32(5), args[0])

	err = env.CallFunction(0, []uint32{40})
	require.ErrorIs(t, err, ErrStackOverflow)
	assert.Equal(t, "wasm operand stack overflow", inst.Exception())
}

func TestTraceback(t *testing.T) {
	var trace []string
	registry := NewNativeRegistry()
	require.NoError(t, registry.Register("env", []NativeSymbol{{
		Name: "trace",
		Func: func(env *ExecEnv) { trace = env.Traceback() },
	}}))

	inst := instantiateWith(t, &wasmbin.Module{
		Types:   []wasmbin.FuncType{voidType},
		Imports: []wasmbin.Import{{Module: "env", Field: "trace", Kind: wasmbin.KindFunc}},
		Funcs: []wasmbin.Func{
			{Name: "outer", Body: wasmbin.Code(wasmbin.Ops(wasmbin.OpNop), wasmbin.Call(2))},
			{Body: wasmbin.Call(0)},
		},
		Exports: []wasmbin.Export{{Name: "run", Kind: wasmbin.KindFunc, Index: 1}},
	}, registry)

	_, err := inst.Invoke("run")
	require.NoError(t, err)
	assert.Equal(t, []string{"$f2+0x2", "outer+0x3"}, trace)
}

func TestExecEnvsRunConcurrently(t *testing.T) {
	module, err := LoadModule(singleFunc(i32ToI32Type, nil, fibBody).Encode(), nil, DefaultConfig())
	require.NoError(t, err)

	P, N := 8, 50
	if testing.Short() {
		P, N = 4, 10
	}
	hammer.New(t, P, N).Run(func(p, n int) {
		// Instances share the module but nothing else.
		inst, err := Instantiate(module, DefaultConfig())
		if !assert.NoError(t, err) {
			return
		}
		got, err := inst.Invoke("f", int32(p+10))
		assert.NoError(t, err)
		assert.Equal(t, []any{fib(int32(p + 10))}, got)
	}, nil)
}

func fib(n int32) int32 {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}
