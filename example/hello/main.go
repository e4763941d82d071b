package main

import (
	"fmt"

	"github.com/weizhiao/webassembly-runtime-sub001/internal/wasmbin"
	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

func main() {
	// 1. Build a module that reports its sum to the host before returning it
	i32 := wasmbin.I32
	wasmBytes := (&wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Params: []byte{i32}},
			{Params: []byte{i32, i32}, Results: []byte{i32}},
		},
		Imports: []wasmbin.Import{{Module: "env", Field: "report", Kind: wasmbin.KindFunc, TypeIndex: 0}},
		Funcs: []wasmbin.Func{{Type: 1, Body: wasmbin.Code(
			wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.Ops(wasmbin.OpI32Add),
			wasmbin.LocalTee(0), wasmbin.Call(0), wasmbin.LocalGet(0),
		)}},
		Exports: []wasmbin.Export{{Name: "add", Kind: wasmbin.KindFunc, Index: 1}},
	}).Encode()

	// 2. Register the host function and instantiate the module
	rt := wasmvm.NewRuntime()
	err := rt.RegisterNatives("env", []wasmvm.NativeSymbol{{
		Name:      "report",
		Func:      func(_ *wasmvm.ExecEnv, v int32) { fmt.Println("wasm computed", v) },
		Signature: "(i)",
	}})
	if err != nil {
		fmt.Println("Error registering natives:", err)
		return
	}
	instance, err := rt.InstantiateFromBytes(wasmBytes)
	if err != nil {
		fmt.Println("Error instantiating module:", err)
		return
	}

	// 3. Invoke an exported function
	result, err := instance.Invoke("add", int32(5), int32(37))
	if err != nil {
		fmt.Println("Error invoking function:", err)
		return
	}

	fmt.Println(result[0]) // Output: 42
}
