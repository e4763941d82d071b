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


// Package libc provides host functions that freestanding modules built
// without WASI import from "env": console output, strlen, printf with a wasm
// vararg buffer, and abort.
package libc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

const ModuleName = "env"

// ErrAbort is the trap raised by abort.
var ErrAbort = errors.New("env.abort()")

// Builtins writes the output of the console functions to one writer.
type Builtins struct {
	w io.Writer
}

// New returns builtins writing to w, or to os.Stdout when w is nil.
func New(w io.Writer) *Builtins {
	if w == nil {
		w = os.Stdout
	}
	return &Builtins{w: w}
}

// Register adds the builtins to registry under "env".
func (b *Builtins) Register(registry *wasmvm.NativeRegistry) error {
	return registry.Register(ModuleName, b.symbols())
}

func (b *Builtins) symbols() []wasmvm.NativeSymbol {
	return []wasmvm.NativeSymbol{
		{Name: "puts", Func: b.puts, Signature: "($)i"},
		{Name: "putchar", Func: b.putchar, Signature: "(i)i"},
		{Name: "strlen", Func: strlen, Signature: "($)i"},
		{Name: "printf", Func: b.printf, Signature: "($*)i"},
		{Name: "abort", Func: abort, Signature: "()"},
		{Name: "print_i32", Func: b.printI32, Signature: "(i)"},
		{Name: "print_i64", Func: b.printI64, Signature: "(I)"},
		{Name: "print_f32", Func: b.printF32, Signature: "(f)"},
		{Name: "print_f64", Func: b.printF64, Signature: "(F)"},
	}
}

func (b *Builtins) puts(_ *wasmvm.ExecEnv, s string) int32 {
	n, _ := io.WriteString(b.w, s+"\n")
	return int32(n)
}

func (b *Builtins) putchar(_ *wasmvm.ExecEnv, c int32) int32 {
	_, _ = b.w.Write([]byte{byte(c)})
	return c
}

func strlen(_ *wasmvm.ExecEnv, s string) int32 {
	return int32(len(s))
}

func (b *Builtins) printf(env *wasmvm.ExecEnv, format string, va []byte) (int32, error) {
	out, err := formatC(env.Memory(), format, va)
	if err != nil {
		return 0, err
	}
	n, _ := b.w.Write(out)
	return int32(n), nil
}

func abort(*wasmvm.ExecEnv) error {
	return ErrAbort
}

func (b *Builtins) printI32(_ *wasmvm.ExecEnv, v int32) {
	fmt.Fprintln(b.w, v)
}

func (b *Builtins) printI64(_ *wasmvm.ExecEnv, v int64) {
	fmt.Fprintln(b.w, v)
}

func (b *Builtins) printF32(_ *wasmvm.ExecEnv, v float32) {
	fmt.Fprintln(b.w, strconv.FormatFloat(float64(v), 'g', -1, 32))
}

func (b *Builtins) printF64(_ *wasmvm.ExecEnv, v float64) {
	fmt.Fprintln(b.w, strconv.FormatFloat(v, 'g', -1, 64))
}
