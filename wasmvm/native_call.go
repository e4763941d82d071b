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
	"reflect"
)

var errArgumentNumberExceeded = errors.New("the argument number of native function exceeds maximum")

// callNative invokes an imported function. Its arguments are the cells at
// argBase; its result replaces them.
func (env *ExecEnv) callNative(fn *funcInstance, argBase int) (err error) {
	imp := fn.imported
	sym := imp.Native
	if sym == nil {
		return fmt.Errorf("failed to call unlinked import function (%s, %s)", imp.ModuleName, imp.FieldName)
	}
	if len(sym.params) > maxNativeArgs {
		return errArgumentNumberExceeded
	}

	args, err := env.nativeArgs(sym, env.cells[argBase:argBase+fn.typ.ParamCells])
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("panic in native function %s: %v", sym.Name, v)
			}
		}
	}()
	outs := sym.fn.Call(args)

	if sym.hasErr {
		if e := outs[len(outs)-1]; !e.IsNil() {
			return e.Interface().(error)
		}
	}
	if sym.result != 0 {
		bits := cellBits(outs[0])
		env.cells[argBase] = uint32(bits)
		if sym.result == 'I' || sym.result == 'F' {
			env.cells[argBase+1] = uint32(bits >> 32)
		}
	}
	return nil
}

// nativeArgs converts argument cells to the Go values sym.Func expects.
func (env *ExecEnv) nativeArgs(sym *NativeSymbol, cells []uint32) ([]reflect.Value, error) {
	ft := sym.fn.Type()
	args := make([]reflect.Value, 1, len(sym.params)+1)
	args[0] = reflect.ValueOf(env)
	mem := env.inst.memory

	c := 0
	for i, kind := range sym.params {
		in := ft.In(i + 1)
		switch kind {
		case 'i', '~', 'r':
			args = append(args, reflect.ValueOf(cells[c]).Convert(in))
			c++
		case 'f':
			args = append(args, reflect.ValueOf(math.Float32frombits(cells[c])).Convert(in))
			c++
		case 'I':
			v := uint64(cells[c]) | uint64(cells[c+1])<<32
			args = append(args, reflect.ValueOf(v).Convert(in))
			c += 2
		case 'F':
			v := uint64(cells[c]) | uint64(cells[c+1])<<32
			args = append(args, reflect.ValueOf(math.Float64frombits(v)).Convert(in))
			c += 2
		case '*':
			ptr := cells[c]
			c++
			if mem == nil {
				return nil, ErrMemoryOutOfBounds
			}
			var window []byte
			if i+1 < len(sym.params) && sym.params[i+1] == '~' {
				b, err := mem.Read(ptr, cells[c])
				if err != nil {
					return nil, err
				}
				window = b
			} else {
				if uint64(ptr) >= mem.Len() {
					return nil, ErrMemoryOutOfBounds
				}
				window = mem.data[ptr:]
			}
			args = append(args, reflect.ValueOf(window))
		case '$':
			ptr := cells[c]
			c++
			if mem == nil {
				return nil, ErrMemoryOutOfBounds
			}
			s, err := mem.ReadCString(ptr)
			if err != nil {
				return nil, err
			}
			args = append(args, reflect.ValueOf(s).Convert(in))
		}
	}
	return args, nil
}

// cellBits returns the raw bits of a native result.
func cellBits(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	}
	return 0
}
