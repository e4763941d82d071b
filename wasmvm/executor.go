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
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrEntryPointNotFound   = errors.New("lookup the entry point symbol (like _start, main, _main, __main_argc_argv) failed")
	ErrInvalidMainType      = errors.New("invalid function type of main function")
	ErrMainIsImport         = errors.New("lookup main function failed")
	ErrInvalidArgumentCount = errors.New("invalid input argument count")
	errAllocateArgv         = errors.New("allocate memory failed")
)

var mainNames = []string{"main", "__main_argc_argv", "_main"}

// ExecuteMain runs the module as a program. The WASI _start export is
// preferred when it is ()->(). Otherwise main, __main_argc_argv or _main is called, with argv
// copied into linear memory when it takes (argc, argv).
func ExecuteMain(inst *ModuleInstance, argv []string) error {
	env, err := NewExecEnv(inst, inst.config.StackSize)
	if err != nil {
		inst.SetException("create exec_env failed")
		return err
	}
	defer env.Destroy()

	if idx, ok := inst.module.ExportedFunction("_start"); ok {
		typ := inst.functions[idx].typ
		if typ.Equal(emptyFuncType) {
			Logger().Info("executing entry point", zap.String("name", "_start"))
			return env.CallFunction(idx, nil)
		}
		Logger().Warn("lookup wasi _start function failed: invalid function type",
			zap.Stringer("type", typ))
	}

	var (
		idx   uint32
		found bool
		entry string
	)
	for _, entry = range mainNames {
		if idx, found = inst.module.ExportedFunction(entry); found {
			break
		}
	}
	if !found {
		inst.SetException(ErrEntryPointNotFound.Error())
		return ErrEntryPointNotFound
	}
	fn := &inst.functions[idx]
	if fn.code == nil {
		inst.SetException(ErrMainIsImport.Error())
		return ErrMainIsImport
	}
	if !isMainType(fn.typ) {
		inst.SetException(ErrInvalidMainType.Error())
		return ErrInvalidMainType
	}

	args := make([]uint32, 2)
	if len(fn.typ.Params) == 2 {
		argvPtr, err := copyArgv(env, argv)
		if err != nil {
			return err
		}
		args[0], args[1] = uint32(len(argv)), argvPtr
	}
	Logger().Info("executing entry point", zap.String("name", entry), zap.Int("argc", len(argv)))
	if err := env.CallFunction(idx, args); err != nil {
		return err
	}
	if len(fn.typ.Results) == 1 {
		Logger().Debug("main returned", zap.Int32("result", int32(args[0])))
	}
	return nil
}

func isMainType(t *FuncType) bool {
	switch len(t.Params) {
	case 0:
	case 2:
		if t.Params[0] != I32 || t.Params[1] != I32 {
			return false
		}
	default:
		return false
	}
	return len(t.Results) == 0 || (len(t.Results) == 1 && t.Results[0] == I32)
}

// copyArgv places the argument strings and the pointer array that refers to
// them in memory obtained from the module's exported malloc. Without malloc
// the program gets a null argv.
func copyArgv(env *ExecEnv, argv []string) (uint32, error) {
	inst := env.inst
	mallocIdx, ok := inst.module.ExportedFunction("malloc")
	if !ok || inst.memory == nil || len(argv) == 0 ||
		!inst.functions[mallocIdx].typ.Equal(NewFuncType([]ValueType{I32}, []ValueType{I32})) {
		return 0, nil
	}

	strSize := 0
	for _, a := range argv {
		strSize += len(a) + 1
	}
	strSize = (strSize + 3) &^ 3
	total := strSize + 4*len(argv)
	if total > math.MaxInt32 {
		return 0, errAllocateArgv
	}

	cells := []uint32{uint32(total)}
	if err := env.CallFunction(mallocIdx, cells); err != nil {
		return 0, err
	}
	base := cells[0]
	if base == 0 {
		return 0, errAllocateArgv
	}

	buf := make([]byte, total)
	p := 0
	for i, a := range argv {
		copy(buf[p:], a)
		putUint32(buf[strSize+4*i:], base+uint32(p))
		p += len(a) + 1
	}
	if err := inst.memory.Write(base, buf); err != nil {
		return 0, err
	}
	return base + uint32(strSize), nil
}

func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

// ExecuteFunc calls the exported function name with arguments parsed from
// strings and prints its results to w, for example "0x5:i32".
func ExecuteFunc(inst *ModuleInstance, name string, args []string, w io.Writer) error {
	fn, ok := inst.LookupFunction(name)
	if !ok {
		return fmt.Errorf("lookup function %s failed", name)
	}
	t := fn.Type
	if len(args) != len(t.Params) {
		return ErrInvalidArgumentCount
	}

	cells := make([]uint32, max(t.ParamCells, t.ResultCells))
	c := 0
	for i, param := range t.Params {
		bits, err := parseArgument(param, args[i])
		if err != nil {
			return fmt.Errorf("invalid input argument %d: %s", i, args[i])
		}
		cells[c] = uint32(bits)
		if param.Cells() == 2 {
			cells[c+1] = uint32(bits >> 32)
		}
		c += param.Cells()
	}

	env, err := NewExecEnv(inst, inst.config.StackSize)
	if err != nil {
		return err
	}
	defer env.Destroy()
	if err := env.CallFunction(fn.Index, cells); err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, formatResults(t.Results, cells))
	return err
}

// parseArgument converts s to the raw bits of a value of type t. Integers
// may be decimal or 0x-prefixed hex and either signed or unsigned.
func parseArgument(t ValueType, s string) (uint64, error) {
	switch t {
	case I32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return uint64(uint32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		return v, err
	case I64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(v), nil
		}
		return strconv.ParseUint(s, 0, 64)
	case F32:
		v, err := strconv.ParseFloat(s, 32)
		return uint64(math.Float32bits(float32(v))), err
	case F64:
		v, err := strconv.ParseFloat(s, 64)
		return math.Float64bits(v), err
	case FuncRef, ExternRef:
		if s == "null" {
			return uint64(NullReference), nil
		}
		return strconv.ParseUint(s, 0, 32)
	}
	return 0, ErrInvalidValueType
}

func formatResults(types []ValueType, cells []uint32) string {
	parts := make([]string, 0, len(types))
	c := 0
	for _, t := range types {
		lo := cells[c]
		switch t {
		case I32:
			parts = append(parts, fmt.Sprintf("0x%x:i32", lo))
		case I64:
			parts = append(parts, fmt.Sprintf("0x%x:i64", uint64(lo)|uint64(cells[c+1])<<32))
		case F32:
			parts = append(parts, fmt.Sprintf("%.7g:f32", math.Float32frombits(lo)))
		case F64:
			parts = append(parts, fmt.Sprintf("%.7g:f64", math.Float64frombits(uint64(lo)|uint64(cells[c+1])<<32)))
		case FuncRef:
			parts = append(parts, formatRef(lo, "funcref"))
		case ExternRef:
			parts = append(parts, formatRef(lo, "externref"))
		}
		c += t.Cells()
	}
	return strings.Join(parts, ",")
}

func formatRef(v uint32, kind string) string {
	if v == NullReference {
		return "ref.null:" + kind
	}
	return fmt.Sprintf("0x%x:%s", v, kind)
}

// Invoke calls an exported function with Go arguments. Args and results are
// int32, int64, float32 or float64 matching the function type. Invoke reuses
// one ExecEnv and must not be called concurrently on the same instance.
func (m *ModuleInstance) Invoke(name string, args ...any) ([]any, error) {
	fn, ok := m.LookupFunction(name)
	if !ok {
		return nil, fmt.Errorf("lookup function %s failed", name)
	}
	t := fn.Type
	if len(args) != len(t.Params) {
		return nil, ErrInvalidArgumentCount
	}
	cells := make([]uint32, max(t.ParamCells, t.ResultCells))
	c := 0
	for i, a := range args {
		bits, err := toBits(t.Params[i], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		cells[c] = uint32(bits)
		if t.Params[i].Cells() == 2 {
			cells[c+1] = uint32(bits >> 32)
		}
		c += t.Params[i].Cells()
	}

	if m.invokeEnv == nil {
		env, err := NewExecEnv(m, m.config.StackSize)
		if err != nil {
			return nil, err
		}
		m.invokeEnv = env
	}
	if err := m.invokeEnv.CallFunction(fn.Index, cells); err != nil {
		return nil, err
	}

	results := make([]any, len(t.Results))
	c = 0
	for i, r := range t.Results {
		lo := cells[c]
		switch r {
		case I32:
			results[i] = int32(lo)
		case I64:
			results[i] = int64(uint64(lo) | uint64(cells[c+1])<<32)
		case F32:
			results[i] = math.Float32frombits(lo)
		case F64:
			results[i] = math.Float64frombits(uint64(lo) | uint64(cells[c+1])<<32)
		default:
			results[i] = lo
		}
		c += r.Cells()
	}
	return results, nil
}

func toBits(t ValueType, a any) (uint64, error) {
	switch v := a.(type) {
	case int32:
		if t == I32 {
			return uint64(uint32(v)), nil
		}
	case uint32:
		if t == I32 || t == FuncRef || t == ExternRef {
			return uint64(v), nil
		}
	case int64:
		if t == I64 {
			return uint64(v), nil
		}
	case float32:
		if t == F32 {
			return uint64(math.Float32bits(v)), nil
		}
	case float64:
		if t == F64 {
			return math.Float64bits(v), nil
		}
	}
	return 0, fmt.Errorf("%T does not match %s", a, t)
}
