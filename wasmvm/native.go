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
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// maxNativeArgs is the largest number of wasm parameters a native function
// may take.
const maxNativeArgs = 20

// NativeSymbol is a host function that wasm modules can import.
//
// Func must be a Go function whose first parameter is *ExecEnv. The remaining
// parameters follow Signature, one per wasm parameter:
//
//	i  int32 or uint32       I  int64 or uint64
//	f  float32               F  float64
//	r  uint32 (externref)
//	*  []byte window into linear memory starting at the pointer
//	~  int32 or uint32 length paired with the preceding *; the window
//	   is then exactly that long
//	$  string read from a NUL-terminated pointer
//
// The signature is written "(params)result", e.g. "(i*~)i". Func returns at
// most one value matching the result character, optionally followed by an
// error that traps the calling module. An empty Signature is derived from
// Func's parameter types.
type NativeSymbol struct {
	Name      string
	Func      any
	Signature string

	fn     reflect.Value
	params []byte
	result byte
	hasErr bool
}

func (s *NativeSymbol) String() string {
	return s.Name + s.Signature
}

var (
	execEnvType = reflect.TypeFor[*ExecEnv]()
	errorType   = reflect.TypeFor[error]()
	bytesType   = reflect.TypeFor[[]byte]()
)

// prepare checks that Func matches Signature and caches the reflected
// function.
func (s *NativeSymbol) prepare() error {
	if s.Func == nil {
		return fmt.Errorf("native symbol %q: nil function", s.Name)
	}
	fn := reflect.ValueOf(s.Func)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("native symbol %q: not a function", s.Name)
	}
	if ft.NumIn() == 0 || ft.In(0) != execEnvType {
		return fmt.Errorf("native symbol %q: first parameter must be *wasmvm.ExecEnv", s.Name)
	}
	if s.Signature == "" {
		sig, err := deriveSignature(ft)
		if err != nil {
			return fmt.Errorf("native symbol %q: %w", s.Name, err)
		}
		s.Signature = sig
	}
	params, result, err := parseSignature(s.Signature)
	if err != nil {
		return fmt.Errorf("native symbol %q: %w", s.Name, err)
	}
	if ft.NumIn()-1 != len(params) {
		return fmt.Errorf("native symbol %q: signature %s expects %d parameters, function has %d",
			s.Name, s.Signature, len(params), ft.NumIn()-1)
	}
	for i, c := range params {
		if !goTypeMatches(c, ft.In(i+1)) {
			return fmt.Errorf("native symbol %q: parameter %d has type %s, signature wants %q",
				s.Name, i, ft.In(i+1), c)
		}
	}

	outs := ft.NumOut()
	s.hasErr = outs > 0 && ft.Out(outs-1) == errorType
	if s.hasErr {
		outs--
	}
	switch {
	case outs > 1:
		return fmt.Errorf("native symbol %q: too many results", s.Name)
	case outs == 1 && (result == 0 || !goTypeMatches(result, ft.Out(0))):
		return fmt.Errorf("native symbol %q: result type %s does not match signature %s",
			s.Name, ft.Out(0), s.Signature)
	case outs == 0 && result != 0:
		return fmt.Errorf("native symbol %q: signature %s declares a result", s.Name, s.Signature)
	}

	s.fn = fn
	s.params = params
	s.result = result
	return nil
}

func goTypeMatches(c byte, t reflect.Type) bool {
	switch c {
	case 'i', '~':
		return t.Kind() == reflect.Int32 || t.Kind() == reflect.Uint32
	case 'I':
		return t.Kind() == reflect.Int64 || t.Kind() == reflect.Uint64
	case 'f':
		return t.Kind() == reflect.Float32
	case 'F':
		return t.Kind() == reflect.Float64
	case 'r':
		return t.Kind() == reflect.Uint32
	case '*':
		return t == bytesType
	case '$':
		return t.Kind() == reflect.String
	}
	return false
}

func deriveSignature(ft reflect.Type) (string, error) {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 1; i < ft.NumIn(); i++ {
		c, err := signatureChar(ft.In(i))
		if err != nil {
			return "", err
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(')')
	outs := ft.NumOut()
	if outs > 0 && ft.Out(outs-1) == errorType {
		outs--
	}
	if outs == 1 {
		c, err := signatureChar(ft.Out(0))
		if err != nil || c == '*' || c == '$' {
			return "", fmt.Errorf("unsupported result type %s", ft.Out(0))
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

func signatureChar(t reflect.Type) (byte, error) {
	switch {
	case t == bytesType:
		return '*', nil
	case t.Kind() == reflect.Int32 || t.Kind() == reflect.Uint32:
		return 'i', nil
	case t.Kind() == reflect.Int64 || t.Kind() == reflect.Uint64:
		return 'I', nil
	case t.Kind() == reflect.Float32:
		return 'f', nil
	case t.Kind() == reflect.Float64:
		return 'F', nil
	case t.Kind() == reflect.String:
		return '$', nil
	}
	return 0, fmt.Errorf("unsupported parameter type %s", t)
}

// parseSignature splits a signature into one character per wasm parameter
// and the result character, 0 when there is none.
func parseSignature(sig string) ([]byte, byte, error) {
	if len(sig) < 2 || sig[0] != '(' {
		return nil, 0, fmt.Errorf("invalid signature %q", sig)
	}
	closeIdx := strings.IndexByte(sig, ')')
	if closeIdx < 0 {
		return nil, 0, fmt.Errorf("invalid signature %q", sig)
	}
	params := []byte(sig[1:closeIdx])
	for i, c := range params {
		switch c {
		case 'i', 'I', 'f', 'F', 'r', '*', '$':
		case '~':
			if i == 0 || params[i-1] != '*' {
				return nil, 0, fmt.Errorf("invalid signature %q: '~' must follow '*'", sig)
			}
		default:
			return nil, 0, fmt.Errorf("invalid signature %q", sig)
		}
	}
	rest := sig[closeIdx+1:]
	switch len(rest) {
	case 0:
		return params, 0, nil
	case 1:
		switch rest[0] {
		case 'i', 'I', 'f', 'F', 'r':
			return params, rest[0], nil
		}
	}
	return nil, 0, fmt.Errorf("invalid signature %q", sig)
}

var errSignatureMismatch = errors.New("signature mismatch")

// checkSymbolSignature reports whether a native signature can serve an
// import of type ft.
func checkSymbolSignature(sig string, ft *FuncType) error {
	if len(sig) < len(ft.Params)+2 || sig[0] != '(' {
		return errSignatureMismatch
	}
	p := 1
	for i := 0; i < len(ft.Params); i++ {
		c := sig[p]
		p++
		switch c {
		case 'i', 'I', 'f', 'F', 'r':
			if !sigCharMatches(c, ft.Params[i]) {
				return errSignatureMismatch
			}
		case '*':
			if ft.Params[i] != I32 {
				return errSignatureMismatch
			}
			if p < len(sig) && sig[p] == '~' {
				// The next parameter is the buffer length.
				p++
				i++
				if i >= len(ft.Params) || ft.Params[i] != I32 {
					return errSignatureMismatch
				}
			}
		case '$':
			if ft.Params[i] != I32 {
				return errSignatureMismatch
			}
		default:
			return errSignatureMismatch
		}
	}
	if p >= len(sig) || sig[p] != ')' {
		return errSignatureMismatch
	}
	p++
	switch len(ft.Results) {
	case 0:
	case 1:
		if p >= len(sig) || !sigCharMatches(sig[p], ft.Results[0]) {
			return errSignatureMismatch
		}
		p++
	default:
		return errSignatureMismatch
	}
	if p != len(sig) {
		return errSignatureMismatch
	}
	return nil
}

func sigCharMatches(c byte, t ValueType) bool {
	switch c {
	case 'i':
		return t == I32
	case 'I':
		return t == I64
	case 'f':
		return t == F32
	case 'F':
		return t == F64
	case 'r':
		return t == ExternRef
	}
	return false
}

type nativeModule struct {
	name    string
	symbols []NativeSymbol
}

// NativeRegistry holds the host functions available to module imports. A
// registry may be shared by several runtimes; lookups are safe for
// concurrent use.
type NativeRegistry struct {
	mu      sync.RWMutex
	modules []*nativeModule
}

func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{}
}

// Register adds symbols under moduleName. Registering the same module name
// twice adds a second symbol table that is searched after the first.
func (r *NativeRegistry) Register(moduleName string, symbols []NativeSymbol) error {
	sorted := make([]NativeSymbol, len(symbols))
	copy(sorted, symbols)
	for i := range sorted {
		if err := sorted[i].prepare(); err != nil {
			return err
		}
	}
	slices.SortFunc(sorted, func(a, b NativeSymbol) int {
		return cmp.Compare(a.Name, b.Name)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, &nativeModule{name: moduleName, symbols: sorted})
	return nil
}

// Lookup finds the symbol for an import. A field with a leading underscore
// also matches a symbol registered without it.
func (r *NativeRegistry) Lookup(moduleName, field string) (*NativeSymbol, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sym, ok := r.lookup(moduleName, field); ok {
		return sym, true
	}
	if len(field) > 1 && field[0] == '_' {
		return r.lookup(moduleName, field[1:])
	}
	return nil, false
}

func (r *NativeRegistry) lookup(moduleName, field string) (*NativeSymbol, bool) {
	for _, m := range r.modules {
		if m.name != moduleName {
			continue
		}
		i, found := slices.BinarySearchFunc(m.symbols, field, func(s NativeSymbol, name string) int {
			return cmp.Compare(s.Name, name)
		})
		if found {
			return &m.symbols[i], true
		}
	}
	return nil, false
}

// ModuleNames returns the registered module names in registration order.
func (r *NativeRegistry) ModuleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		if !slices.Contains(names, m.name) {
			names = append(names, m.name)
		}
	}
	return names
}
