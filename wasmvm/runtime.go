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
	"io"
)

// Runtime provides the main API for loading, instantiating and running WASM
// modules.
type Runtime struct {
	config   Config
	registry *NativeRegistry
}

// NewRuntime creates a new Runtime with default settings and an empty
// native registry.
func NewRuntime() *Runtime {
	return &Runtime{config: DefaultConfig(), registry: NewNativeRegistry()}
}

// WithConfig sets the configuration for the runtime. Must be called before
// loading any modules.
func (r *Runtime) WithConfig(config Config) *Runtime {
	r.config = config.withDefaults()
	return r
}

// WithRegistry replaces the native registry imports are resolved against.
func (r *Runtime) WithRegistry(registry *NativeRegistry) *Runtime {
	r.registry = registry
	return r
}

func (r *Runtime) Config() Config {
	return r.config
}

func (r *Runtime) Registry() *NativeRegistry {
	return r.registry
}

// RegisterNatives adds host functions importable under moduleName.
func (r *Runtime) RegisterNatives(moduleName string, symbols []NativeSymbol) error {
	return r.registry.Register(moduleName, symbols)
}

// Load parses and validates a module. Imports are linked against the
// registered natives at this point, so natives must be registered first.
func (r *Runtime) Load(wasm []byte) (*Module, error) {
	return LoadModule(wasm, r.registry, r.config)
}

// LoadReader is Load for a module read from an io.Reader.
func (r *Runtime) LoadReader(wasm io.Reader) (*Module, error) {
	data, err := io.ReadAll(wasm)
	if err != nil {
		return nil, err
	}
	return r.Load(data)
}

// Instantiate creates an instance of a loaded module and runs its start
// function.
func (r *Runtime) Instantiate(module *Module) (*ModuleInstance, error) {
	return Instantiate(module, r.config)
}

// InstantiateFromBytes is a convenience method to load and instantiate a
// module in one step.
func (r *Runtime) InstantiateFromBytes(wasm []byte) (*ModuleInstance, error) {
	module, err := r.Load(wasm)
	if err != nil {
		return nil, err
	}
	return r.Instantiate(module)
}

// NewExecEnv creates an execution environment for inst sized by the
// runtime's configured stack size.
func (r *Runtime) NewExecEnv(inst *ModuleInstance) (*ExecEnv, error) {
	return NewExecEnv(inst, r.config.StackSize)
}

// NativeModuleBuilder provides a fluent API for building the symbol table of
// a native module.
//
// Example:
//
//	err := wasmvm.NewNativeModuleBuilder("env").
//	    AddFunc("log", func(env *wasmvm.ExecEnv, x int32) { fmt.Println(x) }, "(i)").
//	    Register(runtime.Registry())
type NativeModuleBuilder struct {
	moduleName string
	symbols    []NativeSymbol
}

func NewNativeModuleBuilder(moduleName string) *NativeModuleBuilder {
	return &NativeModuleBuilder{moduleName: moduleName}
}

// AddFunc adds a host function. An empty signature is derived from fn.
func (b *NativeModuleBuilder) AddFunc(name string, fn any, signature string) *NativeModuleBuilder {
	b.symbols = append(b.symbols, NativeSymbol{Name: name, Func: fn, Signature: signature})
	return b
}

func (b *NativeModuleBuilder) Symbols() []NativeSymbol {
	return b.symbols
}

func (b *NativeModuleBuilder) Register(registry *NativeRegistry) error {
	return registry.Register(b.moduleName, b.symbols)
}
