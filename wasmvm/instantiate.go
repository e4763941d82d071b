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

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"
)

var (
	errDataSegmentDoesNotFit    = errors.New("data segment does not fit")
	errElementSegmentDoesNotFit = errors.New("elements segment does not fit")
)

// Instantiate allocates the runtime state of a loaded module, applies its
// active segments and runs its _initialize export and start function, in
// that order.
func Instantiate(module *Module, config Config) (*ModuleInstance, error) {
	config = config.withDefaults()
	inst := &ModuleInstance{
		module:          module,
		config:          config,
		exports:         make(map[string]Export, len(module.Exports)),
		droppedData:     bitset.New(uint(len(module.Datas))),
		droppedElements: bitset.New(uint(len(module.Elements))),
	}

	inst.functions = make([]funcInstance, 0, module.functionCount())
	for i, imp := range module.ImportFunctions {
		inst.functions = append(inst.functions, funcInstance{index: uint32(i), typ: imp.Type, imported: imp})
	}
	for _, fn := range module.Functions {
		idx := uint32(len(inst.functions))
		inst.functions = append(inst.functions, funcInstance{index: idx, typ: fn.Type, code: fn})
	}

	switch {
	case len(module.ImportMemories) > 0:
		// No host exports a memory, so an imported memory is created from
		// the import's own limits.
		inst.memory = NewMemory(module.ImportMemories[0].Memory, config.DefaultMaxMemoryPages)
	case len(module.Memories) > 0:
		inst.memory = NewMemory(module.Memories[0], config.DefaultMaxMemoryPages)
	}
	switch {
	case len(module.ImportTables) > 0:
		inst.table = NewTable(module.ImportTables[0].Table)
	case len(module.Tables) > 0:
		inst.table = NewTable(module.Tables[0])
	}

	var globalSize int
	inst.globals, globalSize = layoutGlobals(module)
	inst.globalData = make([]byte, globalSize)
	base := uint32(len(module.ImportGlobals))
	for i, g := range module.Globals {
		inst.setGlobalBits(base+uint32(i), inst.evalConstExpr(g.Init))
	}

	for _, e := range module.Exports {
		inst.exports[e.Name] = e
	}

	if err := inst.initElements(); err != nil {
		return nil, &InstantiationError{Err: err}
	}
	if err := inst.initData(); err != nil {
		return nil, &InstantiationError{Err: err}
	}

	Logger().Debug("module instantiated",
		zap.Int("functions", len(inst.functions)),
		zap.Int("globals", len(inst.globals)),
		zap.Bool("memory", inst.memory != nil),
		zap.Bool("table", inst.table != nil))

	if err := inst.runPostSteps(); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *ModuleInstance) initElements() error {
	for i, seg := range m.module.Elements {
		switch seg.Mode {
		case SegmentPassive:
			continue
		case SegmentDeclarative:
			m.droppedElements.Set(uint(i))
			continue
		}
		if m.table == nil {
			return ErrUnknownTable
		}
		offset := uint32(m.evalConstExpr(seg.Offset))
		if err := m.table.Init(offset, seg.FuncIndices); err != nil {
			return errElementSegmentDoesNotFit
		}
		m.droppedElements.Set(uint(i))
	}
	return nil
}

func (m *ModuleInstance) initData() error {
	for i, seg := range m.module.Datas {
		if seg.Mode != SegmentActive {
			continue
		}
		if m.memory == nil {
			return ErrUnknownMemory
		}
		offset := uint32(m.evalConstExpr(seg.Offset))
		if err := m.memory.Init(offset, 0, uint32(len(seg.Init)), seg.Init); err != nil {
			return errDataSegmentDoesNotFit
		}
		m.droppedData.Set(uint(i))
	}
	return nil
}

// runPostSteps calls _initialize, when exported as ()->(), and then the start
// function, both on one execution environment.
func (m *ModuleInstance) runPostSteps() error {
	initIdx, hasInit := m.module.ExportedFunction("_initialize")
	if hasInit && !m.functions[initIdx].typ.Equal(emptyFuncType) {
		hasInit = false
	}
	if !hasInit && m.module.StartFunction == nil {
		return nil
	}

	env, err := NewExecEnv(m, m.config.StackSize)
	if err != nil {
		return err
	}
	defer env.Destroy()

	if hasInit {
		if err := env.CallFunction(initIdx, nil); err != nil {
			return err
		}
	}
	if m.module.StartFunction != nil {
		if err := env.CallFunction(*m.module.StartFunction, nil); err != nil {
			return err
		}
	}
	return nil
}

var emptyFuncType = NewFuncType(nil, nil)
