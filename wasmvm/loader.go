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
	"fmt"
	"math"

	"go.uber.org/zap"
)

const (
	wasmMagicNumber      = "\x00asm"
	supportedWasmVersion = 1
)

// SectionId represents the different sections of a WebAssembly module.
// See https://webassembly.github.io/spec/core/binary/modules.html#sections
type SectionId byte

const (
	CustomSectionId SectionId = iota
	TypeSectionId
	ImportSectionId
	FunctionSectionId
	TableSectionId
	MemorySectionId
	GlobalSectionId
	ExportSectionId
	StartSectionId
	ElementSectionId
	CodeSectionId
	DataSectionId
	DataCountSectionId
)

var sectionNames = [...]string{
	"custom", "type", "import", "function", "table", "memory", "global",
	"export", "start", "element", "code", "data", "data count",
}

func (id SectionId) String() string {
	if int(id) < len(sectionNames) {
		return sectionNames[id]
	}
	return fmt.Sprintf("section(%d)", byte(id))
}

// sectionOrder gives the position a non-custom section must appear in. The
// data count section sits between element and code.
func sectionOrder(id SectionId) int {
	switch id {
	case DataCountSectionId:
		return int(ElementSectionId) + 1
	case CodeSectionId, DataSectionId:
		return int(id) + 1
	default:
		return int(id)
	}
}

type loader struct {
	reader   *binaryReader
	registry *NativeRegistry
	config   Config
	module   *Module
	logger   *zap.Logger

	codeCount int
}

// LoadModule decodes and validates a binary module. Function imports are
// resolved against registry, which may be nil.
func LoadModule(buf []byte, registry *NativeRegistry, config Config) (*Module, error) {
	l := &loader{
		reader:   newBinaryReader(buf),
		registry: registry,
		config:   config.withDefaults(),
		module:   &Module{},
		logger:   Logger(),
	}
	if err := l.load(); err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &LoadError{Section: -1, Offset: l.reader.pos, Err: err}
	}
	return l.module, nil
}

func (l *loader) load() error {
	if err := l.parseHeader(); err != nil {
		return err
	}

	lastOrder := 0
	for !l.reader.eof() {
		sectionStart := l.reader.pos
		idByte, _ := l.reader.readByte()
		id := SectionId(idByte)
		size, err := l.reader.readVarUint32()
		if err != nil {
			return &LoadError{Section: int(id), Offset: sectionStart, Err: err}
		}
		if int(size) > l.reader.remaining() {
			return &LoadError{Section: int(id), Offset: sectionStart, Err: ErrUnexpectedEnd}
		}
		if id > DataCountSectionId {
			return &LoadError{Section: int(id), Offset: sectionStart, Err: ErrUnknownSection}
		}
		if id != CustomSectionId {
			order := sectionOrder(id)
			if order <= lastOrder {
				return &LoadError{Section: int(id), Offset: sectionStart, Err: ErrUnexpectedSection}
			}
			lastOrder = order
		}

		payloadEnd := l.reader.pos + int(size)
		if err := l.parseSection(id, payloadEnd); err != nil {
			return &LoadError{Section: int(id), Offset: l.reader.pos, Err: err}
		}
		l.logger.Debug("loaded section",
			zap.Stringer("section", id),
			zap.Uint32("size", size))
	}

	m := l.module
	if len(m.Functions) != l.codeCount {
		return ErrFuncCodeMismatch
	}
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Datas)) {
		return ErrDataCountMismatch
	}
	if m.FunctionNames != nil {
		for i, fn := range m.Functions {
			fn.Name = m.FunctionNames[uint32(len(m.ImportFunctions)+i)]
		}
	}
	return nil
}

// parseSection parses one section payload through a reader bounded to the
// section, then confirms that exactly size bytes were consumed.
func (l *loader) parseSection(id SectionId, payloadEnd int) error {
	outer := l.reader
	section := &binaryReader{buf: outer.buf[:payloadEnd], pos: outer.pos}
	l.reader = section
	defer func() {
		l.reader = outer
		outer.pos = payloadEnd
	}()

	var err error
	switch id {
	case CustomSectionId:
		err = l.parseCustomSection()
	case TypeSectionId:
		err = l.parseTypeSection()
	case ImportSectionId:
		err = l.parseImportSection()
	case FunctionSectionId:
		err = l.parseFunctionSection()
	case TableSectionId:
		err = l.parseTableSection()
	case MemorySectionId:
		err = l.parseMemorySection()
	case GlobalSectionId:
		err = l.parseGlobalSection()
	case ExportSectionId:
		err = l.parseExportSection()
	case StartSectionId:
		err = l.parseStartSection()
	case ElementSectionId:
		err = l.parseElementSection()
	case CodeSectionId:
		err = l.parseCodeSection()
	case DataSectionId:
		err = l.parseDataSection()
	case DataCountSectionId:
		var count uint32
		count, err = section.readVarUint32()
		l.module.DataCount = &count
	}
	if errors.Is(err, ErrUnexpectedEnd) {
		// Running out of bytes inside a section means the declared size was
		// too small for its content.
		return ErrSectionSizeMismatch
	}
	if err != nil {
		return err
	}
	if section.pos != payloadEnd {
		return ErrSectionSizeMismatch
	}
	return nil
}

func (l *loader) parseHeader() error {
	header, err := l.reader.readBytes(4)
	if err != nil || string(header) != wasmMagicNumber {
		return ErrInvalidMagic
	}
	version, err := l.reader.readU32LE()
	if err != nil || version != supportedWasmVersion {
		return ErrInvalidVersion
	}
	return nil
}

// parseVector reads a count-prefixed vector of T.
func parseVector[T any](l *loader, parse func() (T, error)) ([]T, error) {
	count, err := l.readCount()
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, count)
	for range count {
		item, err := parse()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// readCount reads a vector length. Every element takes at least one byte, so
// a count larger than the remaining payload is rejected before allocating.
func (l *loader) readCount() (uint32, error) {
	count, err := l.reader.readVarUint32()
	if err != nil {
		return 0, err
	}
	if int(count) > l.reader.remaining() {
		return 0, ErrUnexpectedEnd
	}
	return count, nil
}

func (l *loader) parseCustomSection() error {
	name, err := l.reader.readName()
	if err != nil {
		return err
	}
	if name == "name" {
		// Names are diagnostics only; a malformed name section is ignored.
		rest := l.reader.buf[l.reader.pos:]
		if names, err := parseFunctionNames(rest); err == nil {
			l.module.FunctionNames = names
		}
	}
	l.reader.pos = len(l.reader.buf)
	return nil
}

// parseFunctionNames decodes the function-names subsection of a name
// section.
func parseFunctionNames(payload []byte) (map[uint32]string, error) {
	r := newBinaryReader(payload)
	for !r.eof() {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.readVarUint32()
		if err != nil {
			return nil, err
		}
		body, err := r.readBytes(int(size))
		if err != nil {
			return nil, err
		}
		if id != 1 {
			continue
		}
		sub := newBinaryReader(body)
		count, err := sub.readVarUint32()
		if err != nil {
			return nil, err
		}
		names := make(map[uint32]string, min(int(count), len(body)))
		for range count {
			idx, err := sub.readVarUint32()
			if err != nil {
				return nil, err
			}
			name, err := sub.readName()
			if err != nil {
				return nil, err
			}
			names[idx] = name
		}
		return names, nil
	}
	return nil, errors.New("no function names")
}

func (l *loader) parseTypeSection() error {
	types, err := parseVector(l, l.parseFunctionType)
	if err != nil {
		return err
	}
	// Structurally equal types share one *FuncType so that call_indirect
	// can compare type identity.
	for i, t := range types {
		for _, prev := range types[:i] {
			if prev.Equal(t) {
				types[i] = prev
				break
			}
		}
	}
	l.module.Types = types
	return nil
}

func (l *loader) parseFunctionType() (*FuncType, error) {
	form, err := l.reader.readByte()
	if err != nil {
		return nil, err
	}
	if form != 0x60 {
		return nil, ErrInvalidFunctionType
	}
	params, err := parseVector(l, l.parseValueType)
	if err != nil {
		return nil, err
	}
	results, err := parseVector(l, l.parseValueType)
	if err != nil {
		return nil, err
	}
	return NewFuncType(params, results), nil
}

func (l *loader) parseValueType() (ValueType, error) {
	b, err := l.reader.readByte()
	if err != nil {
		return 0, err
	}
	if !isValueType(b) {
		return 0, fmt.Errorf("%w 0x%02x", ErrInvalidValueType, b)
	}
	return ValueType(b), nil
}

// parseImportSection scans the imports twice: the first pass counts each
// kind so that the per-kind tables are allocated once, the second pass fills
// them and resolves native functions.
func (l *loader) parseImportSection() error {
	start := l.reader.pos
	count, err := l.readCount()
	if err != nil {
		return err
	}

	var kinds [4]int
	for range count {
		imp, err := l.parseImport()
		if err != nil {
			return err
		}
		kinds[imp.Kind]++
	}
	if kinds[ExternMemory] > 1 {
		return ErrMultipleMemories
	}
	if kinds[ExternTable] > 1 {
		return ErrMultipleTables
	}

	m := l.module
	m.Imports = make([]Import, count)
	m.ImportFunctions = make([]*Import, 0, kinds[ExternFunc])
	m.ImportTables = make([]*Import, 0, kinds[ExternTable])
	m.ImportMemories = make([]*Import, 0, kinds[ExternMemory])
	m.ImportGlobals = make([]*Import, 0, kinds[ExternGlobal])

	l.reader.pos = start
	if _, err := l.readCount(); err != nil {
		return err
	}
	for i := range m.Imports {
		imp, err := l.parseImport()
		if err != nil {
			return err
		}
		m.Imports[i] = imp
		slot := &m.Imports[i]
		switch imp.Kind {
		case ExternFunc:
			l.resolveNative(slot)
			m.ImportFunctions = append(m.ImportFunctions, slot)
		case ExternTable:
			m.ImportTables = append(m.ImportTables, slot)
		case ExternMemory:
			m.ImportMemories = append(m.ImportMemories, slot)
		case ExternGlobal:
			m.ImportGlobals = append(m.ImportGlobals, slot)
		}
	}
	return nil
}

func (l *loader) parseImport() (Import, error) {
	moduleName, err := l.reader.readName()
	if err != nil {
		return Import{}, err
	}
	fieldName, err := l.reader.readName()
	if err != nil {
		return Import{}, err
	}
	kind, err := l.reader.readByte()
	if err != nil {
		return Import{}, err
	}

	imp := Import{ModuleName: moduleName, FieldName: fieldName, Kind: ExternKind(kind)}
	switch imp.Kind {
	case ExternFunc:
		idx, err := l.reader.readVarUint32()
		if err != nil {
			return Import{}, err
		}
		if idx >= uint32(len(l.module.Types)) {
			return Import{}, ErrUnknownType
		}
		imp.TypeIndex = idx
		imp.Type = l.module.Types[idx]
	case ExternTable:
		if imp.Table, err = l.parseTableType(); err != nil {
			return Import{}, err
		}
	case ExternMemory:
		if imp.Memory, err = l.parseMemoryType(); err != nil {
			return Import{}, err
		}
	case ExternGlobal:
		if imp.Global, err = l.parseGlobalType(); err != nil {
			return Import{}, err
		}
	default:
		return Import{}, ErrInvalidImportKind
	}
	return imp, nil
}

// resolveNative links a function import against the registry. Failures are
// not load errors: the import stays unlinked and traps if it is called.
func (l *loader) resolveNative(imp *Import) {
	sym, ok := l.registry.Lookup(imp.ModuleName, imp.FieldName)
	if !ok {
		l.logger.Warn("failed to resolve import function",
			zap.String("module", imp.ModuleName),
			zap.String("field", imp.FieldName))
		return
	}
	if err := checkSymbolSignature(sym.Signature, imp.Type); err != nil {
		l.logger.Warn("native symbol signature does not match import type",
			zap.String("module", imp.ModuleName),
			zap.String("field", imp.FieldName),
			zap.String("signature", sym.Signature),
			zap.Stringer("type", imp.Type))
		return
	}
	imp.Native = sym
}

func (l *loader) parseFunctionSection() error {
	indices, err := parseVector(l, l.reader.readVarUint32)
	if err != nil {
		return err
	}
	l.module.Functions = make([]*Function, len(indices))
	for i, idx := range indices {
		if idx >= uint32(len(l.module.Types)) {
			return ErrUnknownType
		}
		l.module.Functions[i] = &Function{TypeIndex: idx, Type: l.module.Types[idx]}
	}
	return nil
}

func (l *loader) parseLimits() (Limits, error) {
	flags, err := l.reader.readByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > 1 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	min, err := l.reader.readVarUint32()
	if err != nil {
		return Limits{}, err
	}
	limits := Limits{Min: min}
	if flags == 1 {
		max, err := l.reader.readVarUint32()
		if err != nil {
			return Limits{}, err
		}
		if min > max {
			return Limits{}, ErrLimitsMinGreaterMax
		}
		limits.Max = &max
	}
	return limits, nil
}

func (l *loader) parseTableType() (TableType, error) {
	elemType, err := l.reader.readByte()
	if err != nil {
		return TableType{}, err
	}
	if ValueType(elemType) != FuncRef {
		return TableType{}, fmt.Errorf("%w: table element type 0x%02x", ErrInvalidValueType, elemType)
	}
	limits, err := l.parseLimits()
	if err != nil {
		return TableType{}, err
	}
	if limits.Min > MaxTableSize {
		return TableType{}, ErrTableSizeTooLarge
	}
	if limits.Max != nil && *limits.Max > MaxTableSize {
		clamped := uint32(MaxTableSize)
		limits.Max = &clamped
	}
	return TableType{ElemType: FuncRef, Limits: limits}, nil
}

func (l *loader) parseMemoryType() (MemoryType, error) {
	limits, err := l.parseLimits()
	if err != nil {
		return MemoryType{}, err
	}
	if limits.Min > MaxMemoryPages {
		return MemoryType{}, ErrMemorySizeTooLarge
	}
	if limits.Max != nil && *limits.Max > MaxMemoryPages {
		return MemoryType{}, ErrMemorySizeTooLarge
	}
	return MemoryType{Limits: limits}, nil
}

func (l *loader) parseGlobalType() (GlobalType, error) {
	valueType, err := l.parseValueType()
	if err != nil {
		return GlobalType{}, err
	}
	mutable, err := l.reader.readByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mutable > 1 {
		return GlobalType{}, ErrInvalidMutability
	}
	return GlobalType{ValueType: valueType, Mutable: mutable == 1}, nil
}

func (l *loader) parseTableSection() error {
	tables, err := parseVector(l, l.parseTableType)
	if err != nil {
		return err
	}
	if len(tables)+len(l.module.ImportTables) > 1 {
		return ErrMultipleTables
	}
	l.module.Tables = tables
	return nil
}

func (l *loader) parseMemorySection() error {
	memories, err := parseVector(l, l.parseMemoryType)
	if err != nil {
		return err
	}
	if len(memories)+len(l.module.ImportMemories) > 1 {
		return ErrMultipleMemories
	}
	l.module.Memories = memories
	return nil
}

func (l *loader) parseGlobalSection() error {
	globals, err := parseVector(l, func() (Global, error) {
		gt, err := l.parseGlobalType()
		if err != nil {
			return Global{}, err
		}
		init, err := l.parseConstExpr(gt.ValueType)
		if err != nil {
			return Global{}, err
		}
		return Global{Type: gt, Init: init}, nil
	})
	if err != nil {
		return err
	}
	l.module.Globals = globals
	return nil
}

// parseConstExpr reads a constant initializer expression producing a value
// of type want.
func (l *loader) parseConstExpr(want ValueType) (ConstExpr, error) {
	op, err := l.reader.readByte()
	if err != nil {
		return ConstExpr{}, err
	}
	expr := ConstExpr{Opcode: op}
	var got ValueType
	switch op {
	case i32Const:
		v, err := l.reader.readVarInt32()
		if err != nil {
			return ConstExpr{}, err
		}
		expr.Bits, got = uint64(uint32(v)), I32
	case i64Const:
		v, err := l.reader.readVarInt64()
		if err != nil {
			return ConstExpr{}, err
		}
		expr.Bits, got = uint64(v), I64
	case f32Const:
		v, err := l.reader.readU32LE()
		if err != nil {
			return ConstExpr{}, err
		}
		expr.Bits, got = uint64(v), F32
	case f64Const:
		v, err := l.reader.readU64LE()
		if err != nil {
			return ConstExpr{}, err
		}
		expr.Bits, got = v, F64
	case globalGet:
		idx, err := l.reader.readVarUint32()
		if err != nil {
			return ConstExpr{}, err
		}
		// Only imported globals are initialized when constant expressions
		// are evaluated.
		if idx >= uint32(len(l.module.ImportGlobals)) {
			return ConstExpr{}, ErrUnknownGlobal
		}
		expr.Index, got = idx, l.module.ImportGlobals[idx].Global.ValueType
	case refNull:
		t, err := l.reader.readByte()
		if err != nil {
			return ConstExpr{}, err
		}
		if ValueType(t) != FuncRef && ValueType(t) != ExternRef {
			return ConstExpr{}, ErrInvalidValueType
		}
		got = ValueType(t)
	case refFunc:
		idx, err := l.reader.readVarUint32()
		if err != nil {
			return ConstExpr{}, err
		}
		if idx >= l.module.functionCount() {
			return ConstExpr{}, ErrUnknownFunction
		}
		expr.Index, got = idx, FuncRef
	default:
		return ConstExpr{}, fmt.Errorf("%w: 0x%02x", ErrIllegalConstOpcode, op)
	}

	terminator, err := l.reader.readByte()
	if err != nil {
		return ConstExpr{}, err
	}
	if terminator != end || got != want {
		return ConstExpr{}, ErrConstExprRequired
	}
	return expr, nil
}

func (l *loader) parseExportSection() error {
	seen := map[string]struct{}{}
	exports, err := parseVector(l, func() (Export, error) {
		name, err := l.reader.readName()
		if err != nil {
			return Export{}, err
		}
		if _, ok := seen[name]; ok {
			return Export{}, fmt.Errorf("%w: %q", ErrDuplicateExport, name)
		}
		seen[name] = struct{}{}
		kind, err := l.reader.readByte()
		if err != nil {
			return Export{}, err
		}
		idx, err := l.reader.readVarUint32()
		if err != nil {
			return Export{}, err
		}
		m := l.module
		switch ExternKind(kind) {
		case ExternFunc:
			if idx >= m.functionCount() {
				return Export{}, ErrUnknownFunction
			}
		case ExternTable:
			if int(idx) >= m.tableCount() {
				return Export{}, ErrUnknownTable
			}
		case ExternMemory:
			if int(idx) >= m.memoryCount() {
				return Export{}, ErrUnknownMemory
			}
		case ExternGlobal:
			if idx >= m.globalCount() {
				return Export{}, ErrUnknownGlobal
			}
		default:
			return Export{}, ErrInvalidExportKind
		}
		return Export{Name: name, Kind: ExternKind(kind), Index: idx}, nil
	})
	if err != nil {
		return err
	}
	l.module.Exports = exports
	return nil
}

func (l *loader) parseStartSection() error {
	idx, err := l.reader.readVarUint32()
	if err != nil {
		return err
	}
	if idx >= l.module.functionCount() {
		return ErrUnknownFunction
	}
	t := l.module.functionType(idx)
	if len(t.Params) != 0 || len(t.Results) != 0 {
		return ErrInvalidStartFunction
	}
	l.module.StartFunction = &idx
	return nil
}

func (l *loader) parseElementSection() error {
	elements, err := parseVector(l, l.parseElementSegment)
	if err != nil {
		return err
	}
	l.module.Elements = elements
	return nil
}

func (l *loader) parseElementSegment() (ElementSegment, error) {
	flags, err := l.reader.readVarUint32()
	if err != nil {
		return ElementSegment{}, err
	}
	if flags > 7 {
		return ElementSegment{}, ErrInvalidElementFlags
	}

	// Bit 0 marks passive or declarative, bit 1 an explicit table index (or
	// declarative when bit 0 is set), bit 2 expression-encoded elements.
	seg := ElementSegment{Mode: SegmentActive}
	switch {
	case flags&1 == 0:
		if flags&2 != 0 {
			if seg.TableIndex, err = l.reader.readVarUint32(); err != nil {
				return ElementSegment{}, err
			}
		}
		if int(seg.TableIndex) >= l.module.tableCount() {
			return ElementSegment{}, ErrUnknownTable
		}
		if seg.Offset, err = l.parseConstExpr(I32); err != nil {
			return ElementSegment{}, err
		}
	case flags&2 == 0:
		seg.Mode = SegmentPassive
	default:
		seg.Mode = SegmentDeclarative
	}

	// Flags 0 and 4 have an implicit funcref kind.
	if flags != 0 && flags != 4 {
		kind, err := l.reader.readByte()
		if err != nil {
			return ElementSegment{}, err
		}
		if flags&4 == 0 && kind != 0x00 {
			return ElementSegment{}, ErrInvalidElementFlags
		}
		if flags&4 != 0 && ValueType(kind) != FuncRef {
			return ElementSegment{}, ErrInvalidValueType
		}
	}

	if flags&4 == 0 {
		seg.FuncIndices, err = parseVector(l, func() (uint32, error) {
			idx, err := l.reader.readVarUint32()
			if err != nil {
				return 0, err
			}
			if idx >= l.module.functionCount() {
				return 0, ErrUnknownFunction
			}
			return idx, nil
		})
	} else {
		seg.FuncIndices, err = parseVector(l, func() (uint32, error) {
			expr, err := l.parseConstExpr(FuncRef)
			if err != nil {
				return 0, err
			}
			if expr.Opcode == refNull {
				return NullReference, nil
			}
			return expr.Index, nil
		})
	}
	if err != nil {
		return ElementSegment{}, err
	}
	return seg, nil
}

func (l *loader) parseCodeSection() error {
	count, err := l.readCount()
	if err != nil {
		return err
	}
	if int(count) != len(l.module.Functions) {
		return ErrFuncCodeMismatch
	}
	l.codeCount = int(count)

	for i, fn := range l.module.Functions {
		size, err := l.reader.readVarUint32()
		if err != nil {
			return err
		}
		bodyStart := l.reader.pos
		bodyEnd := bodyStart + int(size)
		if size == 0 || int(size) > l.reader.remaining() {
			return ErrUnexpectedEnd
		}
		body := &binaryReader{buf: l.reader.buf[:bodyEnd], pos: bodyStart}
		if err := l.parseLocals(body, fn); err != nil {
			return err
		}
		// The code is copied so the validator can rewrite width-dependent
		// opcodes without touching the caller's buffer.
		fn.CodeOffset = body.pos
		fn.Code = bytes.Clone(body.buf[body.pos:bodyEnd])
		if err := validateFunction(l.module, fn); err != nil {
			return fmt.Errorf("function %d: %w", len(l.module.ImportFunctions)+i, err)
		}
		l.reader.pos = bodyEnd
	}
	return nil
}

func (l *loader) parseLocals(r *binaryReader, fn *Function) error {
	groups, err := r.readVarUint32()
	if err != nil {
		return err
	}
	var total uint64
	var locals []ValueType
	for range groups {
		n, err := r.readVarUint32()
		if err != nil {
			return err
		}
		total += uint64(n)
		if total > uint64(l.config.MaxLocals) || total > math.MaxInt32 {
			return ErrTooManyLocals
		}
		b, err := r.readByte()
		if err != nil {
			return err
		}
		if !isValueType(b) {
			return fmt.Errorf("%w 0x%02x", ErrInvalidValueType, b)
		}
		for range n {
			locals = append(locals, ValueType(b))
		}
	}
	fn.Locals = locals
	return nil
}

func (l *loader) parseDataSection() error {
	datas, err := parseVector(l, l.parseDataSegment)
	if err != nil {
		return err
	}
	l.module.Datas = datas
	return nil
}

func (l *loader) parseDataSegment() (DataSegment, error) {
	flags, err := l.reader.readVarUint32()
	if err != nil {
		return DataSegment{}, err
	}
	seg := DataSegment{}
	switch flags {
	case 0:
	case 1:
		seg.Mode = SegmentPassive
	case 2:
		if seg.MemoryIndex, err = l.reader.readVarUint32(); err != nil {
			return DataSegment{}, err
		}
	default:
		return DataSegment{}, ErrInvalidDataFlags
	}
	if seg.Mode == SegmentActive {
		if int(seg.MemoryIndex) >= l.module.memoryCount() {
			return DataSegment{}, ErrUnknownMemory
		}
		if seg.Offset, err = l.parseConstExpr(I32); err != nil {
			return DataSegment{}, err
		}
	}
	n, err := l.reader.readVarUint32()
	if err != nil {
		return DataSegment{}, err
	}
	init, err := l.reader.readBytes(int(n))
	if err != nil {
		return DataSegment{}, err
	}
	seg.Init = bytes.Clone(init)
	return seg, nil
}
