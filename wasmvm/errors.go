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
)

// Structural load errors.
var (
	ErrInvalidMagic         = errors.New("invalid magic number/version: magic header not detected")
	ErrInvalidVersion       = errors.New("invalid magic number/version: unknown binary version")
	ErrUnknownSection       = errors.New("unknown section")
	ErrUnexpectedSection    = errors.New("unexpected section")
	ErrSectionSizeMismatch  = errors.New("section size mismatch")
	ErrUnknownType          = errors.New("unknown type")
	ErrUnknownFunction      = errors.New("unknown function")
	ErrUnknownTable         = errors.New("unknown table")
	ErrUnknownMemory        = errors.New("unknown memory")
	ErrUnknownGlobal        = errors.New("unknown global")
	ErrUnknownLocal         = errors.New("unknown local")
	ErrUnknownDataSegment   = errors.New("unknown data segment")
	ErrInvalidImportKind    = errors.New("invalid import kind")
	ErrInvalidExportKind    = errors.New("invalid export kind")
	ErrDuplicateExport      = errors.New("duplicate export name")
	ErrMultipleMemories     = errors.New("multiple memories")
	ErrMultipleTables       = errors.New("multiple tables")
	ErrInvalidFunctionType  = errors.New("invalid function type")
	ErrInvalidValueType     = errors.New("invalid value type")
	ErrInvalidMutability    = errors.New("invalid mutability")
	ErrLimitsMinGreaterMax  = errors.New("size minimum must not be greater than maximum")
	ErrMemorySizeTooLarge   = errors.New("memory size must be at most 65536 pages (4GiB)")
	ErrTableSizeTooLarge    = errors.New("table size out of range")
	ErrConstExprRequired    = errors.New("type mismatch or constant expression required")
	ErrIllegalConstOpcode   = errors.New("illegal opcode in constant expression")
	ErrTooManyLocals        = errors.New("too many locals")
	ErrFuncCodeMismatch     = errors.New("function and code section have inconsistent lengths")
	ErrDataCountMismatch    = errors.New("data count and data section have inconsistent lengths")
	ErrDataCountRequired    = errors.New("data count section required")
	ErrInvalidStartFunction = errors.New("invalid start function")
	ErrInvalidElementFlags  = errors.New("invalid elements segment kind")
	ErrInvalidDataFlags     = errors.New("invalid data segment kind")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrImmutableGlobal      = errors.New("global is immutable")
	ErrAlignmentTooLarge    = errors.New("alignment must not be larger than natural")
	ErrInvalidResultArity   = errors.New("invalid result arity")
	ErrElseWithoutIf        = errors.New("else without if")
	ErrUnexpectedEndOfBody  = errors.New("unexpected end of function body")
	ErrOperandStackLimit    = errors.New("operand stack depth limit exceeded")
	ErrUnsupportedOpcode    = errors.New("unsupported opcode")
	ErrZeroByteExpected     = errors.New("zero byte expected")
	ErrFunctionBodyNotEnded = errors.New("function body must end with end opcode")
)

// LoadError reports why a module failed to load or validate. A failed load
// never produces a partial module.
type LoadError struct {
	// Section is the id of the section being parsed, or -1 for the header.
	Section int
	// Offset is the byte offset in the binary at which the error was
	// detected.
	Offset int
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("WASM module load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InstantiationError reports a failure while materializing a module instance.
type InstantiationError struct {
	Err error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("WASM module instantiate failed: %v", e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}
