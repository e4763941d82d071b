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


package libc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

var errVarargs = errors.New("printf: vararg buffer out of bounds")

// varargs reads C variadic arguments from a wasm32 vararg buffer. Every
// argument is promoted to at least 4 bytes; 64-bit ones are 8-byte aligned.
type varargs struct {
	buf []byte
	off int
}

func (v *varargs) next(size int) ([]byte, error) {
	v.off = (v.off + size - 1) &^ (size - 1)
	if v.off+size > len(v.buf) {
		return nil, errVarargs
	}
	b := v.buf[v.off : v.off+size]
	v.off += size
	return b, nil
}

func (v *varargs) u32() (uint32, error) {
	b, err := v.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (v *varargs) u64() (uint64, error) {
	b, err := v.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// formatC expands a C printf format. Conversions take flags, width,
// precision and an l or ll length; anything it does not understand is
// copied through unchanged.
func formatC(mem *wasmvm.Memory, format string, va []byte) ([]byte, error) {
	args := &varargs{buf: va}
	var out strings.Builder

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		start := i
		i++

		// Flags, width and precision map directly onto Go's verbs.
		spec := []byte{'%'}
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			spec = append(spec, format[i])
			i++
		}
		for i < len(format) && (isDigit(format[i]) || format[i] == '.') {
			spec = append(spec, format[i])
			i++
		}
		hasPrecision := strings.IndexByte(string(spec), '.') >= 0

		long := 0
		for i < len(format) && format[i] == 'l' {
			long++
			i++
		}
		if i >= len(format) {
			out.WriteString(format[start:])
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			out.WriteByte('%')

		case 'd', 'i', 'u', 'x', 'X', 'o', 'c':
			var signed int64
			var unsigned uint64
			if long >= 2 {
				v, err := args.u64()
				if err != nil {
					return nil, err
				}
				signed, unsigned = int64(v), v
			} else {
				v, err := args.u32()
				if err != nil {
					return nil, err
				}
				signed, unsigned = int64(int32(v)), uint64(v)
			}
			switch verb {
			case 'd', 'i':
				fmt.Fprintf(&out, string(append(spec, 'd')), signed)
			case 'u':
				fmt.Fprintf(&out, string(append(spec, 'd')), unsigned)
			case 'c':
				out.WriteByte(byte(unsigned))
			default:
				fmt.Fprintf(&out, string(append(spec, verb)), unsigned)
			}

		case 'f', 'F', 'e', 'E', 'g', 'G':
			v, err := args.u64()
			if err != nil {
				return nil, err
			}
			if !hasPrecision {
				spec = append(spec, ".6"...)
			}
			if verb == 'F' {
				verb = 'f'
			}
			fmt.Fprintf(&out, string(append(spec, verb)), math.Float64frombits(v))

		case 's':
			ptr, err := args.u32()
			if err != nil {
				return nil, err
			}
			s := "(null)"
			if ptr != 0 {
				if mem == nil {
					return nil, wasmvm.ErrMemoryOutOfBounds
				}
				if s, err = mem.ReadCString(ptr); err != nil {
					return nil, err
				}
			}
			fmt.Fprintf(&out, string(append(spec, 's')), s)

		case 'p':
			ptr, err := args.u32()
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&out, "0x%x", ptr)

		default:
			out.WriteString(format[start : i+1])
		}
	}
	return []byte(out.String()), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
