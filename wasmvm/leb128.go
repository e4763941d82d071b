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

import "errors"

const (
	continuationBit = 0x80
	payloadMask     = 0x7F
	signBit         = 0x40
)

var (
	ErrIntRepresentationTooLong = errors.New("integer representation too long")
	ErrIntegerTooLarge          = errors.New("integer too large")
	ErrUnexpectedEnd            = errors.New("unexpected end")
)

// readLeb decodes a LEB128 integer of at most maxBits bits starting at
// buf[pos]. It returns the raw (possibly sign-extended) value and the position
// of the first byte after the encoding.
//
// This is the checked decoder used on untrusted input: the encoding may span
// at most ceil(maxBits/7) bytes, and the unused bits of the terminal byte must
// be zero (unsigned) or a copy of the sign bit (signed).
func readLeb(buf []byte, pos int, maxBits uint, signed bool) (uint64, int, error) {
	var result uint64
	var shift uint
	maxBytes := int((maxBits + 6) / 7)

	for bytesRead := 1; ; bytesRead++ {
		if pos >= len(buf) {
			return 0, pos, ErrUnexpectedEnd
		}
		if bytesRead > maxBytes {
			return 0, pos, ErrIntRepresentationTooLong
		}
		b := buf[pos]
		pos++
		result |= uint64(b&payloadMask) << shift
		shift += 7

		if b&continuationBit != 0 {
			continue
		}

		if bytesRead == maxBytes {
			// The terminal byte of a maximal-length encoding carries
			// 7-(shift-maxBits) unused bits that must agree with the value.
			unused := shift - maxBits
			if unused > 0 {
				var usedMask byte = payloadMask >> unused
				high := b & payloadMask &^ usedMask
				if signed {
					signSet := b&(1<<(7-unused-1)) != 0
					if signSet && high != payloadMask&^usedMask {
						return 0, pos, ErrIntegerTooLarge
					}
					if !signSet && high != 0 {
						return 0, pos, ErrIntegerTooLarge
					}
				} else if high != 0 {
					return 0, pos, ErrIntegerTooLarge
				}
			}
		}

		if signed && shift < 64 && b&signBit != 0 {
			result |= ^uint64(0) << shift
		}
		if maxBits < 64 {
			if signed {
				result &= (uint64(1) << maxBits) - 1
				// Re-extend from the target width so callers can truncate.
				if result&(uint64(1)<<(maxBits-1)) != 0 {
					result |= ^uint64(0) << maxBits
				}
			} else if result>>maxBits != 0 {
				return 0, pos, ErrIntegerTooLarge
			}
		}
		return result, pos, nil
	}
}

func readVarUint1(buf []byte, pos int) (uint32, int, error) {
	v, pos, err := readLeb(buf, pos, 1, false)
	if err != nil {
		return 0, pos, err
	}
	if v > 1 {
		return 0, pos, ErrIntegerTooLarge
	}
	return uint32(v), pos, nil
}

func readVarUint32(buf []byte, pos int) (uint32, int, error) {
	v, pos, err := readLeb(buf, pos, 32, false)
	return uint32(v), pos, err
}

func readVarInt32(buf []byte, pos int) (int32, int, error) {
	v, pos, err := readLeb(buf, pos, 32, true)
	return int32(v), pos, err
}

func readVarInt33(buf []byte, pos int) (int64, int, error) {
	v, pos, err := readLeb(buf, pos, 33, true)
	return int64(v), pos, err
}

func readVarInt64(buf []byte, pos int) (int64, int, error) {
	v, pos, err := readLeb(buf, pos, 64, true)
	return int64(v), pos, err
}

// The fast readers below are used by the interpreter and the block scanner on
// bytecode that has already passed validation. They perform no range checks.

func fastReadUint32(code []byte, pc int) (uint32, int) {
	var result uint32
	var shift uint
	for {
		b := code[pc]
		pc++
		result |= uint32(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return result, pc
		}
		shift += 7
	}
}

func fastReadInt32(code []byte, pc int) (int32, int) {
	var result int32
	var shift uint
	var b byte
	for {
		b = code[pc]
		pc++
		result |= int32(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	if shift < 32 && b&signBit != 0 {
		result |= -1 << shift
	}
	return result, pc
}

func fastReadInt64(code []byte, pc int) (int64, int) {
	var result int64
	var shift uint
	var b byte
	for {
		b = code[pc]
		pc++
		result |= int64(b&payloadMask) << shift
		shift += 7
		if b&continuationBit == 0 {
			break
		}
	}
	if shift < 64 && b&signBit != 0 {
		result |= -1 << shift
	}
	return result, pc
}

// skipLeb advances past one LEB128 encoding without decoding it.
func skipLeb(code []byte, pc int) int {
	for code[pc]&continuationBit != 0 {
		pc++
	}
	return pc + 1
}

// appendUleb128 and appendSleb128 encode values in their shortest form. They
// are used to build argument buffers and in tests.
func appendUleb128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & payloadMask)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|continuationBit)
			continue
		}
		return append(dst, b)
	}
}

func appendSleb128(dst []byte, v int64) []byte {
	for {
		b := byte(v & payloadMask)
		v >>= 7
		if (v == 0 && b&signBit == 0) || (v == -1 && b&signBit != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|continuationBit)
	}
}
