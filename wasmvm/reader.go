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
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

var ErrInvalidUTF8 = errors.New("invalid UTF-8 encoding")

// binaryReader is a cursor over an untrusted module buffer. Every integer it
// decodes goes through the checked LEB128 reader.
type binaryReader struct {
	buf []byte
	pos int
}

func newBinaryReader(buf []byte) *binaryReader {
	return &binaryReader{buf: buf}
}

func (r *binaryReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *binaryReader) eof() bool {
	return r.pos >= len(r.buf)
}

func (r *binaryReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrUnexpectedEnd
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *binaryReader) readBytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, ErrUnexpectedEnd
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *binaryReader) readU32LE() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *binaryReader) readU64LE() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *binaryReader) readVarUint1() (uint32, error) {
	v, pos, err := readVarUint1(r.buf, r.pos)
	r.pos = pos
	return v, err
}

func (r *binaryReader) readVarUint32() (uint32, error) {
	v, pos, err := readVarUint32(r.buf, r.pos)
	r.pos = pos
	return v, err
}

func (r *binaryReader) readVarInt32() (int32, error) {
	v, pos, err := readVarInt32(r.buf, r.pos)
	r.pos = pos
	return v, err
}

func (r *binaryReader) readVarInt33() (int64, error) {
	v, pos, err := readVarInt33(r.buf, r.pos)
	r.pos = pos
	return v, err
}

func (r *binaryReader) readVarInt64() (int64, error) {
	v, pos, err := readVarInt64(r.buf, r.pos)
	r.pos = pos
	return v, err
}

// readName reads a length-prefixed name. utf8.Valid rejects overlong forms,
// surrogates and code points above U+10FFFF.
func (r *binaryReader) readName() (string, error) {
	n, err := r.readVarUint32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
