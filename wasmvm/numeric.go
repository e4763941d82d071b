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
	"math"
	"math/bits"
)

var (
	ErrIntegerDivideByZero        = errors.New("integer divide by zero")
	ErrIntegerOverflow            = errors.New("integer overflow")
	ErrInvalidConversionToInteger = errors.New("invalid conversion to integer")
)

const (
	maxInt32Plus1  = 2147483648.0
	maxUint32Plus1 = 4294967296.0
	maxInt64Plus1  = 9223372036854775808.0
	maxUint64Plus1 = 18446744073709551616.0
)

type wasmInt interface {
	int32 | int64
}

type wasmFloat interface {
	float32 | float64
}

type wasmNumber interface {
	wasmInt | wasmFloat
}

func boolToI32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

func eq[T wasmNumber](a, b T) bool { return a == b }
func ne[T wasmNumber](a, b T) bool { return a != b }
func lt[T wasmNumber](a, b T) bool { return a < b }
func gt[T wasmNumber](a, b T) bool { return a > b }
func le[T wasmNumber](a, b T) bool { return a <= b }
func ge[T wasmNumber](a, b T) bool { return a >= b }

func ltU32(a, b int32) bool { return uint32(a) < uint32(b) }
func gtU32(a, b int32) bool { return uint32(a) > uint32(b) }
func leU32(a, b int32) bool { return uint32(a) <= uint32(b) }
func geU32(a, b int32) bool { return uint32(a) >= uint32(b) }
func ltU64(a, b int64) bool { return uint64(a) < uint64(b) }
func gtU64(a, b int64) bool { return uint64(a) > uint64(b) }
func leU64(a, b int64) bool { return uint64(a) <= uint64(b) }
func geU64(a, b int64) bool { return uint64(a) >= uint64(b) }

func add[T wasmNumber](a, b T) T { return a + b }
func sub[T wasmNumber](a, b T) T { return a - b }
func mul[T wasmNumber](a, b T) T { return a * b }
func and[T wasmInt](a, b T) T    { return a & b }
func or[T wasmInt](a, b T) T     { return a | b }
func xor[T wasmInt](a, b T) T    { return a ^ b }

func fdiv[T wasmFloat](a, b T) T { return a / b }

// divS traps on the one quotient that does not fit: the minimum value, the
// only non-zero value that is its own negation, divided by -1.
func divS[T wasmInt](a, b T) (T, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	if b == -1 && a != 0 && a == -a {
		return 0, ErrIntegerOverflow
	}
	return a / b, nil
}

// remS never overflows. Go defines MinInt % -1 as 0, which is the wasm
// result.
func remS[T wasmInt](a, b T) (T, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	return a % b, nil
}

func divU32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	return int32(uint32(a) / uint32(b)), nil
}

func remU32(a, b int32) (int32, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	return int32(uint32(a) % uint32(b)), nil
}

func divU64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	return int64(uint64(a) / uint64(b)), nil
}

func remU64(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrIntegerDivideByZero
	}
	return int64(uint64(a) % uint64(b)), nil
}

func shl32(a, b int32) int32  { return a << (uint32(b) & 31) }
func shrS32(a, b int32) int32 { return a >> (uint32(b) & 31) }
func shrU32(a, b int32) int32 { return int32(uint32(a) >> (uint32(b) & 31)) }
func shl64(a, b int64) int64  { return a << (uint64(b) & 63) }
func shrS64(a, b int64) int64 { return a >> (uint64(b) & 63) }
func shrU64(a, b int64) int64 { return int64(uint64(a) >> (uint64(b) & 63)) }

func rotl32(a, b int32) int32 { return int32(bits.RotateLeft32(uint32(a), int(b&31))) }
func rotr32(a, b int32) int32 { return int32(bits.RotateLeft32(uint32(a), -int(b&31))) }
func rotl64(a, b int64) int64 { return int64(bits.RotateLeft64(uint64(a), int(b&63))) }
func rotr64(a, b int64) int64 { return int64(bits.RotateLeft64(uint64(a), -int(b&63))) }

func clz32(a int32) int32    { return int32(bits.LeadingZeros32(uint32(a))) }
func ctz32(a int32) int32    { return int32(bits.TrailingZeros32(uint32(a))) }
func popcnt32(a int32) int32 { return int32(bits.OnesCount32(uint32(a))) }
func clz64(a int64) int64    { return int64(bits.LeadingZeros64(uint64(a))) }
func ctz64(a int64) int64    { return int64(bits.TrailingZeros64(uint64(a))) }
func popcnt64(a int64) int64 { return int64(bits.OnesCount64(uint64(a))) }

func fabs[T wasmFloat](a T) T   { return T(math.Abs(float64(a))) }
func fneg[T wasmFloat](a T) T   { return -a }
func fceil[T wasmFloat](a T) T  { return T(math.Ceil(float64(a))) }
func ffloor[T wasmFloat](a T) T { return T(math.Floor(float64(a))) }
func ftrunc[T wasmFloat](a T) T { return T(math.Trunc(float64(a))) }
func fsqrt[T wasmFloat](a T) T  { return T(math.Sqrt(float64(a))) }

// fnearest rounds half to even and keeps the sign of zero results.
func fnearest[T wasmFloat](a T) T {
	f := float64(a)
	return T(math.Copysign(math.RoundToEven(f), f))
}

// fmin and fmax rely on the builtins, which propagate NaN and order -0 below
// +0 as wasm requires.
func fmin[T wasmFloat](a, b T) T { return min(a, b) }
func fmax[T wasmFloat](a, b T) T { return max(a, b) }

func fcopysign[T wasmFloat](a, b T) T {
	return T(math.Copysign(float64(a), float64(b)))
}

// truncChecked truncates a toward zero and reports whether the result lies
// in [lo, hiPlus1). The bounds are exact in float64 for every target type.
func truncChecked[T wasmFloat](a T, lo, hiPlus1 float64) (float64, error) {
	f := float64(a)
	if math.IsNaN(f) {
		return 0, ErrInvalidConversionToInteger
	}
	t := math.Trunc(f)
	if t < lo || t >= hiPlus1 {
		return 0, ErrIntegerOverflow
	}
	return t, nil
}

func truncS32[T wasmFloat](a T) (int32, error) {
	t, err := truncChecked(a, math.MinInt32, maxInt32Plus1)
	return int32(t), err
}

func truncU32[T wasmFloat](a T) (int32, error) {
	// Values in (-1, 0) truncate to -0, which compares equal to 0.
	t, err := truncChecked(a, 0, maxUint32Plus1)
	return int32(uint32(t)), err
}

func truncS64[T wasmFloat](a T) (int64, error) {
	t, err := truncChecked(a, math.MinInt64, maxInt64Plus1)
	return int64(t), err
}

func truncU64[T wasmFloat](a T) (int64, error) {
	t, err := truncChecked(a, 0, maxUint64Plus1)
	return int64(uint64(t)), err
}

func truncSatS32[T wasmFloat](a T) int32 {
	f := float64(a)
	switch {
	case math.IsNaN(f):
		return 0
	case f < math.MinInt32:
		return math.MinInt32
	case f >= maxInt32Plus1:
		return math.MaxInt32
	}
	return int32(f)
}

func truncSatU32[T wasmFloat](a T) int32 {
	f := float64(a)
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f >= maxUint32Plus1:
		return -1
	}
	return int32(uint32(f))
}

func truncSatS64[T wasmFloat](a T) int64 {
	f := float64(a)
	switch {
	case math.IsNaN(f):
		return 0
	case f < math.MinInt64:
		return math.MinInt64
	case f >= maxInt64Plus1:
		return math.MaxInt64
	}
	return int64(f)
}

func truncSatU64[T wasmFloat](a T) int64 {
	f := float64(a)
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f >= maxUint64Plus1:
		return -1
	}
	return int64(uint64(f))
}

func convertU32ToF32(a int32) float32 { return float32(uint32(a)) }
func convertU64ToF32(a int64) float32 { return float32(uint64(a)) }
func convertU32ToF64(a int32) float64 { return float64(uint32(a)) }
func convertU64ToF64(a int64) float64 { return float64(uint64(a)) }
