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

import "fmt"

const (
	blockCacheWays = 2
	// maxScanDepth is the number of nested blocks a single scan records.
	maxScanDepth = 16
)

// blockAddr caches where a block ends. start is the absolute address of the
// first instruction of the block body, so that it is unique within a module;
// zero marks an empty slot. elseAddr and endAddr are offsets into the
// function code, elseAddr is -1 when there is no else.
type blockAddr struct {
	start    int
	elseAddr int
	endAddr  int
}

type blockAddrCache struct {
	mask    int
	buckets [][blockCacheWays]blockAddr
}

func newBlockAddrCache(size int) *blockAddrCache {
	return &blockAddrCache{
		mask:    size - 1,
		buckets: make([][blockCacheWays]blockAddr, size),
	}
}

func (c *blockAddrCache) lookup(addr int) (blockAddr, bool) {
	bucket := &c.buckets[addr&c.mask]
	for _, b := range bucket {
		if b.start == addr {
			return b, true
		}
	}
	return blockAddr{}, false
}

// insert puts b in the first way of its bucket, shifting older entries out.
func (c *blockAddrCache) insert(b blockAddr) {
	bucket := &c.buckets[b.start&c.mask]
	for i := range bucket {
		if bucket[i].start == b.start {
			bucket[i] = b
			return
		}
	}
	copy(bucket[1:], bucket[:blockCacheWays-1])
	bucket[0] = b
}

// findBlockAddr returns the else and end offsets of the block whose body
// starts at start in fn.
func (c *blockAddrCache) findBlockAddr(fn *Function, start int) (int, int, error) {
	if b, ok := c.lookup(fn.CodeOffset + start); ok {
		return b.elseAddr, b.endAddr, nil
	}
	return c.scan(fn, start)
}

// scan walks forward from start to the matching end. Every nested block seen
// on the way, up to maxScanDepth levels, is cached when its end is reached.
func (c *blockAddrCache) scan(fn *Function, start int) (int, int, error) {
	var open [maxScanDepth]blockAddr
	open[0] = blockAddr{start: start, elseAddr: -1}
	depth := 1
	code := fn.Code
	pc := start

	for pc < len(code) {
		opPC := pc
		op := code[pc]
		pc++
		switch op {
		case block, loop, ifOp:
			_, pc = fastReadInt64(code, pc)
			if depth < maxScanDepth {
				open[depth] = blockAddr{start: pc, elseAddr: -1}
			}
			depth++
		case elseOp:
			if depth <= maxScanDepth {
				open[depth-1].elseAddr = opPC
			}
		case end:
			depth--
			if depth < maxScanDepth {
				b := open[depth]
				b.endAddr = opPC
				b.start += fn.CodeOffset
				c.insert(b)
				if depth == 0 {
					return b.elseAddr, b.endAddr, nil
				}
			}
		default:
			next, err := skipImmediates(code, pc, op)
			if err != nil {
				return 0, 0, err
			}
			pc = next
		}
	}
	return 0, 0, ErrUnexpectedEndOfBody
}

// skipImmediates returns the offset of the instruction following op, whose
// immediates start at pc.
func skipImmediates(code []byte, pc int, op opcode) (int, error) {
	switch {
	case op == br || op == brIf || op == call || op == refFunc,
		op >= localGet && op <= globalSet,
		op == i32Const || op == i64Const:
		return skipLeb(code, pc), nil
	case op == brTable:
		var n uint32
		n, pc = fastReadUint32(code, pc)
		for range n + 1 {
			pc = skipLeb(code, pc)
		}
		return pc, nil
	case op == callIndirect:
		return skipLeb(code, skipLeb(code, pc)), nil
	case op == selectT:
		var n uint32
		n, pc = fastReadUint32(code, pc)
		return pc + int(n), nil
	case op >= i32Load && op <= i64Store32:
		return skipLeb(code, skipLeb(code, pc)), nil
	case op == memorySize || op == memoryGrow || op == refNull:
		return pc + 1, nil
	case op == f32Const:
		return pc + 4, nil
	case op == f64Const:
		return pc + 8, nil
	case op == miscPrefix:
		return skipMiscImmediates(code, pc)
	case op == unreachable, op == nop, op == returnOp,
		op == drop, op == selectOp, op == drop64, op == select64,
		op >= i32Eqz && op <= i64Extend32S,
		op == refIsNull:
		return pc, nil
	}
	return 0, fmt.Errorf("%w 0x%02x", ErrUnsupportedOpcode, op)
}

func skipMiscImmediates(code []byte, pc int) (int, error) {
	var sub uint32
	sub, pc = fastReadUint32(code, pc)
	switch sub {
	case i32TruncSatF32S, i32TruncSatF32U, i32TruncSatF64S, i32TruncSatF64U,
		i64TruncSatF32S, i64TruncSatF32U, i64TruncSatF64S, i64TruncSatF64U:
		return pc, nil
	case memoryInit:
		return skipLeb(code, pc) + 1, nil
	case dataDrop:
		return skipLeb(code, pc), nil
	case memoryCopy:
		return pc + 2, nil
	case memoryFill:
		return pc + 1, nil
	}
	return 0, fmt.Errorf("%w 0xfc 0x%02x", ErrUnsupportedOpcode, sub)
}
