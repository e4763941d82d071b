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

package wasip1

import "encoding/binary"

const ModuleName = "wasi_snapshot_preview1"

const rightsAll int64 = ^0

const (
	RightsFdDatasync       int64 = 1 << 0
	RightsFdRead           int64 = 1 << 1
	RightsFdSeek           int64 = 1 << 2
	RightsFdFdstatSetFlags int64 = 1 << 3
	RightsFdSync           int64 = 1 << 4
	RightsFdTell           int64 = 1 << 5
	RightsFdWrite          int64 = 1 << 6
	RightsFdReaddir        int64 = 1 << 14
	RightsFdFilestatGet    int64 = 1 << 21
	RightsPollFdReadwrite  int64 = 1 << 27
)

// DefaultDirRights are the rights of a preopened directory handle. Reading,
// writing and seeking the directory stream itself are excluded.
const DefaultDirRights int64 = rightsAll &^
	(RightsFdRead | RightsFdWrite | RightsFdSeek | RightsFdTell)

// DefaultDirInheritingRights are the rights that files opened below a
// preopened directory would inherit.
const DefaultDirInheritingRights int64 = rightsAll

// stdioRights are the rights of the three standard descriptors.
const stdioRights = RightsFdRead | RightsFdWrite | RightsFdFdstatSetFlags |
	RightsFdFilestatGet | RightsPollFdReadwrite

// See github.com/WebAssembly/WASI/blob/wasi-0.1/preview1/witx/typenames.witx
// for a lot more error codes.
const (
	errnoSuccess     int32 = 0  // No error occurred.
	errnoAcces       int32 = 2  // Permission denied.
	errnoAgain       int32 = 6  // Try again.
	errnoBadF        int32 = 8  // Bad file descriptor.
	errnoFault       int32 = 21 // Bad address.
	errnoInval       int32 = 28 // Invalid argument.
	errnoIO          int32 = 29 // I/O error.
	errnoIsDir       int32 = 31 // Is a directory.
	errnoNameTooLong int32 = 37 // Filename too long.
	errnoNoSys       int32 = 52 // Function not supported.
	errnoPerm        int32 = 63 // Operation not permitted.
	errnoPipe        int32 = 64 // Broken pipe.
	errnoSPipe       int32 = 70 // Invalid seek.
	errnoNotCapable  int32 = 76 // Extension: Capabilities insufficient.
)

const (
	fileTypeUnknown         uint8 = 0
	fileTypeCharacterDevice uint8 = 2
	fileTypeDirectory       uint8 = 3
)

const preopenTypeDir uint8 = 0

const (
	clockRealtime         uint32 = 0
	clockMonotonic        uint32 = 1
	clockProcessCputimeID uint32 = 2
	clockThreadCputimeID  uint32 = 3
)

const (
	whenceSet uint8 = 0
	whenceCur uint8 = 1
	whenceEnd uint8 = 2
)

// fdstat is the WASI fdstat structure (24 bytes).
type fdstat struct {
	filetype         uint8  // offset 0
	flags            uint16 // offset 2
	rightsBase       int64  // offset 8
	rightsInheriting int64  // offset 16
}

func (s *fdstat) bytes() [24]byte {
	var buf [24]byte
	buf[0] = s.filetype
	binary.LittleEndian.PutUint16(buf[2:4], s.flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.rightsBase))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(s.rightsInheriting))
	return buf
}

// prestat is the WASI prestat structure for a directory (8 bytes).
type prestat struct {
	nameLen uint32
}

func (p *prestat) bytes() [8]byte {
	var buf [8]byte
	buf[0] = preopenTypeDir
	binary.LittleEndian.PutUint32(buf[4:8], p.nameLen)
	return buf
}
