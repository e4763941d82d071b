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

// Package wasip1 provides the subset of wasi_snapshot_preview1 host functions
// needed to run command modules: arguments, environment, standard I/O,
// preopened directory names, clocks, randomness and proc_exit.
package wasip1

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

// Options configures a Module.
type Options struct {
	Args []string
	// Env holds "KEY=VALUE" entries in the order the guest sees them.
	Env []string
	// Preopens are guest directory names reported through fd_prestat_get,
	// starting at descriptor 3.
	Preopens []string

	// The standard descriptors. A nil field uses the host process's own
	// descriptor.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ProcExitError is an error that signals that the process should exit with the
// given code. It is used to implement proc_exit.
type ProcExitError struct {
	Code int32
}

func (e *ProcExitError) Error() string {
	return fmt.Sprintf("proc_exit: %d", e.Code)
}

type descriptor struct {
	stat    fdstat
	r       io.Reader
	w       io.Writer
	preopen string
}

// Module holds the state behind one set of WASI host functions. Its
// descriptor table is shared by every instance the functions are linked
// into.
type Module struct {
	args           []string
	env            []string
	monotonicStart time.Time

	mu  sync.Mutex
	fds []*descriptor
}

func New(opts Options) *Module {
	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = hostStdin()
	}
	if stdout == nil {
		stdout = hostStdout()
	}
	if stderr == nil {
		stderr = hostStderr()
	}
	stdio := fdstat{
		filetype:   fileTypeCharacterDevice,
		rightsBase: stdioRights,
	}
	m := &Module{
		args:           opts.Args,
		env:            opts.Env,
		monotonicStart: time.Now(),
		fds: []*descriptor{
			{stat: stdio, r: stdin},
			{stat: stdio, w: stdout},
			{stat: stdio, w: stderr},
		},
	}
	for _, dir := range opts.Preopens {
		m.fds = append(m.fds, &descriptor{
			stat: fdstat{
				filetype:         fileTypeDirectory,
				rightsBase:       DefaultDirRights,
				rightsInheriting: DefaultDirInheritingRights,
			},
			preopen: dir,
		})
	}
	return m
}

// Register adds the host functions to registry under wasi_snapshot_preview1.
func (m *Module) Register(registry *wasmvm.NativeRegistry) error {
	return registry.Register(ModuleName, m.symbols())
}

func (m *Module) symbols() []wasmvm.NativeSymbol {
	return []wasmvm.NativeSymbol{
		{Name: "args_get", Func: m.argsGet, Signature: "(ii)i"},
		{Name: "args_sizes_get", Func: m.argsSizesGet, Signature: "(**)i"},
		{Name: "environ_get", Func: m.environGet, Signature: "(ii)i"},
		{Name: "environ_sizes_get", Func: m.environSizesGet, Signature: "(**)i"},
		{Name: "fd_write", Func: m.fdWrite, Signature: "(iiii)i"},
		{Name: "fd_read", Func: m.fdRead, Signature: "(iiii)i"},
		{Name: "fd_close", Func: m.fdClose, Signature: "(i)i"},
		{Name: "fd_seek", Func: m.fdSeek, Signature: "(iIi*)i"},
		{Name: "fd_fdstat_get", Func: m.fdFdstatGet, Signature: "(i*)i"},
		{Name: "fd_prestat_get", Func: m.fdPrestatGet, Signature: "(i*)i"},
		{Name: "fd_prestat_dir_name", Func: m.fdPrestatDirName, Signature: "(i*~)i"},
		{Name: "proc_exit", Func: procExit, Signature: "(i)"},
		{Name: "clock_time_get", Func: m.clockTimeGet, Signature: "(iI*)i"},
		{Name: "random_get", Func: randomGet, Signature: "(*~)i"},
	}
}

func (m *Module) get(fd int32, rights int64) (*descriptor, int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < 0 || int(fd) >= len(m.fds) || m.fds[fd] == nil {
		return nil, errnoBadF
	}
	d := m.fds[fd]
	if d.stat.rightsBase&rights != rights {
		return nil, errnoNotCapable
	}
	return d, errnoSuccess
}

func putUint32(b []byte, v uint32) int32 {
	if len(b) < 4 {
		return errnoFault
	}
	binary.LittleEndian.PutUint32(b, v)
	return errnoSuccess
}

// writeStrings stores each string NUL-terminated at bufPtr and its address
// in the pointer array at ptrs.
func writeStrings(mem *wasmvm.Memory, ptrs, bufPtr uint32, strs []string) int32 {
	if mem == nil {
		return errnoFault
	}
	var addr [4]byte
	for i, s := range strs {
		binary.LittleEndian.PutUint32(addr[:], bufPtr)
		if err := mem.Write(ptrs+uint32(4*i), addr[:]); err != nil {
			return errnoFault
		}
		if err := mem.Write(bufPtr, append([]byte(s), 0)); err != nil {
			return errnoFault
		}
		bufPtr += uint32(len(s)) + 1
	}
	return errnoSuccess
}

func sizes(strs []string, countBuf, sizeBuf []byte) int32 {
	size := 0
	for _, s := range strs {
		size += len(s) + 1
	}
	if errno := putUint32(countBuf, uint32(len(strs))); errno != errnoSuccess {
		return errno
	}
	return putUint32(sizeBuf, uint32(size))
}

func (m *Module) argsGet(env *wasmvm.ExecEnv, argv, argvBuf uint32) int32 {
	return writeStrings(env.Memory(), argv, argvBuf, m.args)
}

func (m *Module) argsSizesGet(_ *wasmvm.ExecEnv, argc, argvBufSize []byte) int32 {
	return sizes(m.args, argc, argvBufSize)
}

func (m *Module) environGet(env *wasmvm.ExecEnv, environ, environBuf uint32) int32 {
	return writeStrings(env.Memory(), environ, environBuf, m.env)
}

func (m *Module) environSizesGet(_ *wasmvm.ExecEnv, environc, environBufSize []byte) int32 {
	return sizes(m.env, environc, environBufSize)
}

// iterIovec calls fn on each buffer of the iovec array at iovs and stores
// the total byte count at nPtr. A short transfer ends the iteration.
func iterIovec(mem *wasmvm.Memory, iovs, iovsLen, nPtr uint32, fn func([]byte) (int, error)) int32 {
	if mem == nil {
		return errnoFault
	}
	var total uint32
	for i := range iovsLen {
		iov, err := mem.Read(iovs+8*i, 8)
		if err != nil {
			return errnoFault
		}
		data, err := mem.Read(binary.LittleEndian.Uint32(iov[0:4]), binary.LittleEndian.Uint32(iov[4:8]))
		if err != nil {
			return errnoFault
		}

		n, err := fn(data)
		total += uint32(n)
		if err != nil && !errors.Is(err, io.EOF) {
			if total > 0 {
				break
			}
			return mapError(err)
		}
		if n < len(data) {
			break
		}
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], total)
	if err := mem.Write(nPtr, buf[:]); err != nil {
		return errnoFault
	}
	return errnoSuccess
}

func (m *Module) fdWrite(env *wasmvm.ExecEnv, fd int32, iovs, iovsLen, nwritten uint32) int32 {
	d, errno := m.get(fd, RightsFdWrite)
	if errno != errnoSuccess {
		return errno
	}
	if d.w == nil {
		return errnoBadF
	}
	return iterIovec(env.Memory(), iovs, iovsLen, nwritten, d.w.Write)
}

func (m *Module) fdRead(env *wasmvm.ExecEnv, fd int32, iovs, iovsLen, nread uint32) int32 {
	d, errno := m.get(fd, RightsFdRead)
	if errno != errnoSuccess {
		return errno
	}
	if d.r == nil {
		return errnoBadF
	}
	return iterIovec(env.Memory(), iovs, iovsLen, nread, d.r.Read)
}

func (m *Module) fdClose(_ *wasmvm.ExecEnv, fd int32) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < 0 || int(fd) >= len(m.fds) || m.fds[fd] == nil {
		return errnoBadF
	}
	m.fds[fd] = nil
	return errnoSuccess
}

func (m *Module) fdSeek(_ *wasmvm.ExecEnv, fd int32, _ int64, whence uint32, _ []byte) int32 {
	d, errno := m.get(fd, 0)
	if errno != errnoSuccess {
		return errno
	}
	if whence > uint32(whenceEnd) {
		return errnoInval
	}
	if d.stat.filetype == fileTypeCharacterDevice {
		return errnoSPipe
	}
	// Only directories remain, and they cannot be seeked.
	return errnoNotCapable
}

func (m *Module) fdFdstatGet(_ *wasmvm.ExecEnv, fd int32, buf []byte) int32 {
	d, errno := m.get(fd, 0)
	if errno != errnoSuccess {
		return errno
	}
	stat := d.stat.bytes()
	if len(buf) < len(stat) {
		return errnoFault
	}
	copy(buf, stat[:])
	return errnoSuccess
}

func (m *Module) fdPrestatGet(_ *wasmvm.ExecEnv, fd int32, buf []byte) int32 {
	d, errno := m.get(fd, 0)
	if errno != errnoSuccess {
		return errno
	}
	if d.stat.filetype != fileTypeDirectory {
		return errnoBadF
	}
	stat := (&prestat{nameLen: uint32(len(d.preopen))}).bytes()
	if len(buf) < len(stat) {
		return errnoFault
	}
	copy(buf, stat[:])
	return errnoSuccess
}

func (m *Module) fdPrestatDirName(_ *wasmvm.ExecEnv, fd int32, path []byte) int32 {
	d, errno := m.get(fd, 0)
	if errno != errnoSuccess {
		return errno
	}
	if d.stat.filetype != fileTypeDirectory {
		return errnoBadF
	}
	if len(path) < len(d.preopen) {
		return errnoNameTooLong
	}
	copy(path, d.preopen)
	return errnoSuccess
}

func procExit(env *wasmvm.ExecEnv, code int32) error {
	wasmvm.Logger().Debug("proc_exit", zap.Int32("code", code))
	return &ProcExitError{Code: code}
}

func (m *Module) clockTimeGet(_ *wasmvm.ExecEnv, id uint32, _ int64, buf []byte) int32 {
	ns, errno := clockTime(id, m.monotonicStart)
	if errno != errnoSuccess {
		return errno
	}
	if len(buf) < 8 {
		return errnoFault
	}
	binary.LittleEndian.PutUint64(buf, ns)
	return errnoSuccess
}

func randomGet(_ *wasmvm.ExecEnv, buf []byte) int32 {
	if _, err := rand.Read(buf); err != nil {
		return errnoIO
	}
	return errnoSuccess
}

// Preopens returns the guest names of the preopened directories, in
// descriptor order.
func (m *Module) Preopens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, d := range m.fds {
		if d != nil && d.stat.filetype == fileTypeDirectory {
			names = append(names, d.preopen)
		}
	}
	return names
}

// String summarizes the module for logging.
func (m *Module) String() string {
	return fmt.Sprintf("wasi(args=%q, env=%d, preopens=%s)",
		m.args, len(m.env), strings.Join(m.Preopens(), ","))
}
