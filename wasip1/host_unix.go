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


//go:build linux || darwin

package wasip1

import (
	"errors"
	"io"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// hostFile is one of the host process's standard descriptors.
type hostFile int

func (f hostFile) Read(p []byte) (int, error) {
	n, err := unix.Read(int(f), p)
	if n < 0 {
		n = 0
	}
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

func (f hostFile) Write(p []byte) (int, error) {
	n, err := unix.Write(int(f), p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func hostStdin() io.Reader  { return hostFile(unix.Stdin) }
func hostStdout() io.Writer { return hostFile(unix.Stdout) }
func hostStderr() io.Writer { return hostFile(unix.Stderr) }

func clockTime(id uint32, _ time.Time) (uint64, int32) {
	var clk int32
	switch id {
	case clockRealtime:
		clk = unix.CLOCK_REALTIME
	case clockMonotonic:
		clk = unix.CLOCK_MONOTONIC
	case clockProcessCputimeID:
		clk = unix.CLOCK_PROCESS_CPUTIME_ID
	case clockThreadCputimeID:
		clk = unix.CLOCK_THREAD_CPUTIME_ID
	default:
		return 0, errnoInval
	}
	var ts unix.Timespec
	if err := unix.ClockGettime(clk, &ts); err != nil {
		return 0, mapError(err)
	}
	return uint64(ts.Nano()), errnoSuccess
}

func mapError(err error) int32 {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return errnoIO
	}
	switch errno {
	case syscall.EACCES:
		return errnoAcces
	case syscall.EPERM:
		return errnoPerm
	case syscall.EBADF:
		return errnoBadF
	case syscall.EINVAL:
		return errnoInval
	case syscall.EISDIR:
		return errnoIsDir
	case syscall.EPIPE:
		return errnoPipe
	case syscall.EAGAIN:
		return errnoAgain
	case syscall.EFAULT:
		return errnoFault
	case syscall.ESPIPE:
		return errnoSPipe
	case syscall.ENOSYS:
		return errnoNoSys
	}
	return errnoIO
}
