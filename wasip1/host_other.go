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


//go:build !linux && !darwin

package wasip1

import (
	"io"
	"os"
	"time"
)

func hostStdin() io.Reader  { return os.Stdin }
func hostStdout() io.Writer { return os.Stdout }
func hostStderr() io.Writer { return os.Stderr }

// The CPU-time clocks fall back to the monotonic clock.
func clockTime(id uint32, start time.Time) (uint64, int32) {
	switch id {
	case clockRealtime:
		return uint64(time.Now().UnixNano()), errnoSuccess
	case clockMonotonic, clockProcessCputimeID, clockThreadCputimeID:
		return uint64(time.Since(start).Nanoseconds()), errnoSuccess
	}
	return 0, errnoInval
}

func mapError(err error) int32 {
	if os.IsPermission(err) {
		return errnoPerm
	}
	return errnoIO
}
