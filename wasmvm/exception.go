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

// maxExceptionLen bounds the stored trap message.
const maxExceptionLen = 128

// Exception is the error returned when wasm execution traps. Err is the
// underlying cause, so errors.Is and errors.As see through it.
type Exception struct {
	Msg string
	Err error
}

func (e *Exception) Error() string {
	return "Exception: " + e.Msg
}

func (e *Exception) Unwrap() error {
	return e.Err
}

// SetException records msg as the instance's pending trap. An empty msg
// clears it.
func (m *ModuleInstance) SetException(msg string) {
	m.setException(msg, nil)
}

func (m *ModuleInstance) setException(msg string, cause error) {
	if len(msg) > maxExceptionLen-1 {
		msg = msg[:maxExceptionLen-1]
	}
	m.excMu.Lock()
	defer m.excMu.Unlock()
	m.exception = msg
	m.exceptionCause = cause
}

// Exception returns the pending trap message, or "" when there is none.
func (m *ModuleInstance) Exception() string {
	m.excMu.Lock()
	defer m.excMu.Unlock()
	return m.exception
}

func (m *ModuleInstance) ClearException() {
	m.setException("", nil)
}

// pendingException returns the pending trap as an error, or nil.
func (m *ModuleInstance) pendingException() *Exception {
	m.excMu.Lock()
	defer m.excMu.Unlock()
	if m.exception == "" {
		return nil
	}
	return &Exception{Msg: m.exception, Err: m.exceptionCause}
}

// raise records err as the pending trap and returns it as an *Exception.
// An error that already is an *Exception keeps its message.
func (m *ModuleInstance) raise(err error) *Exception {
	var exc *Exception
	if errors.As(err, &exc) {
		m.setException(exc.Msg, exc.Err)
		return exc
	}
	m.setException(err.Error(), err)
	return &Exception{Msg: m.Exception(), Err: err}
}
