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

// Package hammer runs a test body concurrently to shake out data races
// between execution environments.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer invokes a test concurrently in P goroutines N times per goroutine.
//
//	P := 8
//	N := 1000
//	if testing.Short() {
//		P, N = 4, 100
//	}
//	hammer.New(t, P, N).Run(func(p, n int) {
//		// Each goroutine p owns its own ExecEnv.
//	}, nil)
//	if t.Failed() {
//		return
//	}
type Hammer interface {
	// Run starts P goroutines, waits until they are all running, calls
	// onRunning if non-nil, then releases them at once. Each loops N times
	// over test.
	Run(test func(p, n int), onRunning func())
}

// New returns a Hammer for P goroutines doing N iterations each.
func New(t testing.TB, P, N int) Hammer {
	return &hammer{t: t, P: P, N: N}
}

type hammer struct {
	t testing.TB
	P int
	N int
}

func (h *hammer) Run(test func(p, n int), onRunning func()) {
	// Fewer procs than goroutines forces them to switch cores.
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(max(h.P/2, 1)))

	running := make(chan struct{})
	finished := make(chan struct{})
	var unblocked sync.WaitGroup
	unblocked.Add(1)

	for p := range h.P {
		go func() {
			defer func() {
				// require failures call runtime.Goexit, panics land here.
				if recovered := recover(); recovered != nil {
					h.t.Error(recovered)
				}
				finished <- struct{}{}
			}()
			running <- struct{}{}

			unblocked.Wait()
			for n := range h.N {
				test(p, n)
			}
		}()
	}

	for range h.P {
		<-running
	}
	if onRunning != nil {
		onRunning()
	}
	unblocked.Done()

	for range h.P {
		<-finished
	}
}
