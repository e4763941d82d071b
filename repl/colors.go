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


package repl

import "github.com/logrusorgru/aurora/v4"

type palette struct {
	au *aurora.Aurora
}

func newPalette(color bool) palette {
	return palette{au: aurora.New(aurora.WithColors(color))}
}

func (p palette) result(s string) string {
	return p.au.Yellow(s).String()
}

func (p palette) err(s string) string {
	return p.au.Bold(p.au.Red(s)).String()
}
