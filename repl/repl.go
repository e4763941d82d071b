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


// Package repl implements the interactive loop that calls exported functions
// of a module instance by name.
package repl

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

const Prompt = "webassembly> "

const helpText = `Enter a function name followed by its arguments to call it, e.g.
  add 1 2
A backslash in the function name stands for a space.
Commands are prefixed with a dot:`

var errNoMemory = errors.New("module has no memory")

type usageError struct {
	usage string
}

func (e *usageError) Error() string { return "usage: " + e.usage }

type command struct {
	usage   string
	help    string
	handler func(r *REPL, args []string) (exit bool, err error)
}

// REPL evaluates input lines against one module instance.
type REPL struct {
	inst     *wasmvm.ModuleInstance
	out      io.Writer
	errOut   io.Writer
	colors   palette
	commands map[string]command
	exited   bool
}

// New returns a REPL for inst. Colors are used only when color is true.
func New(inst *wasmvm.ModuleInstance, out, errOut io.Writer, color bool) *REPL {
	exit := command{usage: ".exit", help: "leave the loop", handler: (*REPL).handleExit}
	return &REPL{
		inst:   inst,
		out:    out,
		errOut: errOut,
		colors: newPalette(color),
		commands: map[string]command{
			".help":    {usage: ".help", help: "print this message", handler: (*REPL).handleHelp},
			".exit":    exit,
			"__exit":   exit,
			".exports": {usage: ".exports", help: "list the exports and their types", handler: (*REPL).handleExports},
			".mem":     {usage: ".mem <offset> <length>", help: "dump linear memory", handler: (*REPL).handleMem},
		},
	}
}

// Execute evaluates one line and reports whether the loop should stop.
func (r *REPL) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	if cmd, ok := r.commands[fields[0]]; ok {
		exit, err := cmd.handler(r, fields[1:])
		if err != nil {
			r.printError(err)
		}
		return exit
	}
	if strings.HasPrefix(fields[0], ".") {
		r.printError(fmt.Errorf("unknown command %s, type .help for assistance", fields[0]))
		return false
	}

	name := strings.ReplaceAll(fields[0], `\`, " ")
	var result strings.Builder
	if err := wasmvm.ExecuteFunc(r.inst, name, fields[1:], &result); err != nil {
		r.printError(err)
		return false
	}
	if s := strings.TrimSuffix(result.String(), "\n"); s != "" {
		fmt.Fprintln(r.out, r.colors.result(s))
	}
	return false
}

func (r *REPL) printError(err error) {
	fmt.Fprintln(r.errOut, r.colors.err(err.Error()))
}

func (r *REPL) handleExit([]string) (bool, error) {
	return true, nil
}

func (r *REPL) handleHelp([]string) (bool, error) {
	fmt.Fprintln(r.out, helpText)
	for _, name := range r.commandNames() {
		cmd := r.commands[name]
		fmt.Fprintf(r.out, "  %-24s %s\n", cmd.usage, cmd.help)
	}
	return false, nil
}

// commandNames lists the dot commands in order.
func (r *REPL) commandNames() []string {
	var names []string
	for name := range r.commands {
		if strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (r *REPL) handleExports([]string) (bool, error) {
	for _, e := range r.inst.Exports() {
		if e.Kind != wasmvm.ExternFunc {
			fmt.Fprintf(r.out, "%s %s\n", e.Kind, e.Name)
			continue
		}
		fmt.Fprintf(r.out, "func %s %s\n", e.Name, r.inst.FunctionType(e.Index))
	}
	return false, nil
}

func (r *REPL) handleMem(args []string) (bool, error) {
	if len(args) != 2 {
		return false, &usageError{r.commands[".mem"].usage}
	}
	offset, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return false, fmt.Errorf("invalid offset: %s", args[0])
	}
	length, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return false, fmt.Errorf("invalid length: %s", args[1])
	}

	mem := r.inst.Memory()
	if mem == nil {
		return false, errNoMemory
	}
	data, err := mem.Read(uint32(offset), uint32(length))
	if err != nil {
		return false, err
	}
	fmt.Fprint(r.out, hex.Dump(data))
	return false, nil
}

// Suggest completes the function name or dot command being typed.
func (r *REPL) Suggest(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	if word == "" || strings.ContainsAny(d.TextBeforeCursor(), " \t") {
		return nil
	}

	var suggests []prompt.Suggest
	for _, name := range r.commandNames() {
		suggests = append(suggests, prompt.Suggest{Text: name, Description: r.commands[name].help})
	}
	for _, e := range r.inst.Exports() {
		if e.Kind == wasmvm.ExternFunc {
			suggests = append(suggests, prompt.Suggest{
				Text:        strings.ReplaceAll(e.Name, " ", `\`),
				Description: r.inst.FunctionType(e.Index).String(),
			})
		}
	}
	return prompt.FilterHasPrefix(suggests, word, false)
}

// Run reads lines with a line editor until .exit or end of input.
func (r *REPL) Run() {
	prompt.New(
		func(line string) {
			if r.Execute(line) {
				r.exited = true
			}
		},
		r.Suggest,
		prompt.OptionPrefix(Prompt),
		prompt.OptionTitle("webassembly"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return r.exited }),
	).Run()
}

// RunLines reads lines from in until .exit or end of input. It is used when
// input is not a terminal.
func (r *REPL) RunLines(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, Prompt)
	for scanner.Scan() {
		if r.Execute(scanner.Text()) {
			return nil
		}
		fmt.Fprint(r.out, Prompt)
	}
	return scanner.Err()
}

// Start runs a REPL reading from in, with the line editor when in is a
// terminal and colors when out is one.
func Start(inst *wasmvm.ModuleInstance, in *os.File, out, errOut io.Writer) error {
	f, ok := out.(*os.File)
	r := New(inst, out, errOut, ok && IsTerminal(f))
	if IsTerminal(in) {
		r.Run()
		return nil
	}
	return r.RunLines(in)
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
