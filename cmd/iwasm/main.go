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


// Command iwasm runs a WebAssembly module: its WASI _start or main entry
// point, a single exported function, or an interactive loop over its
// exports.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/weizhiao/webassembly-runtime-sub001/libc"
	"github.com/weizhiao/webassembly-runtime-sub001/repl"
	"github.com/weizhiao/webassembly-runtime-sub001/wasip1"
	"github.com/weizhiao/webassembly-runtime-sub001/wasmvm"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	var verbose int
	flag.IntVar(&verbose, "v", 2, "log verbosity, 0 to 5")

	stackSize := flag.Int("stack-size", 0, "bytes of interpreter stack per execution environment")
	maxCallDepth := flag.Int("max-call-depth", 0, "limit on nested wasm calls")

	var configPath string
	flag.StringVar(&configPath, "config", "", "YAML file with runtime configuration")

	var funcName string
	flag.StringVar(&funcName, "f", "", "call the exported function `name` with the remaining arguments instead of main")

	var interactive bool
	flag.BoolVar(&interactive, "repl", false, "start an interactive loop over the module's exports")

	var envs sliceFlag
	flag.Var(&envs, "env", "key=value pair of environment variable to expose to the module. "+
		"Can be specified multiple times.")

	var dirs sliceFlag
	flag.Var(&dirs, "dir", "host directory to grant to the module. Can be specified multiple times.")

	var addrPool sliceFlag
	flag.Var(&addrPool, "addr-pool", "CIDR of addresses the module may use. Can be specified multiple times.")

	flag.Parse()

	if help {
		printUsage(stdErr)
		exit(0)
	}
	if flag.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printUsage(stdErr)
		exit(1)
	}
	wasmPath := flag.Arg(0)
	wasmArgs := flag.Args()[1:]
	if len(wasmArgs) > 0 && wasmArgs[0] == "--" {
		wasmArgs = wasmArgs[1:]
	}

	logger, err := newLogger(verbose, stdErr)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
	}
	defer func() { _ = logger.Sync() }()
	wasmvm.SetLogger(logger)

	config := wasmvm.DefaultConfig()
	if configPath != "" {
		if config, err = readConfig(configPath); err != nil {
			fmt.Fprintf(stdErr, "error reading config: %v\n", err)
			exit(1)
		}
	}
	if *stackSize > 0 {
		config.StackSize = *stackSize
	}
	if *maxCallDepth > 0 {
		config.MaxCallDepth = *maxCallDepth
	}

	for _, e := range envs {
		if !strings.Contains(e, "=") {
			fmt.Fprintf(stdErr, "invalid environment variable: %s\n", e)
			exit(1)
		}
	}
	for _, dir := range dirs {
		if stat, err := os.Stat(dir); err != nil {
			fmt.Fprintf(stdErr, "invalid dir: %v\n", err)
			exit(1)
		} else if !stat.IsDir() {
			fmt.Fprintf(stdErr, "invalid dir: %s is not a directory\n", dir)
			exit(1)
		}
	}
	for _, cidr := range addrPool {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			fmt.Fprintf(stdErr, "invalid address pool: %s\n", cidr)
			exit(1)
		}
	}
	if len(addrPool) > 0 {
		logger.Debug("address pool granted", zap.Strings("cidrs", addrPool))
	}

	wasm, err := readModule(wasmPath)
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		exit(1)
	}

	rt := wasmvm.NewRuntime().WithConfig(config)
	wasi := wasip1.New(wasip1.Options{
		Args:     append([]string{filepath.Base(wasmPath)}, wasmArgs...),
		Env:      envs,
		Preopens: dirs,
		Stdout:   hostOr(stdOut, os.Stdout),
		Stderr:   hostOr(stdErr, os.Stderr),
	})
	if err := wasi.Register(rt.Registry()); err != nil {
		fmt.Fprintf(stdErr, "error registering natives: %v\n", err)
		exit(1)
	}
	if err := libc.New(stdOut).Register(rt.Registry()); err != nil {
		fmt.Fprintf(stdErr, "error registering natives: %v\n", err)
		exit(1)
	}
	logger.Debug("wasi configured", zap.Stringer("wasi", wasi))

	module, err := rt.Load(wasm)
	if err != nil {
		fmt.Fprintf(stdErr, "error loading wasm binary: %v\n", err)
		exit(1)
	}
	inst, err := rt.Instantiate(module)
	if err != nil {
		exitOnError(err, "error instantiating wasm binary", stdErr, exit)
	}

	switch {
	case interactive:
		err = repl.Start(inst, os.Stdin, stdOut, stdErr)
	case funcName != "":
		err = wasmvm.ExecuteFunc(inst, funcName, wasmArgs, stdOut)
	default:
		err = wasmvm.ExecuteMain(inst, append([]string{wasmPath}, wasmArgs...))
	}
	if err != nil {
		exitOnError(err, "", stdErr, exit)
	}
	exit(0)
}

// exitOnError exits with the code passed to proc_exit, or reports err and
// exits with 1.
func exitOnError(err error, prefix string, stdErr io.Writer, exit func(code int)) {
	var exitErr *wasip1.ProcExitError
	if errors.As(err, &exitErr) {
		exit(int(exitErr.Code))
		return
	}
	if prefix != "" {
		fmt.Fprintf(stdErr, "%s: %v\n", prefix, err)
	} else {
		fmt.Fprintln(stdErr, err)
	}
	exit(1)
}

// hostOr returns nil for the process's own stream, which makes WASI write
// to the host descriptor directly.
func hostOr(w io.Writer, f *os.File) io.Writer {
	if w == io.Writer(f) {
		return nil
	}
	return w
}

func readConfig(path string) (wasmvm.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return wasmvm.Config{}, err
	}
	defer f.Close()
	return wasmvm.LoadConfig(f)
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "iwasm CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  iwasm <options> <path or url to wasm file> [--] <wasm args>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flag.PrintDefaults()
}

type sliceFlag []string

func (f *sliceFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *sliceFlag) Set(s string) error {
	*f = append(*f, s)
	return nil
}
