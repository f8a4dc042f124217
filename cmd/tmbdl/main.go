// Command tmbdl is the thin CLI surface over the bytecode pipeline
// (spec.md §6, SPEC_FULL.md §9): run/compile/exec/disasm sub-commands
// with manual os.Args dispatch, grounded on the teacher's cmd/funxy
// main.go (no flag-parsing library despite the ecosystem having one).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/thegian7/tmbdl/internal/config"
	"github.com/thegian7/tmbdl/internal/modules"
	"github.com/thegian7/tmbdl/internal/parser"
	"github.com/thegian7/tmbdl/internal/vm"
)

const usage = `tmbdl: a small dynamically-typed scripting language

Usage:
  tmbdl run <file.tmbdl> [--trace]
  tmbdl compile <file.tmbdl> -o <out.tmbdlc>
  tmbdl exec <file.tmbdlc> [--trace]
  tmbdl disasm <file.tmbdlc>
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "compile":
		return cmdCompile(args[1:])
	case "exec":
		return cmdExec(args[1:])
	case "disasm":
		return cmdDisasm(args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func colorize(code, s string) string {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return s
	}
	return code + s + "\x1b[0m"
}

const colorRed = "\x1b[31m"

func cmdRun(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tmbdl run <file.tmbdl> [--trace]")
		return 1
	}
	path := args[0]
	trace := hasFlag(args, "--trace")

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	program, errs := parser.ParseProgram(string(src))
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, colorize(colorRed, e.Error()))
		}
		return 1
	}
	fn, compileErrs := vm.Compile(program)
	if len(compileErrs) > 0 {
		for _, e := range compileErrs {
			fmt.Fprintln(os.Stderr, colorize(colorRed, e.Error()))
		}
		return 1
	}
	return execute(fn, filepath.Dir(path), trace)
}

func cmdCompile(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tmbdl compile <file.tmbdl> -o <out.tmbdlc>")
		return 1
	}
	path := args[0]
	out := path[:len(path)-len(filepath.Ext(path))] + config.BytecodeFileExt
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			out = args[i+1]
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	program, errs := parser.ParseProgram(string(src))
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, colorize(colorRed, e.Error()))
		}
		return 1
	}
	fn, compileErrs := vm.Compile(program)
	if len(compileErrs) > 0 {
		for _, e := range compileErrs {
			fmt.Fprintln(os.Stderr, colorize(colorRed, e.Error()))
		}
		return 1
	}
	data, err := vm.Serialize(fn)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 1
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	return 0
}

func cmdExec(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tmbdl exec <file.tmbdlc> [--trace]")
		return 1
	}
	path := args[0]
	trace := hasFlag(args, "--trace")

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	fn, err := vm.Deserialize(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 1
	}
	return execute(fn, filepath.Dir(path), trace)
}

func cmdDisasm(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: tmbdl disasm <file.tmbdlc>")
		return 1
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	fn, err := vm.Deserialize(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 1
	}
	vm.DisassembleAll(fn, os.Stdout)
	return 0
}

func execute(fn *vm.BytecodeFunction, scriptDir string, trace bool) int {
	machine := vm.New()
	vm.RegisterStandardLibrary(machine)
	machine.SetScriptDir(scriptDir)
	machine.SetLoader(modules.NewFileLoader(vm.RegisterStandardLibrary))
	if trace {
		machine.SetTrace(true, os.Stderr)
		fmt.Fprintf(os.Stderr, "trace %s\n", machine.TraceID())
		vm.DisassembleAll(fn, os.Stderr)
	}

	if _, err := machine.Run(fn); err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, err.Error()))
		return 2
	}
	return 0
}
