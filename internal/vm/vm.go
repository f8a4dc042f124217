// Package vm implements Tmbdl's code generator, bytecode container,
// and stack-based virtual machine (spec.md §3-§7).
package vm

import (
	"io"
	"os"

	"github.com/google/uuid"
)

// ModuleLoader resolves a `gateway` import path (relative to fromDir)
// to the loaded module's export table. internal/modules provides the
// default filesystem-backed implementation; vm itself stays
// storage-agnostic so it can be driven by tests with an in-memory
// loader.
type ModuleLoader interface {
	Load(path string, fromDir string) (*MapObj, error)
}

// Frame is one call's activation record: the closure being executed,
// its instruction pointer, and the stack index its locals begin at
// (slot 0 of the frame holds the closure itself, per compiler.go's
// reserved slot).
type Frame struct {
	closure   *ClosureObj
	ip        int
	stackBase int
}

// VM is a single-threaded, re-entrant stack machine. Nothing about it
// is safe for concurrent use from multiple goroutines — spec.md's
// Non-goals explicitly exclude concurrent execution.
type VM struct {
	stack  []Value
	frames []*Frame

	globals map[string]Value

	openUpvalues *Upvalue

	out io.Writer

	loader    ModuleLoader
	scriptDir string
	exports   *MapObj

	trace    bool
	traceOut io.Writer
	traceID  string
}

func New() *VM {
	return &VM{
		globals: make(map[string]Value),
		out:     os.Stdout,
		exports: NewMapObj(),
	}
}

func (v *VM) SetOutput(w io.Writer)         { v.out = w }
func (v *VM) SetLoader(l ModuleLoader)      { v.loader = l }
func (v *VM) SetScriptDir(dir string)       { v.scriptDir = dir }
func (v *VM) Exports() *MapObj              { return v.exports }
func (v *VM) Globals() map[string]Value     { return v.globals }

// SetTrace turns on a per-run trace-id stamp (via google/uuid) used by
// the --trace CLI path to correlate disassembly output with a single
// execution.
func (v *VM) SetTrace(enabled bool, out io.Writer) {
	v.trace = enabled
	v.traceOut = out
	if enabled {
		v.traceID = uuid.NewString()
	}
}

func (v *VM) TraceID() string { return v.traceID }

// Define registers a native function or any other host value as a
// global before Run — this is how the standard library (len, push,
// keys, map, filter, reduce, ...) and CLI-provided host bindings reach
// script code.
func (v *VM) Define(name string, val Value) {
	v.globals[name] = val
}

// Run executes fn as the program's entry point (the implicit
// top-level script function, or a bundled function loaded via
// Deserialize) and returns the value left by its outermost `answer`,
// or Null if it runs off the end.
func (v *VM) Run(fn *BytecodeFunction) (Value, error) {
	closure := &ClosureObj{Function: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	v.stack = []Value{ObjVal(closure)}
	v.frames = []*Frame{{closure: closure, ip: 0, stackBase: 0}}
	v.openUpvalues = nil
	return v.run()
}

func (v *VM) currentFrame() *Frame { return v.frames[len(v.frames)-1] }

func (v *VM) push(val Value) { v.stack = append(v.stack, val) }

func (v *VM) pop() Value {
	val := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return val
}

func (v *VM) peek(distance int) Value {
	return v.stack[len(v.stack)-1-distance]
}

func (v *VM) currentLine() int {
	frame := v.currentFrame()
	return frame.closure.Function.Chunk.LineAt(frame.ip - 1)
}
