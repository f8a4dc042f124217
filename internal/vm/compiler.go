package vm

import (
	"fmt"

	"github.com/thegian7/tmbdl/internal/ast"
)

// FunctionType distinguishes the implicit top-level script function
// from an explicit song/FunctionLiteral, mirroring how return behaves
// differently at the very top level (spec.md §4.2.3).
type FunctionType int

const (
	TYPE_SCRIPT FunctionType = iota
	TYPE_FUNCTION
)

// Local is a compile-time record of a stack-slot-resident variable.
// Depth is the scope depth it was declared at.
type Local struct {
	Name       string
	Depth      int
	IsCaptured bool
}

// LoopContext tracks the jump-patch bookkeeping for one enclosing
// wander/journey loop, so flee/onwards can emit the right jumps
// (§4.2.5).
type LoopContext struct {
	loopStart  int
	breakJumps []int
}

// CompileError is returned when a chunk's resource limits are
// exceeded — every operand in this bytecode format is a single byte,
// so constants, locals and jump distances are capped at 256.
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string { return e.Message }

// Compiler is the code generator: one instance compiles one function
// body (script top-level or a song), with a chain of enclosing
// Compilers used to resolve upvalues across nested functions
// (spec.md §4.2.1, §4.3.1).
type Compiler struct {
	enclosing *Compiler

	chunk        *Chunk
	functionType FunctionType
	functionName string
	arity        int

	locals     []Local
	scopeDepth int

	upvalues []UpvalueDescriptor

	loops []*LoopContext

	errors []error
}

func newCompiler(enclosing *Compiler, functionType FunctionType, name string) *Compiler {
	c := &Compiler{
		enclosing:    enclosing,
		chunk:        NewChunk(),
		functionType: functionType,
		functionName: name,
	}
	// Slot 0 is reserved for the running closure itself (used by
	// recursive self-calls); it is never addressable by source name.
	c.locals = append(c.locals, Local{Name: "", Depth: 0})
	return c
}

// Compile compiles an entire program into the implicit top-level
// script function.
func Compile(program *ast.Program) (*BytecodeFunction, []error) {
	c := newCompiler(nil, TYPE_SCRIPT, "script")
	for _, stmt := range program.Statements {
		stmt.Accept(c)
	}
	c.emitByte(byte(OP_HALT), 0)
	fn := &BytecodeFunction{
		Name:         "script",
		Arity:        0,
		UpvalueCount: len(c.upvalues),
		Chunk:        c.chunk,
		UpvalueInfo:  c.upvalues,
	}
	return fn, c.errors
}

func (c *Compiler) addError(format string, args ...interface{}) {
	c.errors = append(c.errors, &CompileError{Message: fmt.Sprintf(format, args...)})
}
