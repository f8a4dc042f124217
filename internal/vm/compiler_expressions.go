package vm

import (
	"strings"

	"github.com/thegian7/tmbdl/internal/ast"
)

func (c *Compiler) VisitIdentifier(e *ast.Identifier) {
	c.loadIdentifier(e.Value, e.Token.Line)
}

func (c *Compiler) loadIdentifier(name string, line int) {
	if slot := c.resolveLocal(name); slot != -1 {
		c.emitOpByte(OP_LOAD, byte(slot), line)
		return
	}
	if up := c.resolveUpvalue(name); up != -1 {
		c.emitOpByte(OP_GET_UPVALUE, byte(up), line)
		return
	}
	c.emitOpByte(OP_LOAD_GLOBAL, c.nameConstant(name), line)
}

// storeIdentifier stores the value currently on top of the stack,
// leaving it there (peek semantics) so assignment remains usable as
// an expression.
func (c *Compiler) storeIdentifier(name string, line int) {
	if slot := c.resolveLocal(name); slot != -1 {
		c.emitOpByte(OP_STORE, byte(slot), line)
		return
	}
	if up := c.resolveUpvalue(name); up != -1 {
		c.emitOpByte(OP_SET_UPVALUE, byte(up), line)
		return
	}
	c.emitOpByte(OP_STORE_GLOBAL, c.nameConstant(name), line)
}

func (c *Compiler) VisitNumberLiteral(e *ast.NumberLiteral) {
	c.emitConstant(NumberVal(e.Value), e.Token.Line)
}

func (c *Compiler) VisitStringLiteral(e *ast.StringLiteral) {
	c.emitConstant(ObjVal(&StringObj{Value: e.Value}), e.Token.Line)
}

func (c *Compiler) VisitBooleanLiteral(e *ast.BooleanLiteral) {
	c.emitConstant(BoolVal(e.Value), e.Token.Line)
}

func (c *Compiler) VisitNullLiteral(e *ast.NullLiteral) {
	c.emitConstant(Null, e.Token.Line)
}

// VisitTemplateLiteral lowers a backtick template to a chain of
// string-coercing OP_ADD concatenations (spec.md §4.2.8, §4.2.9).
func (c *Compiler) VisitTemplateLiteral(e *ast.TemplateLiteral) {
	line := e.Token.Line
	if len(e.Parts) == 0 {
		c.emitConstant(ObjVal(&StringObj{Value: ""}), line)
		return
	}
	first := true
	for _, part := range e.Parts {
		if part.Expr != nil {
			part.Expr.Accept(c)
		} else {
			c.emitConstant(ObjVal(&StringObj{Value: part.Text}), line)
		}
		if !first {
			c.emitOp(OP_ADD, line)
		}
		first = false
	}
}

func (c *Compiler) VisitArrayLiteral(e *ast.ArrayLiteral) {
	line := e.Token.Line
	for _, el := range e.Elements {
		el.Accept(c)
	}
	if len(e.Elements) > 255 {
		c.addError("array literal has too many elements for a single-byte operand")
	}
	c.emitOpByte(OP_MAKE_ARRAY, byte(len(e.Elements)), line)
}

func (c *Compiler) VisitMapLiteral(e *ast.MapLiteral) {
	line := e.Token.Line
	for _, entry := range e.Entries {
		if ident, ok := entry.Key.(*ast.Identifier); ok {
			c.emitConstant(ObjVal(&StringObj{Value: ident.Value}), line)
		} else {
			entry.Key.Accept(c)
		}
		entry.Value.Accept(c)
	}
	if len(e.Entries) > 255 {
		c.addError("map literal has too many entries for a single-byte operand")
	}
	c.emitOpByte(OP_MAKE_OBJECT, byte(len(e.Entries)), line)
}

func (c *Compiler) VisitFunctionLiteral(e *ast.FunctionLiteral) {
	c.compileFunction(e.Name, e.Params, e.Body, e.Token.Line)
}

func (c *Compiler) VisitPrefixExpression(e *ast.PrefixExpression) {
	line := e.Token.Line
	e.Right.Accept(c)
	switch e.Operator {
	case "-":
		c.emitOp(OP_NEG, line)
	case "!":
		c.emitOp(OP_NOT, line)
	default:
		c.addError("unknown prefix operator %q", e.Operator)
	}
}

var infixOps = map[string]Opcode{
	"+": OP_ADD, "-": OP_SUB, "*": OP_MUL, "/": OP_DIV, "%": OP_MOD,
	"==": OP_EQ, "!=": OP_NEQ,
	"<": OP_LT, "<=": OP_LTE, ">": OP_GT, ">=": OP_GTE,
}

func (c *Compiler) VisitInfixExpression(e *ast.InfixExpression) {
	line := e.Token.Line
	e.Left.Accept(c)
	e.Right.Accept(c)
	op, ok := infixOps[e.Operator]
	if !ok {
		c.addError("unknown infix operator %q", e.Operator)
		return
	}
	c.emitOp(op, line)
}

// VisitLogicalExpression lowers `with`/`either` to short-circuiting
// jumps so the right operand is never evaluated unless needed
// (spec.md §4.2.6).
func (c *Compiler) VisitLogicalExpression(e *ast.LogicalExpression) {
	line := e.Token.Line
	e.Left.Accept(c)
	switch e.Operator {
	case "with":
		endJump := c.emitJump(OP_JUMP_IF_FALSE, line)
		c.emitOp(OP_POP, line)
		e.Right.Accept(c)
		c.patchJump(endJump)
	case "either":
		elseJump := c.emitJump(OP_JUMP_IF_FALSE, line)
		endJump := c.emitJump(OP_JUMP, line)
		c.patchJump(elseJump)
		c.emitOp(OP_POP, line)
		e.Right.Accept(c)
		c.patchJump(endJump)
	default:
		c.addError("unknown logical operator %q", e.Operator)
	}
}

// compileLoadTarget pushes the current value an assignable expression
// refers to: a single value for Identifier/IndexExpression/
// PropertyExpression targets alike.
func (c *Compiler) compileLoadTarget(target ast.Expression, line int) {
	switch t := target.(type) {
	case *ast.Identifier:
		c.loadIdentifier(t.Value, line)
	case *ast.IndexExpression:
		t.Left.Accept(c)
		t.Index.Accept(c)
		c.emitOp(OP_INDEX_GET, line)
	case *ast.PropertyExpression:
		t.Left.Accept(c)
		c.emitOpByte(OP_GET_PROP, c.nameConstant(t.Name), line)
	default:
		c.addError("invalid assignment target")
	}
}

// compileStoreTarget stores the value already sitting alone on top of
// the stack into target, re-evaluating target's own sub-expressions
// (Left/Index) to locate the storage slot. Leaves the stored value on
// top as the assignment's result.
func (c *Compiler) compileStoreTarget(target ast.Expression, line int) {
	switch t := target.(type) {
	case *ast.Identifier:
		c.storeIdentifier(t.Value, line)
	case *ast.IndexExpression:
		t.Left.Accept(c)
		t.Index.Accept(c)
		c.emitOp(OP_INDEX_SET, line)
	case *ast.PropertyExpression:
		t.Left.Accept(c)
		c.emitOpByte(OP_SET_PROP, c.nameConstant(t.Name), line)
	default:
		c.addError("invalid assignment target")
	}
}

var compoundOps = map[string]Opcode{
	"+=": OP_ADD, "-=": OP_SUB, "*=": OP_MUL, "/=": OP_DIV, "%=": OP_MOD,
}

func (c *Compiler) VisitAssignExpression(e *ast.AssignExpression) {
	line := e.Token.Line
	if e.Operator == "=" {
		e.Value.Accept(c)
		c.compileStoreTarget(e.Target, line)
		return
	}
	op, ok := compoundOps[e.Operator]
	if !ok {
		c.addError("unknown assignment operator %q", e.Operator)
		return
	}
	c.compileLoadTarget(e.Target, line)
	e.Value.Accept(c)
	c.emitOp(op, line)
	c.compileStoreTarget(e.Target, line)
}

// VisitUpdateExpression lowers `++`/`--`. Prefix and Identifier-target
// postfix forms yield the spec-correct value (new for prefix, old for
// postfix); postfix on an index/property target yields the new value
// too — a documented simplification, since duplicating a two-slot
// (array, index) or (object) target without a multi-slot DUP opcode
// would otherwise require re-evaluating the target a third time.
func (c *Compiler) VisitUpdateExpression(e *ast.UpdateExpression) {
	line := e.Token.Line
	delta := 1.0
	if e.Operator == "--" {
		delta = -1.0
	}

	if _, ok := e.Target.(*ast.Identifier); ok && !e.Prefix {
		c.compileLoadTarget(e.Target, line)
		c.emitOp(OP_DUP, line)
		c.emitConstant(NumberVal(delta), line)
		c.emitOp(OP_ADD, line)
		c.compileStoreTarget(e.Target, line)
		c.emitOp(OP_POP, line)
		return
	}

	c.compileLoadTarget(e.Target, line)
	c.emitConstant(NumberVal(delta), line)
	c.emitOp(OP_ADD, line)
	c.compileStoreTarget(e.Target, line)
}

func (c *Compiler) VisitCallExpression(e *ast.CallExpression) {
	line := e.Token.Line
	e.Callee.Accept(c)
	for _, arg := range e.Arguments {
		arg.Accept(c)
	}
	if len(e.Arguments) > 255 {
		c.addError("call has too many arguments for a single-byte operand")
	}
	c.emitOpByte(OP_CALL, byte(len(e.Arguments)), line)
}

func (c *Compiler) VisitIndexExpression(e *ast.IndexExpression) {
	line := e.Token.Line
	e.Left.Accept(c)
	e.Index.Accept(c)
	c.emitOp(OP_INDEX_GET, line)
}

func (c *Compiler) VisitPropertyExpression(e *ast.PropertyExpression) {
	line := e.Token.Line
	e.Left.Accept(c)
	c.emitOpByte(OP_GET_PROP, c.nameConstant(e.Name), line)
}

// compileFunction compiles params/body into a fresh nested Compiler,
// wires its BytecodeFunction prototype into the enclosing chunk's
// constant pool, and emits MAKE_CLOSURE with its upvalue descriptor
// tail (spec.md §4.2.2, §4.3.1).
func (c *Compiler) compileFunction(name string, params []string, body *ast.BlockStatement, line int) {
	child := newCompiler(c, TYPE_FUNCTION, name)
	for _, p := range params {
		child.addLocal(p)
	}
	for _, stmt := range body.Statements {
		stmt.Accept(child)
	}
	// Implicit `answer null` if the body doesn't end with an explicit return.
	child.emitOp(OP_PUSH_CONST, line)
	child.emitByte(byte(child.chunk.AddConstant(Null)), line)
	child.emitOp(OP_RETURN, line)

	c.errors = append(c.errors, child.errors...)

	fn := &BytecodeFunction{
		Name:         name,
		Arity:        len(params),
		UpvalueCount: len(child.upvalues),
		Chunk:        child.chunk,
		UpvalueInfo:  child.upvalues,
	}
	idx := c.chunk.AddConstant(ObjVal(fn))
	if idx > 255 {
		c.addError("too many constants in one function")
		idx = 255
	}
	c.emitOpByte(OP_MAKE_CLOSURE, byte(idx), line)
	for _, uv := range child.upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		c.emitByte(isLocal, line)
		c.emitByte(uv.Index, line)
	}
}

// moduleDefaultName derives an implicit binding name for an unaliased
// `gateway "path/to/mod.tmbdl"` — the final path segment, extension
// stripped.
func moduleDefaultName(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i != -1 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i != -1 {
		base = base[:i]
	}
	return base
}
