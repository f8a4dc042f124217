package vm

import "github.com/thegian7/tmbdl/internal/ast"

// isGlobalScope reports whether the compiler is currently emitting
// top-level script code (not inside any function, and not nested
// inside a block that raised scopeDepth). Only bindings made directly
// here become VM globals; everything else is a stack-resident local.
func (c *Compiler) isGlobalScope() bool {
	return c.enclosing == nil && c.scopeDepth == 0
}

func (c *Compiler) nameConstant(name string) byte {
	idx := c.chunk.AddConstant(ObjVal(&StringObj{Value: name}))
	if idx > 255 {
		c.addError("too many names in one function")
		return 255
	}
	return byte(idx)
}

// bindVariable binds a value already sitting on top of the operand
// stack to name: at global scope it's stored into the VM's global
// table and popped; at local scope the value stays put and simply
// becomes the new local's stack slot.
func (c *Compiler) bindVariable(name string, line int) {
	if c.isGlobalScope() {
		c.emitOpByte(OP_STORE_GLOBAL, c.nameConstant(name), line)
		c.emitOp(OP_POP, line)
		return
	}
	c.addLocal(name)
}

func (c *Compiler) VisitProgram(p *ast.Program) {
	for _, stmt := range p.Statements {
		stmt.Accept(c)
	}
}

func (c *Compiler) VisitVarDeclaration(s *ast.VarDeclaration) {
	line := s.Token.Line
	if s.Value != nil {
		s.Value.Accept(c)
	} else {
		c.emitOp(OP_PUSH_CONST, line)
		c.emitByte(byte(c.chunk.AddConstant(Null)), line)
	}
	c.bindVariable(s.Name, line)
}

func (c *Compiler) VisitFunctionStatement(s *ast.FunctionStatement) {
	line := s.Token.Line
	if c.isGlobalScope() {
		c.compileFunction(s.Name, s.Params, s.Body, line)
		c.emitOpByte(OP_STORE_GLOBAL, c.nameConstant(s.Name), line)
		c.emitOp(OP_POP, line)
		return
	}
	// Declare the local before compiling the body so a recursive call
	// to s.Name inside the body resolves as an upvalue onto this slot.
	c.addLocal(s.Name)
	c.compileFunction(s.Name, s.Params, s.Body, line)
}

func (c *Compiler) VisitReturnStatement(s *ast.ReturnStatement) {
	line := s.Token.Line
	if s.Value != nil {
		s.Value.Accept(c)
	} else {
		c.emitOp(OP_PUSH_CONST, line)
		c.emitByte(byte(c.chunk.AddConstant(Null)), line)
	}
	c.emitOp(OP_RETURN, line)
}

func (c *Compiler) VisitPrintStatement(s *ast.PrintStatement) {
	line := s.Token.Line
	s.Value.Accept(c)
	c.emitOp(OP_PRINT, line)
}

func (c *Compiler) VisitEyeofStatement(s *ast.EyeofStatement) {
	line := s.Token.Line
	c.emitConstant(ObjVal(&StringObj{Value: s.Label}), line)
	s.Value.Accept(c)
	c.emitOp(OP_EYEOF, line)
}

func (c *Compiler) VisitBlockStatement(s *ast.BlockStatement) {
	line := s.Token.Line
	c.beginScope()
	for _, stmt := range s.Statements {
		stmt.Accept(c)
	}
	c.endScope(line)
}

func (c *Compiler) VisitExpressionStatement(s *ast.ExpressionStatement) {
	line := s.Token.Line
	s.Expression.Accept(c)
	c.emitOp(OP_POP, line)
}

func (c *Compiler) VisitIfStatement(s *ast.IfStatement) {
	line := s.Token.Line
	s.Condition.Accept(c)
	thenJump := c.emitJump(OP_JUMP_IF_FALSE, line)
	c.emitOp(OP_POP, line) // discard condition on the taken (then) branch
	s.Consequence.Accept(c)
	elseJump := c.emitJump(OP_JUMP, line)
	c.patchJump(thenJump)
	c.emitOp(OP_POP, line) // discard condition on the fallthrough (else) branch
	if s.Alternative != nil {
		s.Alternative.Accept(c)
	}
	c.patchJump(elseJump)
}

func (c *Compiler) VisitBreakStatement(s *ast.BreakStatement) {
	line := s.Token.Line
	loop := c.currentLoop()
	if loop == nil {
		c.addError("flee used outside of a loop")
		return
	}
	jump := c.emitJump(OP_JUMP, line)
	loop.breakJumps = append(loop.breakJumps, jump)
}

func (c *Compiler) VisitContinueStatement(s *ast.ContinueStatement) {
	line := s.Token.Line
	loop := c.currentLoop()
	if loop == nil {
		c.addError("onwards used outside of a loop")
		return
	}
	c.emitLoop(loop.loopStart, line)
}

func (c *Compiler) VisitImportStatement(s *ast.ImportStatement) {
	line := s.Token.Line
	pathIdx := c.chunk.AddConstant(ObjVal(&StringObj{Value: s.Path}))
	if pathIdx > 255 {
		c.addError("too many constants in one function")
		pathIdx = 255
	}
	c.emitOpByte(OP_IMPORT, byte(pathIdx), line)
	name := s.Alias
	if name == "" {
		name = moduleDefaultName(s.Path)
	}
	c.bindVariable(name, line)
}

func (c *Compiler) VisitExportStatement(s *ast.ExportStatement) {
	line := s.Token.Line
	c.loadIdentifier(s.Name, line)
	c.emitOpByte(OP_EXPORT, c.nameConstant(s.Name), line)
}

// VisitAttemptStatement lowers only the try body; the rescue clause is
// parsed but silently dropped by the bytecode path (spec.md §9 — no
// exception-handling opcodes).
func (c *Compiler) VisitAttemptStatement(s *ast.AttemptStatement) {
	s.TryBody.Accept(c)
}

// VisitRealmDeclaration is a no-op: the bytecode path has no
// class/vtable model (spec.md §9).
func (c *Compiler) VisitRealmDeclaration(s *ast.RealmDeclaration) {}
