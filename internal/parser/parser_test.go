package parser_test

import (
	"testing"

	"github.com/thegian7/tmbdl/internal/ast"
	"github.com/thegian7/tmbdl/internal/parser"
)

func parseOrFail(t *testing.T, src string) *ast.Program {
	t.Helper()
	program, errs := parser.ParseProgram(src)
	if len(errs) > 0 {
		t.Fatalf("unexpected parse errors for %q: %s", src, errs[0].Error())
	}
	return program
}

func TestParseVarDeclaration(t *testing.T) {
	program := parseOrFail(t, `ring x = 5;`)
	if len(program.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(program.Statements))
	}
	decl, ok := program.Statements[0].(*ast.VarDeclaration)
	if !ok {
		t.Fatalf("expected *ast.VarDeclaration, got %T", program.Statements[0])
	}
	if decl.Name != "x" {
		t.Fatalf("expected name x, got %s", decl.Name)
	}
	num, ok := decl.Value.(*ast.NumberLiteral)
	if !ok {
		t.Fatalf("expected NumberLiteral initializer, got %T", decl.Value)
	}
	if num.Value != 5 {
		t.Fatalf("expected 5, got %v", num.Value)
	}
}

func TestOperatorPrecedence(t *testing.T) {
	program := parseOrFail(t, `answer 1 + 2 * 3;`)
	stmt, ok := program.Statements[0].(*ast.ReturnStatement)
	if !ok {
		t.Fatalf("expected *ast.ReturnStatement, got %T", program.Statements[0])
	}
	infix, ok := stmt.Value.(*ast.InfixExpression)
	if !ok {
		t.Fatalf("expected top-level InfixExpression, got %T", stmt.Value)
	}
	if infix.Operator != "+" {
		t.Fatalf("expected top-level operator +, got %s", infix.Operator)
	}
	right, ok := infix.Right.(*ast.InfixExpression)
	if !ok {
		t.Fatalf("expected right side to be the higher-precedence *, got %T", infix.Right)
	}
	if right.Operator != "*" {
		t.Fatalf("expected nested operator *, got %s", right.Operator)
	}
}

func TestIfOtherwiseStatement(t *testing.T) {
	program := parseOrFail(t, `perhaps (x > 0) { answer 1; } otherwise { answer 0; }`)
	stmt, ok := program.Statements[0].(*ast.IfStatement)
	if !ok {
		t.Fatalf("expected *ast.IfStatement, got %T", program.Statements[0])
	}
	if stmt.Alternative == nil {
		t.Fatal("expected otherwise branch to be parsed")
	}
}

func TestFunctionLiteralParams(t *testing.T) {
	program := parseOrFail(t, `ring f = song(a, b) { answer a + b; };`)
	decl := program.Statements[0].(*ast.VarDeclaration)
	fn, ok := decl.Value.(*ast.FunctionLiteral)
	if !ok {
		t.Fatalf("expected *ast.FunctionLiteral, got %T", decl.Value)
	}
	if len(fn.Params) != 2 || fn.Params[0] != "a" || fn.Params[1] != "b" {
		t.Fatalf("expected params [a b], got %v", fn.Params)
	}
}

func TestArrayAndIndexExpression(t *testing.T) {
	program := parseOrFail(t, `answer [1, 2, 3][1];`)
	stmt := program.Statements[0].(*ast.ReturnStatement)
	idx, ok := stmt.Value.(*ast.IndexExpression)
	if !ok {
		t.Fatalf("expected *ast.IndexExpression, got %T", stmt.Value)
	}
	arr, ok := idx.Left.(*ast.ArrayLiteral)
	if !ok {
		t.Fatalf("expected array literal on the left, got %T", idx.Left)
	}
	if len(arr.Elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(arr.Elements))
	}
}

func TestLogicalOperatorsParseAsLogicalExpression(t *testing.T) {
	program := parseOrFail(t, `answer a with b;`)
	stmt := program.Statements[0].(*ast.ReturnStatement)
	logical, ok := stmt.Value.(*ast.LogicalExpression)
	if !ok {
		t.Fatalf("expected *ast.LogicalExpression, got %T", stmt.Value)
	}
	if logical.Operator != "with" {
		t.Fatalf("expected operator with, got %s", logical.Operator)
	}
}

func TestForInStatementStructure(t *testing.T) {
	program := parseOrFail(t, `journey (item in items) { answer item; }`)
	stmt, ok := program.Statements[0].(*ast.ForInStatement)
	if !ok {
		t.Fatalf("expected *ast.ForInStatement, got %T", program.Statements[0])
	}
	if stmt.VarName != "item" {
		t.Fatalf("expected loop var item, got %s", stmt.VarName)
	}
}

func TestParseErrorOnMalformedInput(t *testing.T) {
	_, errs := parser.ParseProgram(`ring = ;`)
	if len(errs) == 0 {
		t.Fatal("expected a parse error for a var declaration missing its name")
	}
}
