// Package parser implements a recursive-descent, precedence-climbing
// (Pratt) parser that turns a token stream into an internal/ast.Program.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thegian7/tmbdl/internal/ast"
	"github.com/thegian7/tmbdl/internal/lexer"
	"github.com/thegian7/tmbdl/internal/token"
)

// precedence levels, lowest to highest.
const (
	LOWEST int = iota
	LOGICAL_OR
	LOGICAL_AND
	EQUALITY
	COMPARISON
	SUM
	PRODUCT
	PREFIX
	CALL_INDEX
)

var precedences = map[token.Type]int{
	token.EITHER:   LOGICAL_OR,
	token.WITH:     LOGICAL_AND,
	token.EQ:       EQUALITY,
	token.NOT_EQ:   EQUALITY,
	token.LT:       COMPARISON,
	token.LTE:      COMPARISON,
	token.GT:       COMPARISON,
	token.GTE:      COMPARISON,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.STAR:     PRODUCT,
	token.SLASH:    PRODUCT,
	token.PERCENT:  PRODUCT,
	token.LPAREN:   CALL_INDEX,
	token.LBRACKET: CALL_INDEX,
	token.DOT:      CALL_INDEX,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Error records a syntax error with its source position.
type Error struct {
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Parser consumes a token stream and builds an AST, collecting all
// syntax errors it encounters rather than stopping at the first one.
type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	errors []*Error

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

// New creates a Parser over the given Tmbdl source text.
func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}

	p.prefixParseFns = map[token.Type]prefixParseFn{
		token.IDENT:           p.parseIdentifier,
		token.NUMBER:          p.parseNumberLiteral,
		token.STRING:          p.parseStringLiteral,
		token.TEMPLATE_STRING: p.parseTemplateLiteral,
		token.TRUE:            p.parseBoolean,
		token.FALSE:           p.parseBoolean,
		token.NULL:            p.parseNull,
		token.BANG:            p.parsePrefixExpression,
		token.NOT:             p.parsePrefixExpression,
		token.MINUS:           p.parsePrefixExpression,
		token.LPAREN:          p.parseGroupedExpression,
		token.LBRACKET:        p.parseArrayLiteral,
		token.LBRACE:          p.parseMapLiteral,
		token.SONG:            p.parseFunctionLiteral,
		token.SELF:            p.parseIdentifier,
		token.INCREMENT:       p.parsePrefixUpdate,
		token.DECREMENT:       p.parsePrefixUpdate,
	}

	p.infixParseFns = map[token.Type]infixParseFn{
		token.PLUS:     p.parseInfixExpression,
		token.MINUS:    p.parseInfixExpression,
		token.STAR:     p.parseInfixExpression,
		token.SLASH:    p.parseInfixExpression,
		token.PERCENT:  p.parseInfixExpression,
		token.EQ:       p.parseInfixExpression,
		token.NOT_EQ:   p.parseInfixExpression,
		token.LT:       p.parseInfixExpression,
		token.LTE:      p.parseInfixExpression,
		token.GT:       p.parseInfixExpression,
		token.GTE:      p.parseInfixExpression,
		token.WITH:     p.parseLogicalExpression,
		token.EITHER:   p.parseLogicalExpression,
		token.LPAREN:   p.parseCallExpression,
		token.LBRACKET: p.parseIndexExpression,
		token.DOT:      p.parsePropertyExpression,
	}

	// prime curToken/peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Errors returns every syntax error collected while parsing.
func (p *Parser) Errors() []*Error { return p.errors }

func (p *Parser) addError(format string, args ...interface{}) {
	p.errors = append(p.errors, &Error{
		Message: fmt.Sprintf(format, args...),
		Line:    p.curToken.Line,
		Column:  p.curToken.Column,
	})
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
	for p.peekToken.Type == token.NEWLINE {
		p.peekToken = p.l.NextToken()
	}
}

func (p *Parser) curIs(t token.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.Type) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.addError("expected next token to be %s, got %s instead", t, p.peekToken.Type)
	return false
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram parses the entire token stream into a Program. Skip
// leading NEWLINE tokens between statements, same as the parser's
// nextToken loop.
func ParseProgram(input string) (*ast.Program, []*Error) {
	p := New(input)
	prog := &ast.Program{}
	for !p.curIs(token.EOF) {
		if p.curIs(token.NEWLINE) || p.curIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.nextToken()
	}
	return prog, p.errors
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.RING:
		return p.parseVarDeclaration()
	case token.SONG:
		return p.parseFunctionStatement()
	case token.ANSWER:
		return p.parseReturnStatement()
	case token.SING:
		return p.parsePrintStatement()
	case token.MURMUR:
		return p.parseEyeofStatement()
	case token.PERHAPS:
		return p.parseIfStatement()
	case token.WANDER:
		return p.parseWhileStatement()
	case token.JOURNEY:
		return p.parseForInStatement()
	case token.FLEE:
		tok := p.curToken
		return &ast.BreakStatement{Token: tok}
	case token.ONWARDS:
		tok := p.curToken
		return &ast.ContinueStatement{Token: tok}
	case token.GATEWAY:
		return p.parseImportStatement()
	case token.REVEAL:
		return p.parseExportStatement()
	case token.ATTEMPT:
		return p.parseAttemptStatement()
	case token.REALM:
		return p.parseRealmDeclaration()
	case token.LBRACE:
		return p.parseBlockStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseVarDeclaration() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := p.curToken.Lexeme
	if !p.expectPeek(token.ASSIGN) {
		return nil
	}
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.VarDeclaration{Token: tok, Name: name, Value: value}
}

func (p *Parser) parseFunctionStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := p.curToken.Lexeme
	params := p.parseParamList()
	body := p.parseBlockStatement()
	return &ast.FunctionStatement{Token: tok, Name: name, Params: params, Body: body}
}

func (p *Parser) parseParamList() []string {
	var params []string
	if !p.expectPeek(token.LPAREN) {
		return params
	}
	if p.peekIs(token.RPAREN) {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, p.curToken.Lexeme)
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, p.curToken.Lexeme)
	}
	if !p.expectPeek(token.RPAREN) {
		return params
	}
	return params
}

func (p *Parser) parseReturnStatement() ast.Statement {
	tok := p.curToken
	stmt := &ast.ReturnStatement{Token: tok}
	if p.peekIs(token.NEWLINE) || p.peekIs(token.RBRACE) || p.peekIs(token.SEMICOLON) || p.peekIs(token.EOF) {
		return stmt
	}
	p.nextToken()
	stmt.Value = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parsePrintStatement() ast.Statement {
	tok := p.curToken
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.PrintStatement{Token: tok, Value: value}
}

func (p *Parser) parseEyeofStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.STRING) {
		return nil
	}
	label := p.curToken.Lexeme
	if !p.expectPeek(token.COMMA) {
		return nil
	}
	p.nextToken()
	value := p.parseExpression(LOWEST)
	return &ast.EyeofStatement{Token: tok, Label: label, Value: value}
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	tok := p.curToken
	block := &ast.BlockStatement{Token: tok}
	if !p.expectPeek(token.LBRACE) {
		return block
	}
	p.nextToken()
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if p.curIs(token.NEWLINE) || p.curIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseIfStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	cons := p.parseBlockStatement()
	stmt := &ast.IfStatement{Token: tok, Condition: cond, Consequence: cons}
	if p.peekIs(token.OTHERWISE) {
		p.nextToken()
		stmt.Alternative = p.parseBlockStatement()
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	body := p.parseBlockStatement()
	return &ast.WhileStatement{Token: tok, Condition: cond, Body: body}
}

func (p *Parser) parseForInStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	varName := p.curToken.Lexeme
	if !p.expectPeek(token.IN) {
		return nil
	}
	p.nextToken()
	iterable := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	body := p.parseBlockStatement()
	return &ast.ForInStatement{Token: tok, VarName: varName, Iterable: iterable, Body: body}
}

func (p *Parser) parseImportStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.STRING) {
		return nil
	}
	path := p.curToken.Lexeme
	stmt := &ast.ImportStatement{Token: tok, Path: path}
	if p.peekIs(token.AS) {
		p.nextToken()
		if !p.expectPeek(token.IDENT) {
			return stmt
		}
		stmt.Alias = p.curToken.Lexeme
	}
	return stmt
}

func (p *Parser) parseExportStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return &ast.ExportStatement{Token: tok, Name: p.curToken.Lexeme}
}

func (p *Parser) parseAttemptStatement() ast.Statement {
	tok := p.curToken
	tryBody := p.parseBlockStatement()
	stmt := &ast.AttemptStatement{Token: tok, TryBody: tryBody}
	if p.peekIs(token.RESCUE) {
		p.nextToken()
		if p.peekIs(token.LPAREN) {
			p.nextToken()
			if p.expectPeek(token.IDENT) {
				stmt.RescueParam = p.curToken.Lexeme
			}
			p.expectPeek(token.RPAREN)
		}
		stmt.RescueBody = p.parseBlockStatement()
	}
	return stmt
}

// parseRealmDeclaration parses the class vocabulary into an AST node
// that the code generator visits as a no-op (spec.md §9).
func (p *Parser) parseRealmDeclaration() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	decl := &ast.RealmDeclaration{Token: tok, Name: p.curToken.Lexeme}
	if p.peekIs(token.INHERITS) {
		p.nextToken()
		if p.expectPeek(token.IDENT) {
			decl.Parent = p.curToken.Lexeme
		}
	}
	if !p.expectPeek(token.LBRACE) {
		return decl
	}
	p.nextToken()
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if p.curIs(token.NEWLINE) || p.curIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}
		if p.curIs(token.FORGE) || p.curIs(token.SONG) {
			tok := p.curToken
			name := "forge"
			if p.curIs(token.SONG) {
				if !p.expectPeek(token.IDENT) {
					break
				}
				name = p.curToken.Lexeme
			}
			params := p.parseParamList()
			body := p.parseBlockStatement()
			decl.Methods = append(decl.Methods, &ast.FunctionStatement{Token: tok, Name: name, Params: params, Body: body})
		}
		p.nextToken()
	}
	return decl
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	tok := p.curToken
	expr := p.parseExpression(LOWEST)
	return &ast.ExpressionStatement{Token: tok, Expression: expr}
}

// parseExpression is the Pratt-parser core: parse a prefix, then fold
// in infix/postfix operators while the next operator binds tighter
// than minPrecedence.
func (p *Parser) parseExpression(minPrecedence int) ast.Expression {
	prefix, ok := p.prefixParseFns[p.curToken.Type]
	if !ok {
		p.addError("no prefix parse function for %s found", p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekIs(token.NEWLINE) && minPrecedence < p.peekPrecedence() {
		infix, ok := p.infixParseFns[p.peekToken.Type]
		if !ok {
			return left
		}
		p.nextToken()
		left = infix(left)
	}

	// Assignment and update operators bind looser than anything else and
	// are handled outside the precedence table so `x = a with b` parses
	// the whole RHS before building the assignment.
	if minPrecedence == LOWEST {
		left = p.maybeParseAssignOrUpdate(left)
	}
	return left
}

func (p *Parser) maybeParseAssignOrUpdate(left ast.Expression) ast.Expression {
	switch p.peekToken.Type {
	case token.ASSIGN, token.PLUS_ASSIGN, token.MINUS_ASSIGN, token.STAR_ASSIGN, token.SLASH_ASSIGN, token.PERCENT_ASSIGN:
		tok := p.peekToken
		op := tok.Lexeme
		p.nextToken()
		p.nextToken()
		value := p.parseExpression(LOWEST)
		return &ast.AssignExpression{Token: tok, Target: left, Operator: op, Value: value}
	case token.INCREMENT, token.DECREMENT:
		tok := p.peekToken
		p.nextToken()
		return &ast.UpdateExpression{Token: tok, Target: left, Operator: tok.Lexeme, Prefix: false}
	default:
		return left
	}
}

func (p *Parser) parsePrefixUpdate() ast.Expression {
	tok := p.curToken
	p.nextToken()
	target := p.parseExpression(PREFIX)
	return &ast.UpdateExpression{Token: tok, Target: target, Operator: tok.Lexeme, Prefix: true}
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Lexeme}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	tok := p.curToken
	val, err := strconv.ParseFloat(tok.Lexeme, 64)
	if err != nil {
		p.addError("could not parse %q as number", tok.Lexeme)
		return nil
	}
	return &ast.NumberLiteral{Token: tok, Value: val}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Lexeme}
}

// parseTemplateLiteral splits a raw template body on ${...} boundaries
// and recursively parses each interpolated expression (§4.2.8).
func (p *Parser) parseTemplateLiteral() ast.Expression {
	tok := p.curToken
	raw := tok.Lexeme
	lit := &ast.TemplateLiteral{Token: tok}

	i := 0
	for i < len(raw) {
		start := strings.Index(raw[i:], "${")
		if start == -1 {
			lit.Parts = append(lit.Parts, ast.TemplatePart{Text: raw[i:]})
			break
		}
		start += i
		if start > i {
			lit.Parts = append(lit.Parts, ast.TemplatePart{Text: raw[i:start]})
		}
		depth := 1
		j := start + 2
		for j < len(raw) && depth > 0 {
			if raw[j] == '{' {
				depth++
			} else if raw[j] == '}' {
				depth--
				if depth == 0 {
					break
				}
			}
			j++
		}
		exprSrc := raw[start+2 : j]
		subProg, errs := ParseProgram(exprSrc)
		if len(errs) == 0 && len(subProg.Statements) == 1 {
			if es, ok := subProg.Statements[0].(*ast.ExpressionStatement); ok {
				lit.Parts = append(lit.Parts, ast.TemplatePart{Expr: es.Expression})
			}
		}
		i = j + 1
	}
	return lit
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.BooleanLiteral{Token: p.curToken, Value: p.curIs(token.TRUE)}
}

func (p *Parser) parseNull() ast.Expression {
	return &ast.NullLiteral{Token: p.curToken}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	tok := p.curToken
	op := tok.Lexeme
	if tok.Type == token.NOT {
		op = "!"
	}
	p.nextToken()
	right := p.parseExpression(PREFIX)
	return &ast.PrefixExpression{Token: tok, Operator: op, Right: right}
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.InfixExpression{Token: tok, Left: left, Operator: tok.Lexeme, Right: right}
}

func (p *Parser) parseLogicalExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.LogicalExpression{Token: tok, Left: left, Operator: tok.Lexeme, Right: right}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.curToken
	lit := &ast.ArrayLiteral{Token: tok}
	lit.Elements = p.parseExpressionList(token.RBRACKET)
	return lit
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression
	if p.peekIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	if !p.expectPeek(end) {
		return list
	}
	return list
}

func (p *Parser) parseMapLiteral() ast.Expression {
	tok := p.curToken
	lit := &ast.MapLiteral{Token: tok}
	for !p.peekIs(token.RBRACE) {
		p.nextToken()
		key := p.parseExpression(LOWEST)
		if !p.expectPeek(token.COLON) {
			return lit
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)
		lit.Entries = append(lit.Entries, ast.MapEntry{Key: key, Value: value})
		if p.peekIs(token.COMMA) {
			p.nextToken()
		}
	}
	if !p.expectPeek(token.RBRACE) {
		return lit
	}
	return lit
}

func (p *Parser) parseFunctionLiteral() ast.Expression {
	tok := p.curToken
	name := ""
	if p.peekIs(token.IDENT) {
		p.nextToken()
		name = p.curToken.Lexeme
	}
	params := p.parseParamList()
	body := p.parseBlockStatement()
	return &ast.FunctionLiteral{Token: tok, Name: name, Params: params, Body: body}
}

func (p *Parser) parseCallExpression(callee ast.Expression) ast.Expression {
	tok := p.curToken
	args := p.parseExpressionList(token.RPAREN)
	return &ast.CallExpression{Token: tok, Callee: callee, Arguments: args}
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	idx := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return &ast.IndexExpression{Token: tok, Left: left, Index: idx}
}

func (p *Parser) parsePropertyExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return &ast.PropertyExpression{Token: tok, Left: left, Name: p.curToken.Lexeme}
}
