// Package lexer turns Tmbdl source text into a stream of tokens.
package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/thegian7/tmbdl/internal/token"
)

// Lexer scans UTF-8 source text one rune at a time.
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           rune
	line         int
	column       int
}

// New creates a Lexer over input.
func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
		l.position = l.readPosition
		l.readPosition++
		return
	}
	r, w := utf8.DecodeRuneInString(l.input[l.readPosition:])
	l.ch = r
	l.position = l.readPosition
	l.readPosition += w
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPosition:])
	return r
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		break
	}
}

func newToken(t token.Type, ch rune, line, col int) token.Token {
	return token.Token{Type: t, Lexeme: string(ch), Literal: string(ch), Line: line, Column: col}
}

// NextToken scans and returns the next token, advancing the lexer.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespaceAndComments()

	var tok token.Token
	line, col := l.line, l.column

	switch l.ch {
	case '\n':
		tok = token.Token{Type: token.NEWLINE, Lexeme: "\\n", Line: line, Column: col}
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.EQ, Lexeme: "==", Line: line, Column: col}
		} else {
			tok = newToken(token.ASSIGN, l.ch, line, col)
		}
	case '+':
		switch l.peekChar() {
		case '+':
			l.readChar()
			tok = token.Token{Type: token.INCREMENT, Lexeme: "++", Line: line, Column: col}
		case '=':
			l.readChar()
			tok = token.Token{Type: token.PLUS_ASSIGN, Lexeme: "+=", Line: line, Column: col}
		default:
			tok = newToken(token.PLUS, l.ch, line, col)
		}
	case '-':
		switch l.peekChar() {
		case '-':
			l.readChar()
			tok = token.Token{Type: token.DECREMENT, Lexeme: "--", Line: line, Column: col}
		case '=':
			l.readChar()
			tok = token.Token{Type: token.MINUS_ASSIGN, Lexeme: "-=", Line: line, Column: col}
		case '>':
			l.readChar()
			tok = token.Token{Type: token.ARROW, Lexeme: "->", Line: line, Column: col}
		default:
			tok = newToken(token.MINUS, l.ch, line, col)
		}
	case '*':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.STAR_ASSIGN, Lexeme: "*=", Line: line, Column: col}
		} else {
			tok = newToken(token.STAR, l.ch, line, col)
		}
	case '/':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.SLASH_ASSIGN, Lexeme: "/=", Line: line, Column: col}
		} else {
			tok = newToken(token.SLASH, l.ch, line, col)
		}
	case '%':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.PERCENT_ASSIGN, Lexeme: "%=", Line: line, Column: col}
		} else {
			tok = newToken(token.PERCENT, l.ch, line, col)
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.NOT_EQ, Lexeme: "!=", Line: line, Column: col}
		} else {
			tok = newToken(token.BANG, l.ch, line, col)
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.LTE, Lexeme: "<=", Line: line, Column: col}
		} else {
			tok = newToken(token.LT, l.ch, line, col)
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token.Token{Type: token.GTE, Lexeme: ">=", Line: line, Column: col}
		} else {
			tok = newToken(token.GT, l.ch, line, col)
		}
	case '(':
		tok = newToken(token.LPAREN, l.ch, line, col)
	case ')':
		tok = newToken(token.RPAREN, l.ch, line, col)
	case '{':
		tok = newToken(token.LBRACE, l.ch, line, col)
	case '}':
		tok = newToken(token.RBRACE, l.ch, line, col)
	case '[':
		tok = newToken(token.LBRACKET, l.ch, line, col)
	case ']':
		tok = newToken(token.RBRACKET, l.ch, line, col)
	case ',':
		tok = newToken(token.COMMA, l.ch, line, col)
	case ':':
		tok = newToken(token.COLON, l.ch, line, col)
	case '.':
		tok = newToken(token.DOT, l.ch, line, col)
	case ';':
		tok = newToken(token.SEMICOLON, l.ch, line, col)
	case '`':
		tok = l.readTemplateString(line, col)
		return tok
	case '"':
		tok = l.readString(line, col)
		return tok
	case 0:
		tok = token.Token{Type: token.EOF, Lexeme: "", Line: line, Column: col}
	default:
		if isLetter(l.ch) {
			ident := l.readIdentifier()
			tok = token.Token{Type: token.LookupIdent(ident), Lexeme: ident, Literal: ident, Line: line, Column: col}
			return tok
		} else if isDigit(l.ch) {
			num := l.readNumber()
			tok = token.Token{Type: token.NUMBER, Lexeme: num, Literal: num, Line: line, Column: col}
			return tok
		}
		tok = newToken(token.ILLEGAL, l.ch, line, col)
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdentifier() string {
	start := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readNumber() string {
	start := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.position]
}

// readString scans a double-quoted string literal, processing \n \t \\ \" escapes.
func (l *Lexer) readString(line, col int) token.Token {
	l.readChar() // consume opening quote
	var sb strings.Builder
	for l.ch != '"' && l.ch != 0 {
		if l.ch == '\\' {
			l.readChar()
			sb.WriteRune(escapeRune(l.ch))
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // consume closing quote
	s := sb.String()
	return token.Token{Type: token.STRING, Lexeme: s, Literal: s, Line: line, Column: col}
}

// readTemplateString scans a backtick template. Interpolated ${expr} parts
// are left verbatim in Literal for the parser to split and re-lex.
func (l *Lexer) readTemplateString(line, col int) token.Token {
	l.readChar()
	start := l.position
	depth := 0
	for {
		if l.ch == 0 {
			break
		}
		if l.ch == '`' && depth == 0 {
			break
		}
		if l.ch == '$' && l.peekChar() == '{' {
			depth++
			l.readChar()
			l.readChar()
			continue
		}
		if l.ch == '}' && depth > 0 {
			depth--
		}
		l.readChar()
	}
	s := l.input[start:l.position]
	l.readChar() // consume closing backtick
	return token.Token{Type: token.TEMPLATE_STRING, Lexeme: s, Literal: s, Line: line, Column: col}
}

func escapeRune(ch rune) rune {
	switch ch {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return ch
	}
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	return unicode.IsDigit(ch)
}
