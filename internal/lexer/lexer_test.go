package lexer_test

import (
	"testing"

	"github.com/thegian7/tmbdl/internal/lexer"
	"github.com/thegian7/tmbdl/internal/token"
)

func collectTypes(src string) []token.Type {
	l := lexer.New(src)
	var types []token.Type
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == token.EOF {
			return types
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	types := collectTypes(`ring x = 5;`)
	want := []token.Type{token.RING, token.IDENT, token.ASSIGN, token.NUMBER, token.SEMICOLON, token.EOF}
	if len(types) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Fatalf("token %d: expected %s, got %s", i, w, types[i])
		}
	}
}

func TestMultiCharOperators(t *testing.T) {
	types := collectTypes(`a == b != c <= d >= e += 1 -- ++`)
	want := []token.Type{
		token.IDENT, token.EQ, token.IDENT, token.NOT_EQ, token.IDENT, token.LTE,
		token.IDENT, token.GTE, token.IDENT, token.PLUS_ASSIGN, token.NUMBER,
		token.DECREMENT, token.INCREMENT, token.EOF,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Fatalf("token %d: expected %s, got %s", i, w, types[i])
		}
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	types := collectTypes("ring x = 1; # this is a comment\nring y = 2;")
	count := 0
	for _, ty := range types {
		if ty == token.RING {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 RING tokens (comment skipped), got %d", count)
	}
}

func TestStringEscapes(t *testing.T) {
	l := lexer.New(`"line one\nline two"`)
	tok := l.NextToken()
	if tok.Type != token.STRING {
		t.Fatalf("expected STRING token, got %s", tok.Type)
	}
	if tok.Lexeme != "line one\nline two" {
		t.Fatalf("expected escape to be interpreted, got %q", tok.Lexeme)
	}
}

func TestLineAndColumnTracking(t *testing.T) {
	l := lexer.New("ring x = 1;\nring y = 2;")
	var last token.Token
	for {
		tok := l.NextToken()
		if tok.Type == token.EOF {
			break
		}
		last = tok
	}
	if last.Line != 2 {
		t.Fatalf("expected final token on line 2, got line %d", last.Line)
	}
	if last.Column != 11 {
		t.Fatalf("expected final token at column 11, got column %d", last.Column)
	}
}
