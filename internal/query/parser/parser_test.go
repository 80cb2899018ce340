package parser

import (
	"errors"
	"testing"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/expr"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"Id % 2 = 0",
			[]TokenType{TokenIdent, TokenPercent, TokenNumber, TokenEq, TokenNumber, TokenEOF},
		},
		{
			"Name != 'x' and $index >= 3",
			[]TokenType{TokenIdent, TokenNe, TokenString, TokenAnd, TokenVariable, TokenGe, TokenNumber, TokenEOF},
		},
		{
			"Level IS NOT NULL || !Active",
			[]TokenType{TokenIdent, TokenIs, TokenNot, TokenNull, TokenOr, TokenNot, TokenIdent, TokenEOF},
		},
		{
			"Id, Name, *",
			[]TokenType{TokenIdent, TokenComma, TokenIdent, TokenComma, TokenStar, TokenEOF},
		},
		{
			"Score >= 1.5e3",
			[]TokenType{TokenIdent, TokenGe, TokenNumber, TokenEOF},
		},
		{
			"Id # 2",
			[]TokenType{TokenIdent, TokenError},
		},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		tokens := lexer.Tokenize()

		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d", tt.input, len(tt.expected), len(tokens))
			continue
		}

		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerStringEscapes(t *testing.T) {
	tok := NewLexer(`'it''s'`).NextToken()
	if tok.Type != TokenString || tok.Literal != "it's" {
		t.Errorf("expected string it's, got %s", tok)
	}
	tok = NewLexer(`"say ""hi"""`).NextToken()
	if tok.Type != TokenString || tok.Literal != `say "hi"` {
		t.Errorf("expected string say \"hi\", got %s", tok)
	}
	tok = NewLexer(`'open`).NextToken()
	if tok.Type != TokenError {
		t.Errorf("expected error for unterminated string, got %s", tok)
	}
}

func TestParseExpr(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Id % 2 = 0", "((Id % 2) = 0)"},
		{"Id % 2 == 0 AND Name != 'x'", `(((Id % 2) = 0) AND (Name != "x"))`},
		{"a OR b AND c", "(a OR (b AND c))"},
		{"(a OR b) AND c", "((a OR b) AND c)"},
		{"NOT Active", "NOT Active"},
		{"NOT a = b", "NOT (a = b)"},
		{"a + b * c - d", "((a + (b * c)) - d)"},
		{"-Level < -2", "(-Level < -2)"},
		{"Score >= 1.5", "(Score >= 1.5)"},
		{"$index >= 3", "($index >= 3)"},
		{"Level IS NULL", "(Level = NULL)"},
		{"Level IS NOT NULL", "(Level != NULL)"},
		{"Id IN (1, 2, 3)", "(((Id = 1) OR (Id = 2)) OR (Id = 3))"},
		{"Id NOT IN (1)", "NOT (Id = 1)"},
		{"Id BETWEEN 1 AND 5", "((Id >= 1) AND (Id <= 5))"},
		{"Id NOT BETWEEN 1 AND 5 OR Flag = TRUE", "(NOT ((Id >= 1) AND (Id <= 5)) OR (Flag = TRUE))"},
		{"Id = -9223372036854775808", "(Id = -9223372036854775808)"},
		{"Big = 18446744073709551615", "(Big = 18446744073709551615)"},
	}

	for _, tt := range tests {
		e, err := ParseExpr(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		if got := e.String(); got != tt.want {
			t.Errorf("input %q: expected %s, got %s", tt.input, tt.want, got)
		}
	}
}

func TestParseExprLiteralTypes(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"42", int64(42)},
		{"-42", int64(-42)},
		{"4.5", 4.5},
		{"'s'", "s"},
		{"true", true},
		{"NULL", nil},
	}
	for _, tt := range tests {
		e, err := ParseExpr(tt.input)
		if err != nil {
			t.Fatalf("input %q: unexpected error: %v", tt.input, err)
		}
		c, ok := e.(expr.Const)
		if !ok {
			t.Fatalf("input %q: expected Const, got %T", tt.input, e)
		}
		if c.Value != tt.want {
			t.Errorf("input %q: expected %#v, got %#v", tt.input, tt.want, c.Value)
		}
	}
}

func TestParseList(t *testing.T) {
	list, err := ParseList("Id, Name, Level * 2, $index, *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []expr.Expr{expr.Get("Id"), expr.Get("Name"), expr.Mul(expr.Get("Level"), expr.Lit(2)), expr.Index(), expr.Item()}
	if len(list) != len(want) {
		t.Fatalf("expected %d expressions, got %d", len(want), len(list))
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("column %d: expected %s, got %s", i, want[i], list[i])
		}
	}

	if list, err := ParseList("  "); err != nil || list != nil {
		t.Errorf("blank list: expected nil, nil; got %v, %v", list, err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"Id =",
		"(Id = 1",
		"Id = 1)",
		"Id IS 3",
		"Id IN 1, 2",
		"Id BETWEEN 1 OR 2",
		"Id NOT LIKE 'x'",
		"$row > 1",
		"$",
		"count(Id)",
		"Id # 2",
		"Name = 'open",
		"Id Name",
	}

	for _, input := range tests {
		_, err := ParseExpr(input)
		if err == nil {
			t.Errorf("input %q: expected error", input)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("input %q: expected *ParseError, got %T", input, err)
		}
		if !errors.Is(err, perrors.ErrParse) {
			t.Errorf("input %q: expected PARSE_ERROR, got %v", input, err)
		}
	}

	if _, err := ParseList("Id,"); err == nil {
		t.Error("expected error for trailing comma")
	}
}
