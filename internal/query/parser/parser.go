package parser

import (
	"fmt"
	"strconv"
	"strings"

	perrors "github.com/arkilian/protoq/internal/errors"
	"github.com/arkilian/protoq/pkg/expr"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Unwrap lets errors.Is match perrors.ErrParse.
func (e *ParseError) Unwrap() error { return perrors.ErrParse }

// Parser parses predicate and selector text into expressions.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// ParseExpr parses a single expression such as "Id % 2 = 0 AND Name != 'x'".
// Identifiers become field names, resolved later against the queried type.
func ParseExpr(input string) (expr.Expr, error) {
	p := NewParser(input)
	e, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseList parses a comma-separated list of expressions. Blank input
// yields an empty list.
func ParseList(input string) ([]expr.Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	p := NewParser(input)
	var list []expr.Expr
	for {
		e, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.curTokenIs(TokenError) {
		msg = fmt.Sprintf("%s: invalid input", msg)
	}
	return &ParseError{Message: msg, Position: p.curToken.Pos, Token: p.curToken}
}

func (p *Parser) expectEOF() error {
	if !p.curTokenIs(TokenEOF) {
		return p.errorf("unexpected trailing input")
	}
	return nil
}

// expect consumes the current token if it has type t.
func (p *Parser) expect(t TokenType, context string) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s %s", t, context)
	}
	p.nextToken()
	return nil
}

// Operator precedence levels
const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
)

// getPrecedence returns the precedence of the current token.
func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe, TokenIs, TokenIn, TokenBetween:
		return precCompare
	case TokenNot:
		// NOT IN / NOT BETWEEN
		return precCompare
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash, TokenPercent:
		return precMul
	default:
		return precLowest
	}
}

// parseExpression parses an expression with operator precedence.
func (p *Parser) parseExpression(precedence int) (expr.Expr, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}

	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefixExpression() (expr.Expr, error) {
	switch p.curToken.Type {
	case TokenIdent:
		name := p.curToken.Literal
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			return nil, p.errorf("function calls are not supported (%s)", name)
		}
		return expr.Get(name), nil
	case TokenVariable:
		return p.parseVariable()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		val := p.curToken.Literal
		p.nextToken()
		return expr.Lit(val), nil
	case TokenNull:
		p.nextToken()
		return expr.Lit(nil), nil
	case TokenTrue, TokenFalse:
		val := p.curTokenIs(TokenTrue)
		p.nextToken()
		return expr.Lit(val), nil
	case TokenStar:
		p.nextToken()
		return expr.Item(), nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenNot:
		p.nextToken()
		x, err := p.parseExpression(precNot)
		if err != nil {
			return nil, err
		}
		return expr.NotOf(x), nil
	case TokenMinus:
		return p.parseUnaryMinus()
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

func (p *Parser) parseVariable() (expr.Expr, error) {
	name := p.curToken.Literal
	switch name {
	case "index":
		p.nextToken()
		return expr.Index(), nil
	case "item":
		p.nextToken()
		return expr.Item(), nil
	default:
		return nil, p.errorf("unknown variable $%s", name)
	}
}

func (p *Parser) parseNumber() (expr.Expr, error) {
	literal := p.curToken.Literal

	if !strings.ContainsAny(literal, ".eE") {
		if val, err := strconv.ParseInt(literal, 10, 64); err == nil {
			p.nextToken()
			return expr.Lit(val), nil
		}
		if val, err := strconv.ParseUint(literal, 10, 64); err == nil {
			p.nextToken()
			return expr.Lit(val), nil
		}
	}

	val, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	p.nextToken()
	return expr.Lit(val), nil
}

func (p *Parser) parseGroupedExpression() (expr.Expr, error) {
	p.nextToken() // Skip (

	e, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen, "to close group"); err != nil {
		return nil, err
	}
	return e, nil
}

// parseUnaryMinus folds minus into numeric literals and negates anything
// else.
func (p *Parser) parseUnaryMinus() (expr.Expr, error) {
	p.nextToken() // Skip -

	x, err := p.parseExpression(precUnary)
	if err != nil {
		return nil, err
	}
	if c, ok := x.(expr.Const); ok {
		switch v := c.Value.(type) {
		case int64:
			return expr.Lit(-v), nil
		case float64:
			return expr.Lit(-v), nil
		case uint64:
			if v == 1<<63 {
				return expr.Lit(int64(-1 << 63)), nil
			}
		}
	}
	return expr.Negate(x), nil
}

func (p *Parser) parseInfixExpression(left expr.Expr) (expr.Expr, error) {
	switch p.curToken.Type {
	case TokenAnd, TokenOr,
		TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return p.parseBinaryExpression(left)
	case TokenIs:
		return p.parseIsExpression(left)
	case TokenIn:
		return p.parseInExpression(left, false)
	case TokenBetween:
		return p.parseBetweenExpression(left, false)
	case TokenNot:
		return p.parseNotInfix(left)
	default:
		return left, nil
	}
}

func (p *Parser) parseBinaryExpression(left expr.Expr) (expr.Expr, error) {
	op := p.curToken.Type
	precedence := p.getPrecedence()
	p.nextToken()

	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}

	switch op {
	case TokenAnd:
		return expr.And(left, right), nil
	case TokenOr:
		return expr.Or(left, right), nil
	case TokenEq:
		return expr.Eq(left, right), nil
	case TokenNe:
		return expr.Ne(left, right), nil
	case TokenLt:
		return expr.Lt(left, right), nil
	case TokenGt:
		return expr.Gt(left, right), nil
	case TokenLe:
		return expr.Le(left, right), nil
	case TokenGe:
		return expr.Ge(left, right), nil
	case TokenPlus:
		return expr.Add(left, right), nil
	case TokenMinus:
		return expr.Sub(left, right), nil
	case TokenStar:
		return expr.Mul(left, right), nil
	case TokenSlash:
		return expr.Div(left, right), nil
	default:
		return expr.Mod(left, right), nil
	}
}

// parseIsExpression parses IS NULL and IS NOT NULL.
func (p *Parser) parseIsExpression(left expr.Expr) (expr.Expr, error) {
	p.nextToken() // Skip IS

	not := false
	if p.curTokenIs(TokenNot) {
		not = true
		p.nextToken()
	}
	if err := p.expect(TokenNull, "after IS"); err != nil {
		return nil, err
	}
	if not {
		return expr.Ne(left, expr.Lit(nil)), nil
	}
	return expr.Eq(left, expr.Lit(nil)), nil
}

// parseInExpression expands x IN (a, b) to x = a OR x = b.
func (p *Parser) parseInExpression(left expr.Expr, not bool) (expr.Expr, error) {
	p.nextToken() // Skip IN

	if err := p.expect(TokenLParen, "after IN"); err != nil {
		return nil, err
	}
	var alts []expr.Expr
	for {
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		alts = append(alts, expr.Eq(left, val))

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRParen, "after IN values"); err != nil {
		return nil, err
	}

	e := expr.Or(alts...)
	if not {
		return expr.NotOf(e), nil
	}
	return e, nil
}

// parseBetweenExpression expands x BETWEEN a AND b to x >= a AND x <= b.
func (p *Parser) parseBetweenExpression(left expr.Expr, not bool) (expr.Expr, error) {
	p.nextToken() // Skip BETWEEN

	low, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenAnd, "in BETWEEN expression"); err != nil {
		return nil, err
	}
	high, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	e := expr.And(expr.Ge(left, low), expr.Le(left, high))
	if not {
		return expr.NotOf(e), nil
	}
	return e, nil
}

// parseNotInfix parses NOT IN and NOT BETWEEN.
func (p *Parser) parseNotInfix(left expr.Expr) (expr.Expr, error) {
	p.nextToken() // Skip NOT

	switch p.curToken.Type {
	case TokenIn:
		return p.parseInExpression(left, true)
	case TokenBetween:
		return p.parseBetweenExpression(left, true)
	default:
		return nil, p.errorf("expected IN or BETWEEN after NOT")
	}
}
