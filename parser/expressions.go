package parser

import (
	"fmt"
	"strconv"

	"github.com/lysine-go/lysine/lexer"
	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/value"
)

// Precedence, loosest binding first: flat left-to-right and/or, then
// not/membership, then a single non-chaining comparison, then `~` concat or
// the arithmetic chain (+ - over * / %), then atoms. Filters attach to the
// concat/arithmetic level; parenthesized groups restart from the top.

// ParseExpression-level entry point.
func (p *parser) parseExpression() (nodes.Expr, error) {
	return p.parseLogic()
}

// parseLogic handles `and`/`or` with no precedence distinction between
// them: evaluation is strictly left to right.
func (p *parser) parseLogic() (nodes.Expr, error) {
	left, err := p.parseNotOrMembership()
	if err != nil {
		return nil, err
	}
	for {
		cur := p.stream.Current()
		if cur.Type != lexer.TokenName || (cur.Value != "and" && cur.Value != "or") {
			return left, nil
		}
		p.stream.Next()
		right, err := p.parseNotOrMembership()
		if err != nil {
			return nil, err
		}
		op := nodes.OpAnd
		if cur.Value == "or" {
			op = nodes.OpOr
		}
		bin := &nodes.BinaryOp{Op: op, Left: left, Right: right}
		bin.Pos = pos(cur)
		left = bin
	}
}

// parseNotOrMembership handles unary `not` and the `in` / `not in` forms.
func (p *parser) parseNotOrMembership() (nodes.Expr, error) {
	cur := p.stream.Current()
	if cur.Type == lexer.TokenName && cur.Value == "not" {
		p.stream.Next()
		inner, err := p.parseNotOrMembership()
		if err != nil {
			return nil, err
		}
		not := &nodes.NotExpr{Expr: inner}
		not.Pos = pos(cur)
		return not, nil
	}

	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	cur = p.stream.Current()
	if cur.Type == lexer.TokenName && cur.Value == "not" && p.stream.Peek().Type == lexer.TokenName && p.stream.Peek().Value == "in" {
		p.stream.Next()
		p.stream.Next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		bin := &nodes.BinaryOp{Op: nodes.OpNotIn, Left: left, Right: right}
		bin.Pos = pos(cur)
		return bin, nil
	}
	if cur.Type == lexer.TokenName && cur.Value == "in" {
		p.stream.Next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		bin := &nodes.BinaryOp{Op: nodes.OpIn, Left: left, Right: right}
		bin.Pos = pos(cur)
		return bin, nil
	}
	return left, nil
}

var comparisonOps = map[string]nodes.BinaryOpKind{
	"==": nodes.OpEq, "!=": nodes.OpNe,
	"<": nodes.OpLt, ">": nodes.OpGt,
	"<=": nodes.OpLe, ">=": nodes.OpGe,
}

// parseComparison allows at most one comparison operator: comparisons do
// not chain.
func (p *parser) parseComparison() (nodes.Expr, error) {
	left, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	cur := p.stream.Current()
	if cur.Type != lexer.TokenComparison {
		return left, nil
	}
	p.stream.Next()
	right, err := p.parseFiltered()
	if err != nil {
		return nil, err
	}
	if next := p.stream.Current(); next.Type == lexer.TokenComparison {
		return nil, p.errorAt(next, "comparison operators cannot be chained")
	}
	bin := &nodes.BinaryOp{Op: comparisonOps[cur.Value], Left: left, Right: right}
	bin.Pos = pos(cur)
	return bin, nil
}

// parseFiltered parses a concat or arithmetic expression plus any trailing
// filter chain, applied left to right.
func (p *parser) parseFiltered() (nodes.Expr, error) {
	base, err := p.parseConcatOrMath()
	if err != nil {
		return nil, err
	}
	if p.stream.Current().Type != lexer.TokenPipe {
		return base, nil
	}
	filtered := &nodes.Filtered{Expr: base}
	filtered.Pos = base.Position()
	for p.stream.SkipIf(lexer.TokenPipe) {
		fname, err := p.expectName()
		if err != nil {
			return nil, err
		}
		call := nodes.FilterCall{Pos: pos(fname), Name: fname.Value}
		if p.stream.Current().Type == lexer.TokenLeftParen {
			call.Kwargs, err = p.parseKwargs()
			if err != nil {
				return nil, err
			}
		}
		filtered.Filters = append(filtered.Filters, call)
	}
	return filtered, nil
}

// parseConcatOrMath parses an additive chain, then promotes it to a `~`
// concatenation when a tilde follows. Concat operands must be string
// producers: literals, identifiers or calls; it is not part of the
// arithmetic precedence chain.
func (p *parser) parseConcatOrMath() (nodes.Expr, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.stream.Current().Type != lexer.TokenTilde {
		return first, nil
	}
	concat := &nodes.Concat{Parts: []nodes.Expr{first}}
	concat.Pos = first.Position()
	for p.stream.SkipIf(lexer.TokenTilde) {
		part, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		concat.Parts = append(concat.Parts, part)
	}
	for _, part := range concat.Parts {
		if err := checkConcatOperand(part); err != nil {
			return nil, err
		}
	}
	return concat, nil
}

func checkConcatOperand(e nodes.Expr) error {
	switch e.(type) {
	case *nodes.Literal, *nodes.Ident, *nodes.FunctionCall, *nodes.MacroCallExpr, *nodes.Filtered:
		return nil
	}
	return &Error{
		Message:  "`~` operands must be literals, identifiers or calls",
		Line:     e.Position().Line,
		Column:   e.Position().Column,
	}
}

func (p *parser) parseAdditive() (nodes.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		cur := p.stream.Current()
		var op nodes.BinaryOpKind
		switch cur.Type {
		case lexer.TokenAdd:
			op = nodes.OpAdd
		case lexer.TokenSub:
			op = nodes.OpSub
		default:
			return left, nil
		}
		p.stream.Next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		bin := &nodes.BinaryOp{Op: op, Left: left, Right: right}
		bin.Pos = pos(cur)
		left = bin
	}
}

func (p *parser) parseMultiplicative() (nodes.Expr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		cur := p.stream.Current()
		var op nodes.BinaryOpKind
		switch cur.Type {
		case lexer.TokenMul:
			op = nodes.OpMul
		case lexer.TokenDiv:
			op = nodes.OpDiv
		case lexer.TokenMod:
			op = nodes.OpMod
		default:
			return left, nil
		}
		p.stream.Next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		bin := &nodes.BinaryOp{Op: op, Left: left, Right: right}
		bin.Pos = pos(cur)
		left = bin
	}
}

// parseAtom parses the highest-binding forms: parenthesized groups,
// literals, array literals, function and macro calls, identifiers and
// test expressions.
func (p *parser) parseAtom() (nodes.Expr, error) {
	cur := p.stream.Current()
	switch cur.Type {
	case lexer.TokenLeftParen:
		p.stream.Next()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRightParen); err != nil {
			return nil, err
		}
		return inner, nil

	case lexer.TokenSub:
		p.stream.Next()
		val, err := p.parseNumberLiteral(true)
		if err != nil {
			return nil, err
		}
		lit := &nodes.Literal{Val: val}
		lit.Pos = pos(cur)
		return lit, nil

	case lexer.TokenInteger, lexer.TokenFloat:
		val, err := p.parseNumberLiteral(false)
		if err != nil {
			return nil, err
		}
		lit := &nodes.Literal{Val: val}
		lit.Pos = pos(cur)
		return lit, nil

	case lexer.TokenString:
		p.stream.Next()
		lit := &nodes.Literal{Val: value.String(cur.Value)}
		lit.Pos = pos(cur)
		return lit, nil

	case lexer.TokenLeftBracket:
		return p.parseArrayLit()

	case lexer.TokenName:
		switch cur.Value {
		case "true", "false":
			p.stream.Next()
			lit := &nodes.Literal{Val: value.Bool(cur.Value == "true")}
			lit.Pos = pos(cur)
			return lit, nil
		}
		return p.parseNameExpr()
	}
	return nil, p.expectedAt(cur, "an expression")
}

func (p *parser) parseNumberLiteral(negative bool) (value.Value, error) {
	tok := p.stream.Current()
	switch tok.Type {
	case lexer.TokenInteger:
		p.stream.Next()
		n, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return value.Null(), p.errorAt(tok, fmt.Sprintf("invalid integer literal %q", tok.Value))
		}
		if negative {
			n = -n
		}
		return value.Int(n), nil
	case lexer.TokenFloat:
		p.stream.Next()
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return value.Null(), p.errorAt(tok, fmt.Sprintf("invalid float literal %q", tok.Value))
		}
		if negative {
			f = -f
		}
		return value.Float(f), nil
	}
	return value.Null(), p.expectedAt(tok, "a number")
}

func (p *parser) parseArrayLit() (nodes.Expr, error) {
	start, err := p.expect(lexer.TokenLeftBracket)
	if err != nil {
		return nil, err
	}
	arr := &nodes.ArrayLit{}
	arr.Pos = pos(start)
	for {
		if p.stream.SkipIf(lexer.TokenRightBracket) {
			return arr, nil
		}
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, item)
		if !p.stream.SkipIf(lexer.TokenComma) {
			if _, err := p.expect(lexer.TokenRightBracket); err != nil {
				return nil, err
			}
			return arr, nil
		}
	}
}

// parseNameExpr parses the expressions that start with an identifier:
// plain identifiers with dotted and bracket access, function calls,
// ns::name macro calls, and `is` / `is not` tests.
func (p *parser) parseNameExpr() (nodes.Expr, error) {
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}

	switch p.stream.Current().Type {
	case lexer.TokenDoubleColon:
		p.stream.Next()
		macroName, err := p.expectName()
		if err != nil {
			return nil, err
		}
		kwargs, err := p.parseKwargs()
		if err != nil {
			return nil, err
		}
		call := &nodes.MacroCallExpr{Namespace: name.Value, Name: macroName.Value, Kwargs: kwargs}
		call.Pos = pos(name)
		return call, nil

	case lexer.TokenLeftParen:
		kwargs, err := p.parseKwargs()
		if err != nil {
			return nil, err
		}
		call := &nodes.FunctionCall{Name: name.Value, Kwargs: kwargs}
		call.Pos = pos(name)
		return call, nil
	}

	ident := &nodes.Ident{Path: []nodes.Access{{Name: name.Value}}}
	ident.Pos = pos(name)
	for {
		cur := p.stream.Current()
		if cur.Type == lexer.TokenDot {
			p.stream.Next()
			seg := p.stream.Current()
			// Digit runs are valid dotted segments (array indexing).
			if seg.Type != lexer.TokenName && seg.Type != lexer.TokenInteger {
				return nil, p.expectedAt(seg, "an identifier segment")
			}
			p.stream.Next()
			ident.Path = append(ident.Path, nodes.Access{Name: seg.Value})
			continue
		}
		if cur.Type == lexer.TokenLeftBracket {
			p.stream.Next()
			idx, err := p.parseBracketAccessor()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.TokenRightBracket); err != nil {
				return nil, err
			}
			ident.Path = append(ident.Path, nodes.Access{Index: idx})
			continue
		}
		break
	}

	if p.stream.Current().Type == lexer.TokenName && p.stream.Current().Value == "is" {
		return p.parseTest(ident)
	}
	return ident, nil
}

// parseBracketAccessor parses the interior of [...]: an int, a string, or
// a nested dotted identifier.
func (p *parser) parseBracketAccessor() (nodes.Expr, error) {
	cur := p.stream.Current()
	switch cur.Type {
	case lexer.TokenInteger:
		val, err := p.parseNumberLiteral(false)
		if err != nil {
			return nil, err
		}
		lit := &nodes.Literal{Val: val}
		lit.Pos = pos(cur)
		return lit, nil
	case lexer.TokenString:
		p.stream.Next()
		lit := &nodes.Literal{Val: value.String(cur.Value)}
		lit.Pos = pos(cur)
		return lit, nil
	case lexer.TokenName:
		return p.parseNameExpr()
	}
	return nil, p.expectedAt(cur, "an integer, a string or an identifier")
}

// parseTest parses `ident is [not] name(args...)`. Arguments are
// positional.
func (p *parser) parseTest(subject *nodes.Ident) (nodes.Expr, error) {
	isTok, err := p.expectName() // consume `is`
	if err != nil {
		return nil, err
	}
	test := &nodes.TestExpr{Subject: subject}
	test.Pos = pos(isTok)
	if p.stream.SkipIfName("not") {
		test.Negated = true
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	test.Name = name.Value

	if p.stream.SkipIf(lexer.TokenLeftParen) {
		for {
			if p.stream.SkipIf(lexer.TokenRightParen) {
				break
			}
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			test.Args = append(test.Args, arg)
			if !p.stream.SkipIf(lexer.TokenComma) {
				if _, err := p.expect(lexer.TokenRightParen); err != nil {
					return nil, err
				}
				break
			}
		}
	}
	return test, nil
}

// parseKwargs parses a parenthesized keyword-argument list. A trailing
// comma is tolerated; argument expressions evaluate eagerly at call time.
func (p *parser) parseKwargs() ([]nodes.Kwarg, error) {
	if _, err := p.expect(lexer.TokenLeftParen); err != nil {
		return nil, err
	}
	var kwargs []nodes.Kwarg
	for {
		if p.stream.SkipIf(lexer.TokenRightParen) {
			return kwargs, nil
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenAssign); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		kwargs = append(kwargs, nodes.Kwarg{Name: name.Value, Value: val})
		if !p.stream.SkipIf(lexer.TokenComma) {
			if _, err := p.expect(lexer.TokenRightParen); err != nil {
				return nil, err
			}
			return kwargs, nil
		}
	}
}
