// Package parser builds the typed AST from a token stream. Statement
// nesting rules are enforced structurally here: an illegal tag for the
// current context is a parse error, not a render error.
package parser

import (
	"fmt"
	"strings"

	"github.com/lysine-go/lysine/lexer"
	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/value"
)

// Error is a parse failure with a source position and, when known, the
// token class that was expected.
type Error struct {
	Message  string
	Expected string
	Line     int
	Column   int
}

func (e *Error) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("parse error at %d:%d: %s (expected %s)", e.Line, e.Column, e.Message, e.Expected)
	}
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

type parser struct {
	stream *lexer.TokenStream
	tpl    *nodes.Template

	// Nesting context. Macro bodies save and reset these so loop and
	// block legality never leaks across a macro boundary.
	blockDepth int
	forDepth   int
	inMacro    bool

	// Preamble state: extends/import are only legal before content.
	sawContent bool

	// A tag end delimiter carrying a trim marker strips leading
	// whitespace from the next text node.
	trimNext bool
}

// Parse parses template source into an immutable AST.
func Parse(name, source string) (*nodes.Template, error) {
	stream, err := lexer.Tokenize(source)
	if err != nil {
		if lerr, ok := err.(*lexer.Error); ok {
			return nil, &Error{Message: lerr.Message, Line: lerr.Line, Column: lerr.Column}
		}
		return nil, err
	}

	p := &parser{
		stream: stream,
		tpl: &nodes.Template{
			Name:   name,
			Blocks: make(map[string]*nodes.BlockStmt),
			Macros: make(map[string]*nodes.MacroDef),
		},
	}

	body, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "" {
		return nil, p.errorAt(p.stream.Current(), fmt.Sprintf("unexpected tag `%s` outside of its enclosing statement", terminator))
	}
	p.tpl.Body = body
	return p.tpl, nil
}

func (p *parser) errorAt(tok lexer.Token, msg string) *Error {
	return &Error{Message: msg, Line: tok.Line, Column: tok.Column}
}

func (p *parser) expectedAt(tok lexer.Token, expected string) *Error {
	return &Error{
		Message:  fmt.Sprintf("unexpected %s", tok.Type),
		Expected: expected,
		Line:     tok.Line,
		Column:   tok.Column,
	}
}

func (p *parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	tok := p.stream.Current()
	if tok.Type != tt {
		return tok, p.expectedAt(tok, tt.String())
	}
	return p.stream.Next(), nil
}

func (p *parser) expectName() (lexer.Token, error) {
	return p.expect(lexer.TokenName)
}

func (p *parser) expectKeyword(word string) error {
	tok := p.stream.Current()
	if tok.Type != lexer.TokenName || tok.Value != word {
		return p.expectedAt(tok, fmt.Sprintf("`%s`", word))
	}
	p.stream.Next()
	return nil
}

func pos(tok lexer.Token) nodes.Position {
	return nodes.Position{Line: tok.Line, Column: tok.Column}
}

// applyTrimEnd marks the last text node of body so the renderer strips its
// trailing whitespace. Trim markers shape render-time output; nothing is
// deleted here.
func applyTrimEnd(body []nodes.Stmt) {
	if len(body) == 0 {
		return
	}
	if text, ok := body[len(body)-1].(*nodes.TextStmt); ok {
		text.TrimEnd = true
	}
}

// parseNodes parses statements until EOF or until a block tag naming one of
// the given terminators. For a terminator, the stream is left positioned
// right after the terminator's name token and the name is returned.
func (p *parser) parseNodes(until ...string) ([]nodes.Stmt, string, error) {
	var body []nodes.Stmt

	appendStmt := func(s nodes.Stmt) {
		body = append(body, s)
	}

	for {
		tok := p.stream.Current()
		switch tok.Type {
		case lexer.TokenEOF:
			if len(until) > 0 {
				return nil, "", p.errorAt(tok, fmt.Sprintf("unexpected end of template, expected one of: %s", strings.Join(until, ", ")))
			}
			return body, "", nil

		case lexer.TokenText:
			p.stream.Next()
			text := &nodes.TextStmt{Text: tok.Value, TrimStart: p.trimNext}
			text.Pos = pos(tok)
			p.trimNext = false
			if strings.TrimSpace(tok.Value) != "" {
				p.sawContent = true
			}
			appendStmt(text)

		case lexer.TokenCommentStart:
			p.stream.Next()
			if tok.Trim {
				applyTrimEnd(body)
			}
			end, err := p.expect(lexer.TokenCommentEnd)
			if err != nil {
				return nil, "", err
			}
			p.trimNext = end.Trim
			comment := &nodes.CommentStmt{}
			comment.Pos = pos(tok)
			appendStmt(comment)

		case lexer.TokenVariableStart:
			p.stream.Next()
			if tok.Trim {
				applyTrimEnd(body)
			}
			stmt, err := p.parseOutput(tok)
			if err != nil {
				return nil, "", err
			}
			p.sawContent = true
			appendStmt(stmt)

		case lexer.TokenBlockStart:
			p.stream.Next()
			if tok.Trim {
				applyTrimEnd(body)
			}
			nameTok, err := p.expectName()
			if err != nil {
				return nil, "", err
			}
			for _, u := range until {
				if nameTok.Value == u {
					return body, u, nil
				}
			}
			stmt, err := p.parseStatement(nameTok)
			if err != nil {
				return nil, "", err
			}
			if stmt != nil {
				appendStmt(stmt)
			}

		default:
			return nil, "", p.errorAt(tok, fmt.Sprintf("unexpected token %s", tok.Type))
		}
	}
}

// finishTag consumes the closing %} and records its trim marker.
func (p *parser) finishTag() error {
	end, err := p.expect(lexer.TokenBlockEnd)
	if err != nil {
		return err
	}
	p.trimNext = end.Trim
	return nil
}

// parseOutput parses the interior of a {{ ... }} tag.
func (p *parser) parseOutput(start lexer.Token) (nodes.Stmt, error) {
	cur := p.stream.Current()

	// {{ super() }} is a placeholder statement, not an expression.
	if cur.Type == lexer.TokenName && cur.Value == "super" && p.stream.Peek().Type == lexer.TokenLeftParen {
		if p.blockDepth == 0 || p.inMacro {
			return nil, p.errorAt(cur, "super() is only allowed inside a block")
		}
		p.stream.Next()
		if _, err := p.expect(lexer.TokenLeftParen); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRightParen); err != nil {
			return nil, err
		}
		end, err := p.expect(lexer.TokenVariableEnd)
		if err != nil {
			return nil, err
		}
		p.trimNext = end.Trim
		super := &nodes.SuperStmt{}
		super.Pos = pos(start)
		return super, nil
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	end, err := p.expect(lexer.TokenVariableEnd)
	if err != nil {
		return nil, err
	}
	p.trimNext = end.Trim

	if call, ok := expr.(*nodes.MacroCallExpr); ok {
		stmt := &nodes.MacroCallStmt{Call: call}
		stmt.Pos = pos(start)
		return stmt, nil
	}
	out := &nodes.OutputStmt{Expr: expr}
	out.Pos = pos(start)
	return out, nil
}

func (p *parser) atTopLevel() bool {
	return p.blockDepth == 0 && p.forDepth == 0 && !p.inMacro
}

// parseStatement dispatches on a {% tag %} name. The name token is already
// consumed. Returns a nil statement for tags absorbed into the template
// header (extends, import, macro).
func (p *parser) parseStatement(nameTok lexer.Token) (nodes.Stmt, error) {
	name := nameTok.Value
	switch name {
	case "extends":
		return nil, p.parseExtends(nameTok)
	case "import":
		return nil, p.parseImport(nameTok)
	case "macro":
		return nil, p.parseMacro(nameTok)
	case "include":
		return p.parseInclude(nameTok)
	case "block":
		return p.parseBlock(nameTok)
	case "if":
		return p.parseIf(nameTok)
	case "for":
		return p.parseFor(nameTok)
	case "set", "set_global":
		return p.parseSet(nameTok)
	case "filter":
		return p.parseFilterSection(nameTok)
	case "raw":
		return p.parseRaw(nameTok)
	case "break", "continue":
		if p.forDepth == 0 {
			return nil, p.errorAt(nameTok, fmt.Sprintf("`%s` is only allowed inside a for loop", name))
		}
		if err := p.finishTag(); err != nil {
			return nil, err
		}
		if name == "break" {
			b := &nodes.BreakStmt{}
			b.Pos = pos(nameTok)
			return b, nil
		}
		c := &nodes.ContinueStmt{}
		c.Pos = pos(nameTok)
		return c, nil
	default:
		return nil, p.errorAt(nameTok, fmt.Sprintf("unknown tag `%s`", name))
	}
}

func (p *parser) parseExtends(nameTok lexer.Token) error {
	if !p.atTopLevel() || p.sawContent {
		return p.errorAt(nameTok, "extends must appear before any content, at the top of the template")
	}
	if p.tpl.Parent != "" {
		return p.errorAt(nameTok, "a template can only extend one parent")
	}
	target, err := p.expect(lexer.TokenString)
	if err != nil {
		return err
	}
	p.tpl.Parent = target.Value
	return p.finishTag()
}

func (p *parser) parseImport(nameTok lexer.Token) error {
	if !p.atTopLevel() || p.sawContent {
		return p.errorAt(nameTok, "import must appear before any content, at the top of the template")
	}
	target, err := p.expect(lexer.TokenString)
	if err != nil {
		return err
	}
	if err := p.expectKeyword("as"); err != nil {
		return err
	}
	ns, err := p.expectName()
	if err != nil {
		return err
	}
	p.tpl.Imports = append(p.tpl.Imports, nodes.Import{Template: target.Value, Namespace: ns.Value})
	return p.finishTag()
}

func (p *parser) parseInclude(nameTok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.IncludeStmt{}
	stmt.Pos = pos(nameTok)

	cur := p.stream.Current()
	switch cur.Type {
	case lexer.TokenString:
		p.stream.Next()
		stmt.Candidates = []string{cur.Value}
	case lexer.TokenLeftBracket:
		p.stream.Next()
		for {
			if p.stream.SkipIf(lexer.TokenRightBracket) {
				break
			}
			s, err := p.expect(lexer.TokenString)
			if err != nil {
				return nil, err
			}
			stmt.Candidates = append(stmt.Candidates, s.Value)
			if !p.stream.SkipIf(lexer.TokenComma) {
				if _, err := p.expect(lexer.TokenRightBracket); err != nil {
					return nil, err
				}
				break
			}
		}
		if len(stmt.Candidates) == 0 {
			return nil, p.errorAt(cur, "include candidate list cannot be empty")
		}
	default:
		return nil, p.expectedAt(cur, "a template name or a list of template names")
	}

	if p.stream.SkipIfName("ignore") {
		if err := p.expectKeyword("missing"); err != nil {
			return nil, err
		}
		stmt.IgnoreMissing = true
	}
	if err := p.finishTag(); err != nil {
		return nil, err
	}
	p.sawContent = true
	return stmt, nil
}

func (p *parser) parseBlock(nameTok lexer.Token) (nodes.Stmt, error) {
	if p.inMacro {
		return nil, p.errorAt(nameTok, "blocks are not allowed inside macros")
	}
	ident, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if _, exists := p.tpl.Blocks[ident.Value]; exists {
		return nil, p.errorAt(ident, fmt.Sprintf("block `%s` is defined twice", ident.Value))
	}
	if err := p.finishTag(); err != nil {
		return nil, err
	}

	p.blockDepth++
	body, _, err := p.parseNodes("endblock")
	p.blockDepth--
	if err != nil {
		return nil, err
	}

	// endblock takes an optional repeat of the block name.
	if closing := p.stream.Current(); closing.Type == lexer.TokenName {
		p.stream.Next()
		if closing.Value != ident.Value {
			return nil, p.errorAt(closing, fmt.Sprintf("endblock `%s` does not match block `%s`", closing.Value, ident.Value))
		}
	}
	if err := p.finishTag(); err != nil {
		return nil, err
	}

	block := &nodes.BlockStmt{Name: ident.Value, Body: body}
	block.Pos = pos(nameTok)
	p.tpl.Blocks[ident.Value] = block
	p.sawContent = true
	return block, nil
}

func (p *parser) parseIf(nameTok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.IfStmt{}
	stmt.Pos = pos(nameTok)
	p.sawContent = true

	for {
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.finishTag(); err != nil {
			return nil, err
		}
		body, terminator, err := p.parseNodes("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		stmt.Branches = append(stmt.Branches, nodes.IfBranch{Cond: cond, Body: body})

		switch terminator {
		case "elif":
			continue
		case "else":
			if err := p.finishTag(); err != nil {
				return nil, err
			}
			elseBody, _, err := p.parseNodes("endif")
			if err != nil {
				return nil, err
			}
			stmt.Else = elseBody
			if err := p.finishTag(); err != nil {
				return nil, err
			}
			return stmt, nil
		case "endif":
			if err := p.finishTag(); err != nil {
				return nil, err
			}
			return stmt, nil
		}
	}
}

func (p *parser) parseFor(nameTok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.ForStmt{}
	stmt.Pos = pos(nameTok)
	p.sawContent = true

	first, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if p.stream.SkipIf(lexer.TokenComma) {
		second, err := p.expectName()
		if err != nil {
			return nil, err
		}
		stmt.Key = first.Value
		stmt.Value = second.Value
	} else {
		stmt.Value = first.Value
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	iterable, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt.Iterable = iterable
	if err := p.finishTag(); err != nil {
		return nil, err
	}

	p.forDepth++
	body, terminator, err := p.parseNodes("else", "endfor")
	p.forDepth--
	if err != nil {
		return nil, err
	}
	stmt.Body = body

	if terminator == "else" {
		if err := p.finishTag(); err != nil {
			return nil, err
		}
		elseBody, _, err := p.parseNodes("endfor")
		if err != nil {
			return nil, err
		}
		stmt.Else = elseBody
	}
	return stmt, p.finishTag()
}

func (p *parser) parseSet(nameTok lexer.Token) (nodes.Stmt, error) {
	ident, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenAssign); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt := &nodes.SetStmt{Name: ident.Value, Value: expr, Global: nameTok.Value == "set_global"}
	stmt.Pos = pos(nameTok)
	p.sawContent = true
	return stmt, p.finishTag()
}

func (p *parser) parseFilterSection(nameTok lexer.Token) (nodes.Stmt, error) {
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
	if err := p.finishTag(); err != nil {
		return nil, err
	}
	body, _, err := p.parseNodes("endfilter")
	if err != nil {
		return nil, err
	}
	if err := p.finishTag(); err != nil {
		return nil, err
	}
	stmt := &nodes.FilterSectionStmt{Filter: call, Body: body}
	stmt.Pos = pos(nameTok)
	p.sawContent = true
	return stmt, nil
}

// parseRaw parses {% raw %} verbatim {% endraw %}. The lexer has already
// bundled the body into a single text token with no tag recognition.
func (p *parser) parseRaw(nameTok lexer.Token) (nodes.Stmt, error) {
	if err := p.finishTag(); err != nil {
		return nil, err
	}
	stmt := &nodes.RawStmt{TrimStart: p.trimNext}
	stmt.Pos = pos(nameTok)
	p.trimNext = false

	body, err := p.expect(lexer.TokenText)
	if err != nil {
		return nil, err
	}
	stmt.Text = body.Value

	closing, err := p.expect(lexer.TokenBlockStart)
	if err != nil {
		return nil, err
	}
	stmt.TrimEnd = closing.Trim
	if err := p.expectKeyword("endraw"); err != nil {
		return nil, err
	}
	if err := p.finishTag(); err != nil {
		return nil, err
	}
	p.sawContent = true
	return stmt, nil
}

func (p *parser) parseMacro(nameTok lexer.Token) error {
	if !p.atTopLevel() {
		return p.errorAt(nameTok, "macros can only be defined at the top level of a template")
	}
	ident, err := p.expectName()
	if err != nil {
		return err
	}
	if _, exists := p.tpl.Macros[ident.Value]; exists {
		return p.errorAt(ident, fmt.Sprintf("macro `%s` is defined twice", ident.Value))
	}

	def := &nodes.MacroDef{Name: ident.Value}
	def.Pos = pos(nameTok)

	if _, err := p.expect(lexer.TokenLeftParen); err != nil {
		return err
	}
	for {
		if p.stream.SkipIf(lexer.TokenRightParen) {
			break
		}
		param, err := p.expectName()
		if err != nil {
			return err
		}
		mp := nodes.MacroParam{Name: param.Value}
		if p.stream.SkipIf(lexer.TokenAssign) {
			lit, err := p.parseLiteralValue()
			if err != nil {
				return err
			}
			mp.Default = &lit
		}
		def.Params = append(def.Params, mp)
		if !p.stream.SkipIf(lexer.TokenComma) {
			if _, err := p.expect(lexer.TokenRightParen); err != nil {
				return err
			}
			break
		}
	}
	if err := p.finishTag(); err != nil {
		return err
	}

	// Macro bodies are parsed in a fresh nesting context: block and loop
	// legality never crosses the macro boundary.
	savedBlock, savedFor := p.blockDepth, p.forDepth
	p.blockDepth, p.forDepth, p.inMacro = 0, 0, true
	body, _, err := p.parseNodes("endmacro")
	p.blockDepth, p.forDepth, p.inMacro = savedBlock, savedFor, false
	if err != nil {
		return err
	}
	def.Body = body

	// endmacro takes an optional repeat of the macro name.
	if closing := p.stream.Current(); closing.Type == lexer.TokenName {
		p.stream.Next()
		if closing.Value != ident.Value {
			return p.errorAt(closing, fmt.Sprintf("endmacro `%s` does not match macro `%s`", closing.Value, ident.Value))
		}
	}
	if err := p.finishTag(); err != nil {
		return err
	}
	p.tpl.Macros[ident.Value] = def
	p.sawContent = true
	return nil
}

// parseLiteralValue parses a literal usable as a macro parameter default.
func (p *parser) parseLiteralValue() (value.Value, error) {
	tok := p.stream.Current()
	switch tok.Type {
	case lexer.TokenString:
		p.stream.Next()
		return value.String(tok.Value), nil
	case lexer.TokenInteger, lexer.TokenFloat:
		return p.parseNumberLiteral(false)
	case lexer.TokenSub:
		p.stream.Next()
		return p.parseNumberLiteral(true)
	case lexer.TokenName:
		switch tok.Value {
		case "true":
			p.stream.Next()
			return value.Bool(true), nil
		case "false":
			p.stream.Next()
			return value.Bool(false), nil
		}
	}
	return value.Null(), p.expectedAt(tok, "a literal")
}
