// Package lexer turns template source into a token stream. It is the
// atomic layer of the grammar: each token is consumed without internal
// whitespace skipping, while whitespace between tokens inside tags is
// discarded here so the parser's compound rules never see it.
package lexer

import (
	"fmt"
	"strings"
)

// Error is a lexing failure with a source position.
type Error struct {
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Message)
}

const (
	variableStart = "{{"
	variableEnd   = "}}"
	blockStart    = "{%"
	blockEnd      = "%}"
	commentStart  = "{#"
	commentEnd    = "#}"
)

type lexer struct {
	src    string
	pos    int
	line   int
	col    int
	tokens []Token
}

// Tokenize lexes a full template source.
func Tokenize(source string) (*TokenStream, error) {
	l := &lexer{src: source, line: 1, col: 1}
	if err := l.run(); err != nil {
		return nil, err
	}
	l.tokens = append(l.tokens, Token{Type: TokenEOF, Line: l.line, Column: l.col})
	return NewTokenStream(l.tokens), nil
}

func (l *lexer) errorf(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...), Line: l.line, Column: l.col}
}

// advance moves the cursor n bytes forward, updating line/column.
func (l *lexer) advance(n int) {
	for i := 0; i < n; i++ {
		if l.src[l.pos+i] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
	}
	l.pos += n
}

func (l *lexer) emit(tt TokenType, value string, trim bool) {
	l.tokens = append(l.tokens, Token{Type: tt, Value: value, Line: l.line, Column: l.col, Trim: trim})
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		start := l.pos
		idx := l.findTagStart(l.pos)
		if idx < 0 {
			l.emitText(l.src[start:])
			l.advance(len(l.src) - l.pos)
			return nil
		}
		if idx > start {
			text := l.src[start:idx]
			l.emitText(text)
			l.advance(idx - start)
		}
		switch l.src[l.pos : l.pos+2] {
		case commentStart:
			if err := l.lexComment(); err != nil {
				return err
			}
		case variableStart:
			if err := l.lexTag(TokenVariableStart, TokenVariableEnd, variableEnd); err != nil {
				return err
			}
		case blockStart:
			raw, err := l.lexBlockTag()
			if err != nil {
				return err
			}
			if raw {
				if err := l.lexRawBody(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *lexer) emitText(text string) {
	l.emit(TokenText, text, false)
}

// findTagStart returns the index of the next tag delimiter at or after
// from, or -1.
func (l *lexer) findTagStart(from int) int {
	for {
		i := strings.IndexByte(l.src[from:], '{')
		if i < 0 {
			return -1
		}
		i += from
		if i+1 < len(l.src) {
			switch l.src[i+1] {
			case '{', '%', '#':
				return i
			}
		}
		from = i + 1
	}
}

func (l *lexer) lexComment() error {
	leftTrim := l.pos+2 < len(l.src) && l.src[l.pos+2] == '-'
	l.emit(TokenCommentStart, commentStart, leftTrim)
	skip := 2
	if leftTrim {
		skip = 3
	}
	l.advance(skip)

	end := strings.Index(l.src[l.pos:], commentEnd)
	if end < 0 {
		return l.errorf("unclosed comment tag")
	}
	end += l.pos
	rightTrim := end > l.pos && l.src[end-1] == '-'
	l.advance(end - l.pos)
	l.emit(TokenCommentEnd, commentEnd, rightTrim)
	l.advance(2)
	return nil
}

// lexTag lexes a {{ ... }} or {% ... %} tag into tokens.
func (l *lexer) lexTag(startType, endType TokenType, endDelim string) error {
	leftTrim := l.pos+2 < len(l.src) && l.src[l.pos+2] == '-'
	l.emit(startType, l.src[l.pos:l.pos+2], leftTrim)
	skip := 2
	if leftTrim {
		skip = 3
	}
	l.advance(skip)

	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			l.advance(1)
			continue
		}
		if strings.HasPrefix(l.src[l.pos:], "-"+endDelim) {
			l.emit(endType, endDelim, true)
			l.advance(1 + len(endDelim))
			return nil
		}
		if strings.HasPrefix(l.src[l.pos:], endDelim) {
			l.emit(endType, endDelim, false)
			l.advance(len(endDelim))
			return nil
		}
		if err := l.lexExprToken(); err != nil {
			return err
		}
	}
	return l.errorf("unclosed tag, expected %q", endDelim)
}

// lexBlockTag lexes a {% ... %} tag and reports whether it was {% raw %}.
func (l *lexer) lexBlockTag() (bool, error) {
	before := len(l.tokens)
	if err := l.lexTag(TokenBlockStart, TokenBlockEnd, blockEnd); err != nil {
		return false, err
	}
	// The first in-tag token names the statement.
	if len(l.tokens) >= before+3 {
		first := l.tokens[before+1]
		if first.Type == TokenName && first.Value == "raw" {
			return true, nil
		}
	}
	return false, nil
}

// lexRawBody consumes verbatim text up to the matching endraw tag. No tag
// recognition happens inside the body.
func (l *lexer) lexRawBody() error {
	from := l.pos
	for {
		i := strings.Index(l.src[from:], blockStart)
		if i < 0 {
			return l.errorf("unclosed raw block, expected {%% endraw %%}")
		}
		i += from
		j := i + 2
		if j < len(l.src) && l.src[j] == '-' {
			j++
		}
		for j < len(l.src) && (l.src[j] == ' ' || l.src[j] == '\t' || l.src[j] == '\r' || l.src[j] == '\n') {
			j++
		}
		if strings.HasPrefix(l.src[j:], "endraw") {
			l.emitText(l.src[l.pos:i])
			l.advance(i - l.pos)
			_, err := l.lexBlockTag()
			return err
		}
		from = i + 2
	}
}

// lexExprToken lexes one token inside a tag: a name, literal or operator.
func (l *lexer) lexExprToken() error {
	c := l.src[l.pos]
	switch {
	case c == '"' || c == '\'' || c == '`':
		return l.lexString(c)
	case c >= '0' && c <= '9':
		return l.lexNumber()
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		name := l.src[start:l.pos]
		l.pos = start
		l.emit(TokenName, name, false)
		l.advance(len(name))
		return nil
	}

	two := ""
	if l.pos+2 <= len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		l.emit(TokenComparison, two, false)
		l.advance(2)
		return nil
	case "::":
		l.emit(TokenDoubleColon, two, false)
		l.advance(2)
		return nil
	}

	single := map[byte]TokenType{
		'<': TokenComparison, '>': TokenComparison,
		'=': TokenAssign, ',': TokenComma, '|': TokenPipe,
		'(': TokenLeftParen, ')': TokenRightParen,
		'[': TokenLeftBracket, ']': TokenRightBracket,
		'.': TokenDot, '+': TokenAdd, '-': TokenSub,
		'*': TokenMul, '/': TokenDiv, '%': TokenMod,
		'~': TokenTilde,
	}
	if tt, ok := single[c]; ok {
		l.emit(tt, string(c), false)
		l.advance(1)
		return nil
	}
	return l.errorf("unexpected character %q", c)
}

func (l *lexer) lexString(quote byte) error {
	end := strings.IndexByte(l.src[l.pos+1:], quote)
	if end < 0 {
		return l.errorf("unterminated string")
	}
	body := l.src[l.pos+1 : l.pos+1+end]
	l.emit(TokenString, body, false)
	l.advance(end + 2)
	return nil
}

func (l *lexer) lexNumber() error {
	start := l.pos
	i := l.pos
	for i < len(l.src) && l.src[i] >= '0' && l.src[i] <= '9' {
		i++
	}
	digits := l.src[start:i]
	if len(digits) > 1 && digits[0] == '0' {
		return l.errorf("invalid number literal %q: leading zero", digits)
	}
	isFloat := false
	if i < len(l.src) && l.src[i] == '.' && i+1 < len(l.src) && l.src[i+1] >= '0' && l.src[i+1] <= '9' {
		isFloat = true
		i++
		for i < len(l.src) && l.src[i] >= '0' && l.src[i] <= '9' {
			i++
		}
	}
	text := l.src[start:i]
	if isFloat {
		l.emit(TokenFloat, text, false)
	} else {
		l.emit(TokenInteger, text, false)
	}
	l.advance(len(text))
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
