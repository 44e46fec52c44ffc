package lexer

import "fmt"

// TokenType identifies a token produced by the lexer.
type TokenType int

const (
	TokenEOF TokenType = iota
	// TokenText is literal template text between tags.
	TokenText
	TokenVariableStart // {{ or {{-
	TokenVariableEnd   // }} or -}}
	TokenBlockStart    // {% or {%-
	TokenBlockEnd      // %} or -%}
	TokenCommentStart  // {# or {#-
	TokenCommentEnd    // #} or -#}
	TokenName
	TokenString
	TokenInteger
	TokenFloat
	TokenAssign
	TokenComma
	TokenPipe
	TokenLeftParen
	TokenRightParen
	TokenLeftBracket
	TokenRightBracket
	TokenDot
	TokenDoubleColon
	TokenComparison // == != <= >= < >
	TokenAdd
	TokenSub
	TokenMul
	TokenDiv
	TokenMod
	TokenTilde
)

var tokenNames = map[TokenType]string{
	TokenEOF:           "EOF",
	TokenText:          "TEXT",
	TokenVariableStart: "VAR_START",
	TokenVariableEnd:   "VAR_END",
	TokenBlockStart:    "BLOCK_START",
	TokenBlockEnd:      "BLOCK_END",
	TokenCommentStart:  "COMMENT_START",
	TokenCommentEnd:    "COMMENT_END",
	TokenName:          "NAME",
	TokenString:        "STRING",
	TokenInteger:       "INTEGER",
	TokenFloat:         "FLOAT",
	TokenAssign:        "ASSIGN",
	TokenComma:         "COMMA",
	TokenPipe:          "PIPE",
	TokenLeftParen:     "LPAREN",
	TokenRightParen:    "RPAREN",
	TokenLeftBracket:   "LBRACKET",
	TokenRightBracket:  "RBRACKET",
	TokenDot:           "DOT",
	TokenDoubleColon:   "DOUBLE_COLON",
	TokenComparison:    "COMPARISON",
	TokenAdd:           "ADD",
	TokenSub:           "SUB",
	TokenMul:           "MUL",
	TokenDiv:           "DIV",
	TokenMod:           "MOD",
	TokenTilde:         "TILDE",
}

func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", tt)
}

// Token is a single lexed token. For tag delimiter tokens, Trim records
// whether the delimiter carried a whitespace-trim marker on its tag side.
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
	Trim   bool
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %d:%d", t.Type, t.Value, t.Line, t.Column)
}

// TokenStream is a cursor over a fully lexed token slice.
type TokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream wraps a token slice. The slice always ends with EOF.
func NewTokenStream(tokens []Token) *TokenStream {
	return &TokenStream{tokens: tokens}
}

// Current returns the token at the cursor without advancing.
func (s *TokenStream) Current() Token {
	if s.pos >= len(s.tokens) {
		return Token{Type: TokenEOF}
	}
	return s.tokens[s.pos]
}

// Peek returns the token after the cursor.
func (s *TokenStream) Peek() Token {
	if s.pos+1 >= len(s.tokens) {
		return Token{Type: TokenEOF}
	}
	return s.tokens[s.pos+1]
}

// Next returns the current token and advances the cursor.
func (s *TokenStream) Next() Token {
	tok := s.Current()
	if s.pos < len(s.tokens) {
		s.pos++
	}
	return tok
}

// SkipIf advances past the current token if it has the given type.
func (s *TokenStream) SkipIf(tt TokenType) bool {
	if s.Current().Type == tt {
		s.pos++
		return true
	}
	return false
}

// SkipIfName advances past the current token if it is the given name.
func (s *TokenStream) SkipIfName(name string) bool {
	cur := s.Current()
	if cur.Type == TokenName && cur.Value == name {
		s.pos++
		return true
	}
	return false
}
