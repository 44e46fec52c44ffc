// Package nodes defines the AST produced by the parser and consumed by the
// resolver and the renderer.
package nodes

import (
	"fmt"
	"strings"

	"github.com/lysine-go/lysine/value"
)

// Position is a location in template source.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is the base interface for all AST nodes.
type Node interface {
	Position() Position
}

// Base provides position storage for all nodes.
type Base struct {
	Pos Position
}

// Position returns the node's source position.
func (b *Base) Position() Position { return b.Pos }

// Stmt is a statement node: something that renders output or controls flow.
type Stmt interface {
	Node
	isStmt()
}

// BaseStmt is embedded by statement nodes.
type BaseStmt struct{ Base }

func (*BaseStmt) isStmt() {}

// Expr is an expression node: something that evaluates to a value.
type Expr interface {
	Node
	isExpr()
}

// BaseExpr is embedded by expression nodes.
type BaseExpr struct{ Base }

func (*BaseExpr) isExpr() {}

// Template is a fully parsed template. It is immutable after parsing.
type Template struct {
	Name string
	// Path is the source file, empty for raw templates.
	Path string
	// Parent is the extends target, empty when the template has none.
	Parent string
	// Imports are the macro namespace imports in declaration order.
	Imports []Import
	// Blocks maps block name to its definition. Names are unique per
	// template, enforced at parse time.
	Blocks map[string]*BlockStmt
	// Macros maps macro name to its top-level definition.
	Macros map[string]*MacroDef
	// Body is the top-level content in document order.
	Body []Stmt
}

// Import binds a namespace identifier to another template's macros.
type Import struct {
	Template  string
	Namespace string
}

// TextStmt is literal template text. TrimStart/TrimEnd record trim markers
// on the adjacent tags; whitespace is stripped at render time, not here.
type TextStmt struct {
	BaseStmt
	Text      string
	TrimStart bool
	TrimEnd   bool
}

// CommentStmt is a comment tag. It produces no output.
type CommentStmt struct {
	BaseStmt
}

// RawStmt is a raw section body, emitted verbatim.
type RawStmt struct {
	BaseStmt
	Text      string
	TrimStart bool
	TrimEnd   bool
}

// OutputStmt is an expression tag: evaluate and emit.
type OutputStmt struct {
	BaseStmt
	Expr Expr
}

// IncludeStmt splices another template. Candidates are tried in order.
type IncludeStmt struct {
	BaseStmt
	Candidates    []string
	IgnoreMissing bool
}

// BlockStmt is a named overridable region.
type BlockStmt struct {
	BaseStmt
	Name string
	Body []Stmt
}

// SuperStmt is a super() call inside a block body.
type SuperStmt struct {
	BaseStmt
}

// IfBranch is one condition/body pair of an if statement.
type IfBranch struct {
	Cond Expr
	Body []Stmt
}

// IfStmt is a conditional with ordered branches and an optional else.
type IfStmt struct {
	BaseStmt
	Branches []IfBranch
	Else     []Stmt
}

// ForStmt is a loop. Value is the loop variable; Key is set for the
// two-variable form. Else runs exactly once when the iterable is empty.
type ForStmt struct {
	BaseStmt
	Key      string
	Value    string
	Iterable Expr
	Body     []Stmt
	Else     []Stmt
}

// BreakStmt exits the nearest enclosing loop.
type BreakStmt struct {
	BaseStmt
}

// ContinueStmt advances the nearest enclosing loop.
type ContinueStmt struct {
	BaseStmt
}

// SetStmt binds an identifier. Global targets the render-wide scope.
type SetStmt struct {
	BaseStmt
	Name   string
	Value  Expr
	Global bool
}

// FilterSectionStmt renders its body to a string, then pipes it through the
// filter.
type FilterSectionStmt struct {
	BaseStmt
	Filter FilterCall
	Body   []Stmt
}

// MacroParam is a macro parameter with an optional literal default.
type MacroParam struct {
	Name    string
	Default *value.Value
}

// MacroDef is a top-level macro definition.
type MacroDef struct {
	BaseStmt
	Name   string
	Params []MacroParam
	Body   []Stmt
}

// MacroCallStmt emits the output of a namespaced macro call.
type MacroCallStmt struct {
	BaseStmt
	Call *MacroCallExpr
}

// Literal is a constant int, float, bool or string.
type Literal struct {
	BaseExpr
	Val value.Value
}

// Access is one step of an identifier path: a dotted segment when Index is
// nil, otherwise a bracket accessor whose expression yields an int or a
// string key.
type Access struct {
	Name  string
	Index Expr
}

// Ident is a dotted identifier with optional bracket accessors,
// e.g. a.b[0].c or a["k"].
type Ident struct {
	BaseExpr
	Path []Access
}

// Root returns the leading identifier segment.
func (id *Ident) Root() string { return id.Path[0].Name }

func (id *Ident) String() string {
	var sb strings.Builder
	for i, a := range id.Path {
		if a.Index != nil {
			sb.WriteString("[...]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(a.Name)
	}
	return sb.String()
}

// ArrayLit is an array literal.
type ArrayLit struct {
	BaseExpr
	Items []Expr
}

// Concat is a string concatenation chain joined by `~`.
type Concat struct {
	BaseExpr
	Parts []Expr
}

// Kwarg is a single keyword argument.
type Kwarg struct {
	Name  string
	Value Expr
}

// FunctionCall is a global function invocation with keyword arguments.
type FunctionCall struct {
	BaseExpr
	Name   string
	Kwargs []Kwarg
}

// MacroCallExpr is a ns::name(...) invocation.
type MacroCallExpr struct {
	BaseExpr
	Namespace string
	Name      string
	Kwargs    []Kwarg
}

// TestExpr is `subject is [not] name(args)`.
type TestExpr struct {
	BaseExpr
	Subject *Ident
	Name    string
	Args    []Expr
	Negated bool
}

// BinaryOpKind enumerates binary operators.
type BinaryOpKind int

const (
	OpAdd BinaryOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpAnd
	OpOr
	OpIn
	OpNotIn
)

var opNames = map[BinaryOpKind]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=",
	OpAnd: "and", OpOr: "or", OpIn: "in", OpNotIn: "not in",
}

func (k BinaryOpKind) String() string { return opNames[k] }

// BinaryOp is an arithmetic, comparison, logic or membership operation.
type BinaryOp struct {
	BaseExpr
	Op    BinaryOpKind
	Left  Expr
	Right Expr
}

// NotExpr is unary logical negation.
type NotExpr struct {
	BaseExpr
	Expr Expr
}

// FilterCall is one filter invocation in a chain.
type FilterCall struct {
	Pos    Position
	Name   string
	Kwargs []Kwarg
}

// Filtered applies a filter chain, left to right, to a base expression.
type Filtered struct {
	BaseExpr
	Expr    Expr
	Filters []FilterCall
}
