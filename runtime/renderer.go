package runtime

import (
	"bytes"
	"strings"

	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/resolver"
	"github.com/lysine-go/lysine/value"
)

// flow is the control-flow signal propagated out of statement rendering.
type flow int

const (
	flowNormal flow = iota
	flowBreak
	flowContinue
)

// blockFrame tracks which override of a block chain is rendering, so
// super() knows where to continue.
type blockFrame struct {
	name  string
	level int
}

// Renderer executes a resolved template against a context. One renderer
// owns one render call: its scope stack and output buffer are never shared
// across goroutines. Output is buffered and only surfaced on success.
type Renderer struct {
	env    *Environment
	rt     *resolver.ResolvedTemplate
	scopes *scopeStack
	out    *bytes.Buffer
	escape bool

	ops       int64
	depth     int
	loopDepth int
	blocks    []blockFrame

	// defTpls tracks the template whose source the statements currently
	// rendering were defined in; macro namespace lookups use the top.
	defTpls []string
}

func newRenderer(env *Environment, rt *resolver.ResolvedTemplate, ctx value.Value) *Renderer {
	var ctxObj *value.Object
	if ctx.Kind() == value.KindObject {
		ctxObj = ctx.AsObject()
	}
	return &Renderer{
		env:    env,
		rt:     rt,
		scopes: newScopeStack(make(map[string]value.Value), ctxObj),
		out:    &bytes.Buffer{},
		escape: env.shouldEscape(rt.Template),
	}
}

func (r *Renderer) currentTemplate() string {
	if len(r.defTpls) > 0 {
		return r.defTpls[len(r.defTpls)-1]
	}
	return r.rt.Name
}

// tick charges one node evaluation against the render budget.
func (r *Renderer) tick(pos nodes.Position) error {
	r.ops++
	if r.ops > r.env.maxOps {
		return r.errorAt(ErrorTypeResourceExhausted, pos, "node evaluation budget of %d exceeded", r.env.maxOps)
	}
	return nil
}

// enter charges one level of recursion (macro call, include, super).
func (r *Renderer) enter(pos nodes.Position) error {
	r.depth++
	if r.depth > r.env.maxDepth {
		return r.errorAt(ErrorTypeResourceExhausted, pos, "recursion depth limit of %d exceeded", r.env.maxDepth)
	}
	return nil
}

func (r *Renderer) leave() {
	r.depth--
}

func (r *Renderer) render() (string, error) {
	// Rendering starts from the root ancestor's body; block statements in
	// it resolve through the leaf's override chains.
	rootName := r.rt.Root()
	root, ok := r.env.lookup(rootName)
	if !ok {
		return "", NewError(ErrorTypeTemplateNotFound, "template "+rootName+" is not registered")
	}
	r.defTpls = append(r.defTpls, rootName)
	if _, err := r.renderBody(root.Body); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

func (r *Renderer) renderBody(body []nodes.Stmt) (flow, error) {
	for _, stmt := range body {
		f, err := r.renderStmt(stmt)
		if err != nil {
			return flowNormal, err
		}
		if f != flowNormal {
			return f, nil
		}
	}
	return flowNormal, nil
}

// renderToString renders a body into a side buffer, leaving the main
// output untouched.
func (r *Renderer) renderToString(body []nodes.Stmt) (string, error) {
	saved := r.out
	r.out = &bytes.Buffer{}
	defer func() { r.out = saved }()
	if _, err := r.renderBody(body); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

func trimText(text string, start, end bool) string {
	if start {
		text = strings.TrimLeft(text, " \t\r\n")
	}
	if end {
		text = strings.TrimRight(text, " \t\r\n")
	}
	return text
}

func (r *Renderer) renderStmt(stmt nodes.Stmt) (flow, error) {
	if err := r.tick(stmt.Position()); err != nil {
		return flowNormal, err
	}

	switch s := stmt.(type) {
	case *nodes.TextStmt:
		r.out.WriteString(trimText(s.Text, s.TrimStart, s.TrimEnd))

	case *nodes.RawStmt:
		r.out.WriteString(trimText(s.Text, s.TrimStart, s.TrimEnd))

	case *nodes.CommentStmt:
		// No output.

	case *nodes.OutputStmt:
		val, safe, err := r.evalForOutput(s.Expr)
		if err != nil {
			return flowNormal, err
		}
		text := val.Str()
		if r.escape && !safe {
			text = r.env.escapeFn(text)
		}
		r.out.WriteString(text)

	case *nodes.MacroCallStmt:
		out, err := r.evalMacroCall(s.Call)
		if err != nil {
			return flowNormal, err
		}
		// The macro body was rendered with the same escaping rules;
		// do not escape its output a second time.
		r.out.WriteString(out.AsString())

	case *nodes.BlockStmt:
		return r.renderBlock(s)

	case *nodes.SuperStmt:
		return flowNormal, r.renderSuper(s)

	case *nodes.IfStmt:
		return r.renderIf(s)

	case *nodes.ForStmt:
		return flowNormal, r.renderFor(s)

	case *nodes.BreakStmt:
		if r.loopDepth == 0 {
			return flowNormal, r.errorAt(ErrorTypeControlFlow, s.Position(), "break outside of a loop")
		}
		return flowBreak, nil

	case *nodes.ContinueStmt:
		if r.loopDepth == 0 {
			return flowNormal, r.errorAt(ErrorTypeControlFlow, s.Position(), "continue outside of a loop")
		}
		return flowContinue, nil

	case *nodes.SetStmt:
		val, err := r.evalExpr(s.Value)
		if err != nil {
			return flowNormal, err
		}
		if s.Global {
			r.scopes.setGlobal(s.Name, val)
		} else {
			r.scopes.set(s.Name, val)
		}

	case *nodes.IncludeStmt:
		return flowNormal, r.renderInclude(s)

	case *nodes.FilterSectionStmt:
		return flowNormal, r.renderFilterSection(s)

	default:
		return flowNormal, r.errorAt(ErrorTypeTypeMismatch, stmt.Position(), "unsupported statement node %T", stmt)
	}
	return flowNormal, nil
}

// renderBlock renders the most derived override of the block's chain.
func (r *Renderer) renderBlock(s *nodes.BlockStmt) (flow, error) {
	chain := r.rt.BlockChains[s.Name]
	def := resolver.BlockDef{Template: r.currentTemplate(), Block: s}
	if len(chain) > 0 {
		def = chain[0]
	}
	return r.renderBlockDef(s.Name, 0, def)
}

func (r *Renderer) renderBlockDef(name string, level int, def resolver.BlockDef) (flow, error) {
	r.blocks = append(r.blocks, blockFrame{name: name, level: level})
	r.defTpls = append(r.defTpls, def.Template)
	r.scopes.push()
	defer func() {
		r.scopes.pop()
		r.defTpls = r.defTpls[:len(r.defTpls)-1]
		r.blocks = r.blocks[:len(r.blocks)-1]
	}()
	return r.renderBody(def.Block.Body)
}

// renderSuper continues one step down the current block's override chain.
func (r *Renderer) renderSuper(s *nodes.SuperStmt) error {
	if len(r.blocks) == 0 {
		return r.errorAt(ErrorTypeUnresolvedSuper, s.Position(), "super() called outside of a block")
	}
	frame := r.blocks[len(r.blocks)-1]
	chain := r.rt.BlockChains[frame.name]
	next := frame.level + 1
	if next >= len(chain) {
		return r.errorAt(ErrorTypeUnresolvedSuper, s.Position(), "block %q has no ancestor override for super()", frame.name)
	}
	if err := r.enter(s.Position()); err != nil {
		return err
	}
	defer r.leave()
	_, err := r.renderBlockDef(frame.name, next, chain[next])
	return err
}

func (r *Renderer) renderIf(s *nodes.IfStmt) (flow, error) {
	for _, branch := range s.Branches {
		cond, err := r.evalExpr(branch.Cond)
		if err != nil {
			return flowNormal, err
		}
		if cond.Truthy() {
			return r.renderBody(branch.Body)
		}
	}
	if s.Else != nil {
		return r.renderBody(s.Else)
	}
	return flowNormal, nil
}

func (r *Renderer) renderFor(s *nodes.ForStmt) error {
	iterable, err := r.evalExpr(s.Iterable)
	if err != nil {
		return err
	}

	// Collect the (key, value) sequence up front so loop.length and
	// loop.last are available.
	type pair struct {
		key value.Value
		val value.Value
	}
	var items []pair
	switch iterable.Kind() {
	case value.KindArray:
		arr := iterable.AsArray()
		items = make([]pair, len(arr))
		for i, v := range arr {
			items[i] = pair{key: value.Int(int64(i)), val: v}
		}
	case value.KindObject:
		obj := iterable.AsObject()
		items = make([]pair, 0, obj.Len())
		for _, k := range obj.Keys() {
			v, _ := obj.Get(k)
			items = append(items, pair{key: value.String(k), val: v})
		}
	default:
		return r.errorAt(ErrorTypeTypeMismatch, s.Position(), "cannot iterate over a %s", iterable.Kind())
	}

	if len(items) == 0 {
		if s.Else != nil {
			_, err := r.renderBody(s.Else)
			return err
		}
		return nil
	}

	r.loopDepth++
	defer func() { r.loopDepth-- }()

	for i, item := range items {
		if err := r.tick(s.Position()); err != nil {
			return err
		}
		r.scopes.push()
		if s.Key != "" {
			r.scopes.set(s.Key, item.key)
			r.scopes.set(s.Value, item.val)
		} else {
			r.scopes.set(s.Value, item.val)
		}
		r.scopes.set("loop", loopObject(i, len(items)))

		f, err := r.renderBody(s.Body)
		r.scopes.pop()
		if err != nil {
			return err
		}
		if f == flowBreak {
			break
		}
	}
	return nil
}

// loopObject builds the per-iteration `loop` variable.
func loopObject(index, length int) value.Value {
	obj := value.NewObject()
	obj.Set("index", value.Int(int64(index+1)))
	obj.Set("index0", value.Int(int64(index)))
	obj.Set("first", value.Bool(index == 0))
	obj.Set("last", value.Bool(index == length-1))
	obj.Set("length", value.Int(int64(length)))
	return value.ObjectValue(obj)
}

// renderInclude splices the first resolvable candidate in order. With
// `ignore missing`, unresolvable candidates produce empty output; that is
// documented policy, not error suppression.
func (r *Renderer) renderInclude(s *nodes.IncludeStmt) error {
	for _, candidate := range s.Candidates {
		if _, ok := r.env.lookup(candidate); !ok {
			continue
		}
		rt, err := r.env.resolve(candidate)
		if err != nil {
			return err
		}
		if err := r.enter(s.Position()); err != nil {
			return err
		}
		savedRT := r.rt
		r.rt = rt
		r.defTpls = append(r.defTpls, rt.Root())
		r.scopes.push()

		root, ok := r.env.lookup(rt.Root())
		var renderErr error
		if !ok {
			renderErr = NewError(ErrorTypeTemplateNotFound, "template "+rt.Root()+" is not registered")
		} else {
			_, renderErr = r.renderBody(root.Body)
		}

		r.scopes.pop()
		r.defTpls = r.defTpls[:len(r.defTpls)-1]
		r.rt = savedRT
		r.leave()
		return renderErr
	}
	if s.IgnoreMissing {
		return nil
	}
	return r.errorAt(ErrorTypeMissingInclude, s.Position(),
		"none of the include candidates %v could be resolved", s.Candidates)
}

// renderFilterSection renders the body to a string, then pipes that string
// through the section's filter.
func (r *Renderer) renderFilterSection(s *nodes.FilterSectionStmt) error {
	if err := r.enter(s.Position()); err != nil {
		return err
	}
	// The body renders unescaped; the filtered result passes through the
	// escaper exactly once, below.
	savedEscape := r.escape
	r.escape = false
	body, err := r.renderToString(s.Body)
	r.escape = savedEscape
	r.leave()
	if err != nil {
		return err
	}
	out, err := r.applyFilter(value.String(body), s.Filter)
	if err != nil {
		return err
	}
	text := out.Str()
	if r.escape && s.Filter.Name != "safe" {
		text = r.env.escapeFn(text)
	}
	r.out.WriteString(text)
	return nil
}
