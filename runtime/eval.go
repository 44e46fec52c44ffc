package runtime

import (
	"math"
	"strconv"
	"strings"

	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/value"
)

func (r *Renderer) evalExpr(expr nodes.Expr) (value.Value, error) {
	if err := r.tick(expr.Position()); err != nil {
		return value.Null(), err
	}

	switch e := expr.(type) {
	case *nodes.Literal:
		return e.Val, nil

	case *nodes.Ident:
		return r.evalIdent(e)

	case *nodes.ArrayLit:
		items := make([]value.Value, len(e.Items))
		for i, item := range e.Items {
			v, err := r.evalExpr(item)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.Array(items...), nil

	case *nodes.Concat:
		return r.evalConcat(e)

	case *nodes.FunctionCall:
		return r.evalFunction(e)

	case *nodes.MacroCallExpr:
		// In expression position the macro body renders unescaped; the
		// statement that consumes the value escapes it exactly once.
		saved := r.escape
		r.escape = false
		out, err := r.evalMacroCall(e)
		r.escape = saved
		return out, err

	case *nodes.TestExpr:
		ok, err := r.evalTest(e)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(ok), nil

	case *nodes.BinaryOp:
		return r.evalBinary(e)

	case *nodes.NotExpr:
		v, err := r.evalExpr(e.Expr)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(!v.Truthy()), nil

	case *nodes.Filtered:
		return r.evalFiltered(e)

	default:
		return value.Null(), r.errorAt(ErrorTypeTypeMismatch, expr.Position(), "unsupported expression node %T", expr)
	}
}

// evalForOutput evaluates an output expression and reports whether its
// value was marked safe from escaping.
func (r *Renderer) evalForOutput(expr nodes.Expr) (value.Value, bool, error) {
	safe := false
	if f, ok := expr.(*nodes.Filtered); ok && len(f.Filters) > 0 {
		safe = f.Filters[len(f.Filters)-1].Name == "safe"
	}
	v, err := r.evalExpr(expr)
	return v, safe, err
}

// evalIdent resolves an identifier path; an unresolvable path is an error.
func (r *Renderer) evalIdent(id *nodes.Ident) (value.Value, error) {
	v, found, err := r.lookupIdent(id)
	if err != nil {
		return value.Null(), err
	}
	if !found {
		return value.Null(), r.errorAt(ErrorTypeUndefinedVariable, id.Position(), "variable %q not found", id.String())
	}
	return v, nil
}

// lookupIdent resolves an identifier path leniently: a missing root or a
// missing path step reports found=false; only malformed accessors error.
func (r *Renderer) lookupIdent(id *nodes.Ident) (value.Value, bool, error) {
	cur, ok := r.scopes.lookup(id.Root())
	if !ok {
		return value.Null(), false, nil
	}
	for _, access := range id.Path[1:] {
		if access.Index == nil {
			next, ok := navigateName(cur, access.Name)
			if !ok {
				return value.Null(), false, nil
			}
			cur = next
			continue
		}
		idx, err := r.evalExpr(access.Index)
		if err != nil {
			return value.Null(), false, err
		}
		next, ok, err := r.navigateIndex(cur, idx, id.Position())
		if err != nil {
			return value.Null(), false, err
		}
		if !ok {
			return value.Null(), false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// navigateName follows a dotted segment: an object key, or an array index
// when the segment is numeric.
func navigateName(cur value.Value, name string) (value.Value, bool) {
	switch cur.Kind() {
	case value.KindObject:
		return cur.AsObject().Get(name)
	case value.KindArray:
		i, err := strconv.Atoi(name)
		if err != nil {
			return value.Null(), false
		}
		arr := cur.AsArray()
		if i < 0 || i >= len(arr) {
			return value.Null(), false
		}
		return arr[i], true
	default:
		return value.Null(), false
	}
}

// navigateIndex follows a bracket accessor: an int index into an array or a
// string key into an object.
func (r *Renderer) navigateIndex(cur, idx value.Value, pos nodes.Position) (value.Value, bool, error) {
	switch idx.Kind() {
	case value.KindInt:
		if cur.Kind() != value.KindArray {
			return value.Null(), false, nil
		}
		i := idx.AsInt()
		arr := cur.AsArray()
		if i < 0 || i >= int64(len(arr)) {
			return value.Null(), false, nil
		}
		return arr[i], true, nil
	case value.KindString:
		if cur.Kind() != value.KindObject {
			return value.Null(), false, nil
		}
		v, ok := cur.AsObject().Get(idx.AsString())
		return v, ok, nil
	default:
		return value.Null(), false, r.errorAt(ErrorTypeTypeMismatch, pos,
			"bracket accessor must be an integer or a string, got %s", idx.Kind())
	}
}

// evalConcat joins `~` operands. Operands must be strings or numbers.
func (r *Renderer) evalConcat(e *nodes.Concat) (value.Value, error) {
	var sb strings.Builder
	for _, part := range e.Parts {
		v, err := r.evalExpr(part)
		if err != nil {
			return value.Null(), err
		}
		switch {
		case v.Kind() == value.KindString:
			sb.WriteString(v.AsString())
		case v.IsNumber():
			sb.WriteString(v.Str())
		default:
			return value.Null(), r.errorAt(ErrorTypeTypeMismatch, part.Position(),
				"cannot concatenate a %s, only strings and numbers", v.Kind())
		}
	}
	return value.String(sb.String()), nil
}

func (r *Renderer) evalKwargs(kwargs []nodes.Kwarg) (Kwargs, error) {
	out := make(Kwargs, len(kwargs))
	for _, kw := range kwargs {
		v, err := r.evalExpr(kw.Value)
		if err != nil {
			return nil, err
		}
		out[kw.Name] = v
	}
	return out, nil
}

func (r *Renderer) evalFunction(e *nodes.FunctionCall) (value.Value, error) {
	fn, ok := r.env.registry.Function(e.Name)
	if !ok {
		return value.Null(), r.errorAt(ErrorTypeUndefinedFunction, e.Position(), "function %q is not registered", e.Name)
	}
	kwargs, err := r.evalKwargs(e.Kwargs)
	if err != nil {
		return value.Null(), err
	}
	out, err := fn(kwargs)
	if err != nil {
		return value.Null(), r.errorAt(ErrorTypeFunction, e.Position(), "function %q: %v", e.Name, err)
	}
	return out, nil
}

// evalTest runs an `is` predicate. An undefined subject is passed to the
// test as nil, so existence tests like `defined` can answer it.
func (r *Renderer) evalTest(e *nodes.TestExpr) (bool, error) {
	test, ok := r.env.registry.Test(e.Name)
	if !ok {
		return false, r.errorAt(ErrorTypeUndefinedTest, e.Position(), "test %q is not registered", e.Name)
	}
	var subject *value.Value
	v, found, err := r.lookupIdent(e.Subject)
	if err != nil {
		return false, err
	}
	if found {
		subject = &v
	}
	args := make([]value.Value, len(e.Args))
	for i, arg := range e.Args {
		av, err := r.evalExpr(arg)
		if err != nil {
			return false, err
		}
		args[i] = av
	}
	res, err := test(subject, args)
	if err != nil {
		return false, r.errorAt(ErrorTypeTest, e.Position(), "test %q: %v", e.Name, err)
	}
	if e.Negated {
		res = !res
	}
	return res, nil
}

func (r *Renderer) evalBinary(e *nodes.BinaryOp) (value.Value, error) {
	// Logic operators short-circuit on truthiness.
	if e.Op == nodes.OpAnd || e.Op == nodes.OpOr {
		left, err := r.evalExpr(e.Left)
		if err != nil {
			return value.Null(), err
		}
		if e.Op == nodes.OpAnd && !left.Truthy() {
			return value.Bool(false), nil
		}
		if e.Op == nodes.OpOr && left.Truthy() {
			return value.Bool(true), nil
		}
		right, err := r.evalExpr(e.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(right.Truthy()), nil
	}

	left, err := r.evalExpr(e.Left)
	if err != nil {
		return value.Null(), err
	}
	right, err := r.evalExpr(e.Right)
	if err != nil {
		return value.Null(), err
	}

	switch e.Op {
	case nodes.OpAdd, nodes.OpSub, nodes.OpMul, nodes.OpDiv, nodes.OpMod:
		return r.evalArithmetic(e, left, right)

	case nodes.OpEq, nodes.OpNe:
		if !comparableKinds(left, right) {
			return value.Null(), r.errorAt(ErrorTypeTypeMismatch, e.Position(),
				"cannot compare %s with %s for equality", left.Kind(), right.Kind())
		}
		eq := left.Equal(right)
		if e.Op == nodes.OpNe {
			eq = !eq
		}
		return value.Bool(eq), nil

	case nodes.OpLt, nodes.OpGt, nodes.OpLe, nodes.OpGe:
		cmp, err := left.Compare(right)
		if err != nil {
			return value.Null(), r.errorAt(ErrorTypeTypeMismatch, e.Position(), "%v", err)
		}
		var res bool
		switch e.Op {
		case nodes.OpLt:
			res = cmp < 0
		case nodes.OpGt:
			res = cmp > 0
		case nodes.OpLe:
			res = cmp <= 0
		case nodes.OpGe:
			res = cmp >= 0
		}
		return value.Bool(res), nil

	case nodes.OpIn, nodes.OpNotIn:
		found, err := r.evalMembership(e, left, right)
		if err != nil {
			return value.Null(), err
		}
		if e.Op == nodes.OpNotIn {
			found = !found
		}
		return value.Bool(found), nil

	default:
		return value.Null(), r.errorAt(ErrorTypeTypeMismatch, e.Position(), "unsupported operator %s", e.Op)
	}
}

// comparableKinds reports whether equality between the two values is
// meaningful: same kind, or both numeric.
func comparableKinds(a, b value.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return true
	}
	return a.Kind() == b.Kind()
}

func (r *Renderer) evalArithmetic(e *nodes.BinaryOp, left, right value.Value) (value.Value, error) {
	if !left.IsNumber() || !right.IsNumber() {
		return value.Null(), r.errorAt(ErrorTypeTypeMismatch, e.Position(),
			"operator %s needs number operands, got %s and %s", e.Op, left.Kind(), right.Kind())
	}

	// Division always yields a float. The other operators stay integral
	// when both operands are integers.
	if e.Op == nodes.OpDiv {
		divisor := right.AsFloat()
		if divisor == 0 {
			return value.Null(), r.errorAt(ErrorTypeDivisionByZero, e.Position(), "division by zero")
		}
		return value.Float(left.AsFloat() / divisor), nil
	}

	if left.Kind() == value.KindInt && right.Kind() == value.KindInt {
		a, b := left.AsInt(), right.AsInt()
		switch e.Op {
		case nodes.OpAdd:
			return value.Int(a + b), nil
		case nodes.OpSub:
			return value.Int(a - b), nil
		case nodes.OpMul:
			return value.Int(a * b), nil
		case nodes.OpMod:
			if b == 0 {
				return value.Null(), r.errorAt(ErrorTypeDivisionByZero, e.Position(), "modulo by zero")
			}
			return value.Int(a % b), nil
		}
	}

	a, b := left.AsFloat(), right.AsFloat()
	switch e.Op {
	case nodes.OpAdd:
		return value.Float(a + b), nil
	case nodes.OpSub:
		return value.Float(a - b), nil
	case nodes.OpMul:
		return value.Float(a * b), nil
	case nodes.OpMod:
		if b == 0 {
			return value.Null(), r.errorAt(ErrorTypeDivisionByZero, e.Position(), "modulo by zero")
		}
		return value.Float(math.Mod(a, b)), nil
	}
	return value.Null(), r.errorAt(ErrorTypeTypeMismatch, e.Position(), "unsupported operator %s", e.Op)
}

// evalMembership handles `in`: substring for strings, element for arrays,
// key presence for objects.
func (r *Renderer) evalMembership(e *nodes.BinaryOp, needle, haystack value.Value) (bool, error) {
	switch haystack.Kind() {
	case value.KindString:
		if needle.Kind() != value.KindString {
			return false, r.errorAt(ErrorTypeTypeMismatch, e.Position(),
				"substring check needs a string, got %s", needle.Kind())
		}
		return strings.Contains(haystack.AsString(), needle.AsString()), nil
	case value.KindArray:
		for _, item := range haystack.AsArray() {
			if comparableKinds(needle, item) && needle.Equal(item) {
				return true, nil
			}
		}
		return false, nil
	case value.KindObject:
		if needle.Kind() != value.KindString {
			return false, r.errorAt(ErrorTypeTypeMismatch, e.Position(),
				"object key check needs a string, got %s", needle.Kind())
		}
		_, ok := haystack.AsObject().Get(needle.AsString())
		return ok, nil
	default:
		return false, r.errorAt(ErrorTypeTypeMismatch, e.Position(),
			"right side of `in` must be a string, array or object, got %s", haystack.Kind())
	}
}

// evalFiltered applies a filter chain. A leading `default` filter rescues
// an undefined identifier base instead of erroring.
func (r *Renderer) evalFiltered(e *nodes.Filtered) (value.Value, error) {
	var cur value.Value
	filters := e.Filters

	if id, isIdent := e.Expr.(*nodes.Ident); isIdent && len(filters) > 0 && filters[0].Name == "default" {
		v, found, err := r.lookupIdent(id)
		if err != nil {
			return value.Null(), err
		}
		if found {
			cur = v
		} else {
			kwargs, err := r.evalKwargs(filters[0].Kwargs)
			if err != nil {
				return value.Null(), err
			}
			fallback, ok := kwargs["value"]
			if !ok {
				return value.Null(), r.errorAt(ErrorTypeFilter, filters[0].Pos,
					"filter \"default\" needs a `value` argument")
			}
			cur = fallback
		}
		filters = filters[1:]
	} else {
		v, err := r.evalExpr(e.Expr)
		if err != nil {
			return value.Null(), err
		}
		cur = v
	}

	for _, fc := range filters {
		v, err := r.applyFilter(cur, fc)
		if err != nil {
			return value.Null(), err
		}
		cur = v
	}
	return cur, nil
}

// applyFilter runs one filter. `safe` is handled here as identity; its
// effect on escaping is decided where the output is written.
func (r *Renderer) applyFilter(val value.Value, fc nodes.FilterCall) (value.Value, error) {
	if fc.Name == "safe" {
		return val, nil
	}
	filter, ok := r.env.registry.Filter(fc.Name)
	if !ok {
		return value.Null(), r.errorAt(ErrorTypeUndefinedFilter, fc.Pos, "filter %q is not registered", fc.Name)
	}
	kwargs, err := r.evalKwargs(fc.Kwargs)
	if err != nil {
		return value.Null(), err
	}
	out, err := filter(val, kwargs)
	if err != nil {
		return value.Null(), r.errorAt(ErrorTypeFilter, fc.Pos, "filter %q: %v", fc.Name, err)
	}
	return out, nil
}

// evalMacroCall renders a namespaced macro body in an isolated frame and
// returns the output as a string. The namespace `self` refers to the
// macros of the template the call site was defined in.
func (r *Renderer) evalMacroCall(e *nodes.MacroCallExpr) (value.Value, error) {
	target := ""
	if e.Namespace == "self" {
		target = r.currentTemplate()
	} else {
		cur, ok := r.env.lookup(r.currentTemplate())
		if !ok {
			return value.Null(), r.errorAt(ErrorTypeTemplateNotFound, e.Position(),
				"template %q is not registered", r.currentTemplate())
		}
		for _, imp := range cur.Imports {
			if imp.Namespace == e.Namespace {
				target = imp.Template
				break
			}
		}
		if target == "" {
			return value.Null(), r.errorAt(ErrorTypeUndefinedMacro, e.Position(),
				"macro namespace %q is not imported in %q", e.Namespace, r.currentTemplate())
		}
	}

	tpl, ok := r.env.lookup(target)
	if !ok {
		return value.Null(), r.errorAt(ErrorTypeTemplateNotFound, e.Position(), "template %q is not registered", target)
	}
	def, ok := tpl.Macros[e.Name]
	if !ok {
		return value.Null(), r.errorAt(ErrorTypeUndefinedMacro, e.Position(),
			"macro %q is not defined in %q", e.Name, target)
	}

	supplied, err := r.evalKwargs(e.Kwargs)
	if err != nil {
		return value.Null(), err
	}
	params := make(map[string]value.Value, len(def.Params))
	for _, p := range def.Params {
		if v, ok := supplied[p.Name]; ok {
			params[p.Name] = v
			delete(supplied, p.Name)
			continue
		}
		if p.Default != nil {
			params[p.Name] = *p.Default
			continue
		}
		return value.Null(), r.errorAt(ErrorTypeMacroArity, e.Position(),
			"macro %s::%s needs argument %q", e.Namespace, e.Name, p.Name)
	}
	for name := range supplied {
		return value.Null(), r.errorAt(ErrorTypeMacroArity, e.Position(),
			"macro %s::%s has no parameter %q", e.Namespace, e.Name, name)
	}

	if err := r.enter(e.Position()); err != nil {
		return value.Null(), err
	}
	defer r.leave()

	savedScopes := r.scopes
	savedLoopDepth := r.loopDepth
	r.scopes = savedScopes.macroStack(params)
	r.loopDepth = 0
	r.defTpls = append(r.defTpls, target)

	out, renderErr := r.renderToString(def.Body)

	r.defTpls = r.defTpls[:len(r.defTpls)-1]
	r.loopDepth = savedLoopDepth
	r.scopes = savedScopes

	if renderErr != nil {
		return value.Null(), renderErr
	}
	return value.String(out), nil
}
