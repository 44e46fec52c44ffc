package runtime

import "github.com/lysine-go/lysine/value"

// scopeStack is the ordered stack of variable scopes consulted during a
// render. Index 0 is the render-wide global scope written by set_global;
// index 1 holds the caller-supplied context; further scopes are pushed for
// blocks, loops and filter sections. Lookup walks innermost to outermost
// and stops at the first hit.
//
// Macro frames get a fresh stack sharing only the global scope, so caller
// locals and context data are never visible inside a macro body.
type scopeStack struct {
	scopes []map[string]value.Value
}

func newScopeStack(globals map[string]value.Value, ctx *value.Object) *scopeStack {
	local := make(map[string]value.Value)
	if ctx != nil {
		for _, k := range ctx.Keys() {
			v, _ := ctx.Get(k)
			local[k] = v
		}
	}
	return &scopeStack{scopes: []map[string]value.Value{globals, local}}
}

// macroStack returns a fresh stack for a macro frame: globals plus the
// parameter scope, nothing from the caller.
func (s *scopeStack) macroStack(params map[string]value.Value) *scopeStack {
	return &scopeStack{scopes: []map[string]value.Value{s.scopes[0], params}}
}

func (s *scopeStack) push() {
	s.scopes = append(s.scopes, make(map[string]value.Value))
}

func (s *scopeStack) pop() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// lookup walks innermost to outermost.
func (s *scopeStack) lookup(name string) (value.Value, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i][name]; ok {
			return v, true
		}
	}
	return value.Null(), false
}

// set binds in the innermost scope.
func (s *scopeStack) set(name string, v value.Value) {
	s.scopes[len(s.scopes)-1][name] = v
}

// setGlobal binds in the render-wide global scope, visible to everything
// evaluated afterwards, macro bodies included.
func (s *scopeStack) setGlobal(name string, v value.Value) {
	s.scopes[0][name] = v
}
