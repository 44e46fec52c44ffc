// Package resolver turns a parsed template plus its template set into a
// render-ready view: the extends lineage, the per-block override chains
// that super() walks, and validated macro imports.
//
// Resolution is two-phase by design: the whole lineage is walked and the
// name to override-chain table is built before any body is rendered, so a
// super() call always knows the next less-derived override.
package resolver

import (
	"fmt"

	"github.com/lysine-go/lysine/nodes"
)

// ErrorKind classifies resolution failures.
type ErrorKind string

const (
	CircularExtends ErrorKind = "circular_extends"
	MissingParent   ErrorKind = "missing_parent"
	MissingImport   ErrorKind = "missing_import"
	DuplicateBlock  ErrorKind = "duplicate_block"
)

// Error is a template-graph resolution failure.
type Error struct {
	Kind     ErrorKind
	Template string
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in template %q: %s", e.Kind, e.Template, e.Detail)
}

// Lookup provides templates by name.
type Lookup func(name string) (*nodes.Template, bool)

// BlockDef is one override in a block's chain, tagged with the template
// that defines it so macro imports resolve against the right file.
type BlockDef struct {
	Template string
	Block    *nodes.BlockStmt
}

// ResolvedTemplate is an immutable render-ready template view.
type ResolvedTemplate struct {
	*nodes.Template
	// Parents is the extends lineage, closest ancestor first.
	Parents []string
	// BlockChains maps block name to its override chain, most derived
	// override first. Rendering a block uses index 0; each super() call
	// steps one entry further.
	BlockChains map[string][]BlockDef
}

// Root returns the name of the template whose body rendering starts from:
// the far end of the extends lineage.
func (rt *ResolvedTemplate) Root() string {
	if len(rt.Parents) == 0 {
		return rt.Name
	}
	return rt.Parents[len(rt.Parents)-1]
}

// Resolve builds the resolved view for the named template. It fails on
// unknown names, missing parents, extends cycles and missing macro import
// targets anywhere in the lineage.
func Resolve(name string, lookup Lookup) (*ResolvedTemplate, error) {
	tpl, ok := lookup(name)
	if !ok {
		return nil, &Error{Kind: MissingParent, Template: name, Detail: "template is not registered"}
	}

	// Phase one: walk the lineage leaf to root. Revisiting any name is a
	// cycle; the visited set bounds the walk by the number of distinct
	// templates.
	lineage := []*nodes.Template{tpl}
	var parents []string
	visited := map[string]bool{name: true}
	for cur := tpl; cur.Parent != ""; {
		if visited[cur.Parent] {
			return nil, &Error{
				Kind:     CircularExtends,
				Template: name,
				Detail:   fmt.Sprintf("template %q is part of an extends cycle", cur.Parent),
			}
		}
		parent, ok := lookup(cur.Parent)
		if !ok {
			return nil, &Error{
				Kind:     MissingParent,
				Template: cur.Name,
				Detail:   fmt.Sprintf("parent template %q is not registered", cur.Parent),
			}
		}
		visited[cur.Parent] = true
		parents = append(parents, parent.Name)
		lineage = append(lineage, parent)
		cur = parent
	}

	// Phase two: per block name, the override chain from most derived to
	// root. The lineage slice is already leaf-first.
	chains := make(map[string][]BlockDef)
	for _, t := range lineage {
		if dup := duplicateBlockName(t.Body, map[string]bool{}); dup != "" {
			return nil, &Error{
				Kind:     DuplicateBlock,
				Template: t.Name,
				Detail:   fmt.Sprintf("block %q is defined more than once", dup),
			}
		}
		for blockName, def := range t.Blocks {
			chains[blockName] = append(chains[blockName], BlockDef{Template: t.Name, Block: def})
		}
	}

	// Every macro import anywhere in the lineage must name a registered
	// template.
	for _, t := range lineage {
		for _, imp := range t.Imports {
			if _, ok := lookup(imp.Template); !ok {
				return nil, &Error{
					Kind:     MissingImport,
					Template: t.Name,
					Detail:   fmt.Sprintf("imports macros from %q which is not registered", imp.Template),
				}
			}
		}
	}

	return &ResolvedTemplate{
		Template:    tpl,
		Parents:     parents,
		BlockChains: chains,
	}, nil
}

// duplicateBlockName walks a statement tree and reports the first block
// name defined more than once, or "". The parser enforces uniqueness for
// parsed templates; templates supplied to a Lookup by hand may not.
func duplicateBlockName(body []nodes.Stmt, seen map[string]bool) string {
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *nodes.BlockStmt:
			if seen[s.Name] {
				return s.Name
			}
			seen[s.Name] = true
			if dup := duplicateBlockName(s.Body, seen); dup != "" {
				return dup
			}
		case *nodes.IfStmt:
			for _, branch := range s.Branches {
				if dup := duplicateBlockName(branch.Body, seen); dup != "" {
					return dup
				}
			}
			if dup := duplicateBlockName(s.Else, seen); dup != "" {
				return dup
			}
		case *nodes.ForStmt:
			if dup := duplicateBlockName(s.Body, seen); dup != "" {
				return dup
			}
			if dup := duplicateBlockName(s.Else, seen); dup != "" {
				return dup
			}
		case *nodes.FilterSectionStmt:
			if dup := duplicateBlockName(s.Body, seen); dup != "" {
				return dup
			}
		}
	}
	return ""
}
