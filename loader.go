package lysine

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Engine is an environment bound to a glob of template files on disk.
type Engine struct {
	*Environment
	pattern string
}

// New discovers every file matching the glob pattern, parses it and
// registers it under its path relative to the pattern's fixed prefix,
// forward-slash normalized. `templates/**/*.html` registers
// `templates/pages/home.html` as `pages/home.html`.
func New(pattern string) (*Engine, error) {
	eng := &Engine{Environment: NewEnvironment(), pattern: pattern}
	if err := eng.FullReload(); err != nil {
		return nil, err
	}
	return eng, nil
}

// FullReload drops every registered template and reloads the glob from
// disk.
func (e *Engine) FullReload() error {
	if e.pattern == "" {
		return fmt.Errorf("engine was not built from a glob, nothing to reload")
	}
	pattern := filepath.ToSlash(e.pattern)
	matchers, err := compileGlobs(pattern)
	if err != nil {
		return fmt.Errorf("bad template glob %q: %w", e.pattern, err)
	}

	prefix := globPrefix(pattern)
	root := prefix
	if root == "" {
		root = "."
	}

	for _, name := range e.TemplateNames() {
		e.RemoveTemplate(name)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(path)
		matched := false
		for _, m := range matchers {
			if m.Match(rel) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		name := rel
		if prefix != "" {
			name = strings.TrimPrefix(rel, prefix+"/")
		}
		return e.AddTemplateFile(path, name)
	})
}

// compileGlobs compiles a pattern with `/` as the separator. A `/**/`
// segment must also match zero directories, so a collapsed variant is
// compiled alongside it.
func compileGlobs(pattern string) ([]glob.Glob, error) {
	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	matchers := []glob.Glob{matcher}
	if strings.Contains(pattern, "/**/") {
		flat, err := glob.Compile(strings.ReplaceAll(pattern, "/**/", "/"), '/')
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, flat)
	}
	return matchers, nil
}

// globPrefix returns the fixed directory part of a pattern, up to the
// first glob metacharacter.
func globPrefix(pattern string) string {
	end := strings.IndexAny(pattern, "*?[{")
	if end == -1 {
		end = len(pattern)
	}
	slash := strings.LastIndex(pattern[:end], "/")
	if slash == -1 {
		return ""
	}
	return pattern[:slash]
}
