package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/parser"
	"github.com/lysine-go/lysine/resolver"
	"github.com/lysine-go/lysine/value"
)

// Template name used by RenderString one-off renders.
const oneOffTemplateName = "__lysine_one_off"

// EscapeFn rewrites rendered output for autoescaped templates.
type EscapeFn func(string) string

// EscapeHTML escapes the characters significant in HTML, following the
// OWASP XSS prevention table: & < > " ' and /.
func EscapeHTML(input string) string {
	var sb strings.Builder
	sb.Grow(len(input) * 2)
	for _, c := range input {
		switch c {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '"':
			sb.WriteString("&quot;")
		case '\'':
			sb.WriteString("&#x27;")
		case '/':
			sb.WriteString("&#x2F;")
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// Environment owns the template cache, the builtin registry and the render
// limits. The cache is read-mostly shared state: inserts are
// first-writer-wins, and concurrent renders only share the immutable
// templates and the read-only registry.
type Environment struct {
	mu        sync.RWMutex
	templates map[string]*nodes.Template
	resolved  map[string]*resolver.ResolvedTemplate

	registry *Registry
	logger   *slog.Logger

	escapeFn           EscapeFn
	autoescapeSuffixes []string

	// Render ceilings. Loops, macro calls and include/extends chains can
	// recurse or iterate unboundedly on adversarial input; renders fail
	// with a resource_exhausted error instead of hanging.
	maxDepth int
	maxOps   int64
}

// NewEnvironment creates an environment with an empty registry and default
// limits.
func NewEnvironment() *Environment {
	return &Environment{
		templates:          make(map[string]*nodes.Template),
		resolved:           make(map[string]*resolver.ResolvedTemplate),
		registry:           NewRegistry(),
		logger:             slog.Default(),
		escapeFn:           EscapeHTML,
		autoescapeSuffixes: []string{".html", ".htm", ".xml"},
		maxDepth:           64,
		maxOps:             1_000_000,
	}
}

// SetLogger replaces the environment logger. A nil logger restores
// slog.Default().
func (e *Environment) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Registry returns the environment's builtin registry.
func (e *Environment) Registry() *Registry {
	return e.registry
}

// SetRegistry replaces the builtin registry. Call during setup only.
func (e *Environment) SetRegistry(r *Registry) {
	e.registry = r
}

// SetLimits configures the render ceilings: the maximum nesting depth for
// macro/include/inheritance recursion and the total node-evaluation budget
// per render. Zero keeps the current setting.
func (e *Environment) SetLimits(maxDepth int, maxOps int64) {
	if maxDepth > 0 {
		e.maxDepth = maxDepth
	}
	if maxOps > 0 {
		e.maxOps = maxOps
	}
}

// SetAutoescapeSuffixes replaces the template name suffixes that turn on
// HTML escaping.
func (e *Environment) SetAutoescapeSuffixes(suffixes []string) {
	e.autoescapeSuffixes = suffixes
}

// SetEscapeFn replaces the escape function used by autoescaped templates.
func (e *Environment) SetEscapeFn(fn EscapeFn) {
	if fn != nil {
		e.escapeFn = fn
	}
}

// Parse parses and caches a template. Inserts are first-writer-wins: if
// the name is already cached the existing template is returned untouched,
// so concurrent parses of the same name all observe a single final value.
func (e *Environment) Parse(name, source string) (*nodes.Template, error) {
	tpl, err := parser.Parse(name, source)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.templates[name]; ok {
		return existing, nil
	}
	e.templates[name] = tpl
	e.logger.Debug("parsed template", "name", name)
	return tpl, nil
}

// AddRawTemplate parses a template and stores it, replacing any previous
// version and dropping resolved inheritance state that may depend on it.
func (e *Environment) AddRawTemplate(name, source string) error {
	tpl, err := parser.Parse(name, source)
	if err != nil {
		return fmt.Errorf("failed to parse %q: %w", name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[name] = tpl
	e.resolved = make(map[string]*resolver.ResolvedTemplate)
	return nil
}

// AddRawTemplates parses and stores a set of templates.
func (e *Environment) AddRawTemplates(templates map[string]string) error {
	for name, source := range templates {
		if err := e.AddRawTemplate(name, source); err != nil {
			return err
		}
	}
	return nil
}

// AddTemplateFile reads, parses and stores a template file. An empty name
// uses the path.
func (e *Environment) AddTemplateFile(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("couldn't read template %q: %w", path, err)
	}
	if name == "" {
		name = path
	}
	tpl, err := parser.Parse(name, string(data))
	if err != nil {
		return fmt.Errorf("failed to parse %q: %w", path, err)
	}
	tpl.Path = path
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[name] = tpl
	e.resolved = make(map[string]*resolver.ResolvedTemplate)
	return nil
}

// AddTemplateFiles reads, parses and stores a set of template files,
// keyed name to path.
func (e *Environment) AddTemplateFiles(files map[string]string) error {
	for name, path := range files {
		if err := e.AddTemplateFile(path, name); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTemplate drops a template from the cache.
func (e *Environment) RemoveTemplate(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.templates, name)
	e.resolved = make(map[string]*resolver.ResolvedTemplate)
}

// Template returns a cached template.
func (e *Environment) Template(name string) (*nodes.Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tpl, ok := e.templates[name]
	return tpl, ok
}

// TemplateNames returns the cached template names, sorted.
func (e *Environment) TemplateNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extend copies templates and registry entries from other, keeping local
// ones on conflict.
func (e *Environment) Extend(other *Environment) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, tpl := range other.templates {
		if _, ok := e.templates[name]; !ok {
			e.templates[name] = tpl
		}
	}
	e.registry.Merge(other.registry)
	e.resolved = make(map[string]*resolver.ResolvedTemplate)
}

func (e *Environment) lookup(name string) (*nodes.Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tpl, ok := e.templates[name]
	return tpl, ok
}

// resolve returns the render-ready view of a template, resolving and
// caching it on first use. The cache follows the same first-writer-wins
// discipline as the template cache.
func (e *Environment) resolve(name string) (*resolver.ResolvedTemplate, error) {
	e.mu.RLock()
	rt, ok := e.resolved[name]
	e.mu.RUnlock()
	if ok {
		return rt, nil
	}

	if _, ok := e.lookup(name); !ok {
		return nil, NewError(ErrorTypeTemplateNotFound, fmt.Sprintf("template %q is not registered", name))
	}
	rt, err := resolver.Resolve(name, e.lookup)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.resolved[name]; ok {
		return existing, nil
	}
	e.resolved[name] = rt
	return rt, nil
}

// Validate resolves a template's inheritance chain and imports without
// rendering it.
func (e *Environment) Validate(name string) error {
	_, err := e.resolve(name)
	return err
}

// Render renders a cached template against a context. The context must be
// an object or null. Output is buffered internally: on error nothing is
// returned, callers never observe truncated output.
func (e *Environment) Render(name string, ctx value.Value) (string, error) {
	if !ctx.IsNull() && ctx.Kind() != value.KindObject {
		return "", NewError(ErrorTypeTypeMismatch, fmt.Sprintf("render context must be an object, got %s", ctx.Kind()))
	}
	rt, err := e.resolve(name)
	if err != nil {
		return "", err
	}
	out, err := newRenderer(e, rt, ctx).render()
	if err != nil {
		e.logger.Error("render failed", "template", name, "error", err)
		return "", err
	}
	return out, nil
}

// RenderTo renders a template and writes the result to w. The writer sees
// either the complete output or nothing.
func (e *Environment) RenderTo(w io.Writer, name string, ctx value.Value) error {
	out, err := e.Render(name, ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// RenderString renders one-off source against a context. The source is
// registered under a reserved name for the duration of the call so it can
// include and extend cached templates; not safe for concurrent use with
// other renders of the same environment.
func (e *Environment) RenderString(source string, ctx value.Value) (string, error) {
	if err := e.AddRawTemplate(oneOffTemplateName, source); err != nil {
		return "", err
	}
	defer e.RemoveTemplate(oneOffTemplateName)
	return e.Render(oneOffTemplateName, ctx)
}

// shouldEscape reports whether a template's output is HTML-escaped, by
// suffix of its path (preferred) or name.
func (e *Environment) shouldEscape(tpl *nodes.Template) bool {
	target := tpl.Name
	if tpl.Path != "" {
		target = tpl.Path
	}
	for _, suffix := range e.autoescapeSuffixes {
		if strings.HasSuffix(target, suffix) {
			return true
		}
	}
	return false
}
