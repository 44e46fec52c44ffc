// Package lysine is a text templating engine: templates mix literal text
// with expression tags, control-flow statements, template inheritance and
// reusable macros, and render deterministically against structured data.
package lysine

import (
	"github.com/lysine-go/lysine/builtin"
	"github.com/lysine-go/lysine/nodes"
	"github.com/lysine-go/lysine/parser"
	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

// Version is the library version.
const Version = "0.1.0"

// Aliases so most callers only import this package.
type (
	Value       = value.Value
	Environment = runtime.Environment
	Registry    = runtime.Registry
	Kwargs      = runtime.Kwargs
	Filter      = runtime.Filter
	Function    = runtime.Function
	Test        = runtime.Test
)

// NewEnvironment returns an environment with the builtin filter, function
// and test catalogue registered.
func NewEnvironment() *runtime.Environment {
	env := runtime.NewEnvironment()
	env.SetRegistry(builtin.Default())
	return env
}

// ParseString parses template source without registering it anywhere,
// for syntax checking.
func ParseString(name, source string) (*nodes.Template, error) {
	return parser.Parse(name, source)
}
