package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysine-go/lysine/value"
)

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "&lt;a href=&quot;x&quot;&gt;&#x27;&amp;&#x2F;&lt;&#x2F;a&gt;",
		EscapeHTML(`<a href="x">'&/</a>`))
	assert.Equal(t, "plain", EscapeHTML("plain"))
}

func TestParseFirstWriterWins(t *testing.T) {
	env := NewEnvironment()
	first, err := env.Parse("a", "one")
	require.NoError(t, err)
	second, err := env.Parse("a", "two")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestAddRawTemplateOverwrites(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("a", "one"))
	require.NoError(t, env.AddRawTemplate("a", "two"))
	out, err := env.Render("a", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "two", out)
}

func TestTemplateNamesSorted(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{"b": "x", "a": "y", "c": "z"}))
	assert.Equal(t, []string{"a", "b", "c"}, env.TemplateNames())
}

func TestRemoveTemplate(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("a", "x"))
	env.RemoveTemplate("a")
	_, ok := env.Template("a")
	assert.False(t, ok)
}

func TestShouldEscapePrefersPath(t *testing.T) {
	env := NewEnvironment()
	tpl, err := env.Parse("mail", "x")
	require.NoError(t, err)
	assert.False(t, env.shouldEscape(tpl))

	tpl.Path = "mail.html"
	assert.True(t, env.shouldEscape(tpl))
}

func TestScopeStackLookupOrder(t *testing.T) {
	ctx := value.NewObject()
	ctx.Set("x", value.Int(1))
	s := newScopeStack(make(map[string]value.Value), ctx)

	v, ok := s.lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.AsInt())

	s.push()
	s.set("x", value.Int(2))
	v, _ = s.lookup("x")
	assert.Equal(t, int64(2), v.AsInt())

	s.pop()
	v, _ = s.lookup("x")
	assert.Equal(t, int64(1), v.AsInt())
}

func TestMacroStackSharesOnlyGlobals(t *testing.T) {
	ctx := value.NewObject()
	ctx.Set("ctxvar", value.Int(1))
	s := newScopeStack(make(map[string]value.Value), ctx)
	s.setGlobal("g", value.Int(9))
	s.set("local", value.Int(2))

	m := s.macroStack(map[string]value.Value{"param": value.Int(3)})

	_, ok := m.lookup("ctxvar")
	assert.False(t, ok)
	_, ok = m.lookup("local")
	assert.False(t, ok)

	v, ok := m.lookup("g")
	require.True(t, ok)
	assert.Equal(t, int64(9), v.AsInt())
	v, ok = m.lookup("param")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt())
}

func TestRegistryMergeKeepsLocal(t *testing.T) {
	local := NewRegistry()
	local.RegisterFilter("f", func(val value.Value, _ Kwargs) (value.Value, error) {
		return value.String("local"), nil
	})
	other := NewRegistry()
	other.RegisterFilter("f", func(val value.Value, _ Kwargs) (value.Value, error) {
		return value.String("other"), nil
	})
	other.RegisterFilter("g", func(val value.Value, _ Kwargs) (value.Value, error) {
		return value.String("g"), nil
	})

	local.Merge(other)
	f, ok := local.Filter("f")
	require.True(t, ok)
	out, err := f(value.Null(), nil)
	require.NoError(t, err)
	assert.Equal(t, "local", out.AsString())

	_, ok = local.Filter("g")
	assert.True(t, ok)
}
