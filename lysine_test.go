package lysine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func ctxFrom(t *testing.T, data map[string]any) value.Value {
	t.Helper()
	v, err := value.FromAny(data)
	require.NoError(t, err)
	return v
}

func render(t *testing.T, source string, data map[string]any) string {
	t.Helper()
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main.txt", source))
	out, err := env.Render("main.txt", ctxFrom(t, data))
	require.NoError(t, err)
	return out
}

func renderErr(t *testing.T, source string, data map[string]any) *runtime.Error {
	t.Helper()
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main.txt", source))
	_, err := env.Render("main.txt", ctxFrom(t, data))
	require.Error(t, err)
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	return rerr
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"{{ 1 + 2 * 3 }}", "7"},
		{"{{ (1 + 2) * 3 }}", "9"},
		{"{{ 7 % 3 }}", "1"},
		{"{{ 2 + 3 }}", "5"},
		{"{{ 6 / 4 }}", "1.5"},
		{"{{ 6 / 3 }}", "2"},
		{"{{ 2.5 + 1 }}", "3.5"},
		{"{{ -2 * 3 }}", "-6"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.source, nil))
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	rerr := renderErr(t, "{{ 1 / 0 }}", nil)
	assert.Equal(t, runtime.ErrorTypeDivisionByZero, rerr.Type)

	rerr = renderErr(t, "{{ 1 % 0 }}", nil)
	assert.Equal(t, runtime.ErrorTypeDivisionByZero, rerr.Type)
}

func TestComparisonAndLogic(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"{{ 1 + 1 == 2 }}", "true"},
		{"{{ 1 < 2 }}", "true"},
		{"{{ 'b' > 'a' }}", "true"},
		{"{{ 1 == 1.0 }}", "true"},
		{"{{ true and false }}", "false"},
		{"{{ false or true }}", "true"},
		{"{{ not false }}", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.source, nil))
		})
	}
}

func TestEqualityKindMismatch(t *testing.T) {
	rerr := renderErr(t, "{{ 'a' == 1 }}", nil)
	assert.Equal(t, runtime.ErrorTypeTypeMismatch, rerr.Type)
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "a1b", render(t, "{{ 'a' ~ 1 ~ 'b' }}", nil))
	assert.Equal(t, "v=3", render(t, "{{ 'v=' ~ n }}", map[string]any{"n": 3}))

	rerr := renderErr(t, "{{ 'a' ~ flag }}", map[string]any{"flag": true})
	assert.Equal(t, runtime.ErrorTypeTypeMismatch, rerr.Type)
}

func TestMembership(t *testing.T) {
	data := map[string]any{
		"text": "hello",
		"nums": []any{1, 2, 3},
		"obj":  map[string]any{"k": 1},
	}
	assert.Equal(t, "true", render(t, "{{ 'el' in text }}", data))
	assert.Equal(t, "true", render(t, "{{ 2 in nums }}", data))
	assert.Equal(t, "false", render(t, "{{ 5 in nums }}", data))
	assert.Equal(t, "true", render(t, "{{ 'k' in obj }}", data))
	assert.Equal(t, "true", render(t, "{{ 'x' not in obj }}", data))
}

func TestUndefinedVariable(t *testing.T) {
	rerr := renderErr(t, "{{ missing }}", nil)
	assert.Equal(t, runtime.ErrorTypeUndefinedVariable, rerr.Type)

	rerr = renderErr(t, "{{ user.missing }}", map[string]any{"user": map[string]any{"name": "sam"}})
	assert.Equal(t, runtime.ErrorTypeUndefinedVariable, rerr.Type)
}

func TestDefaultRescuesUndefined(t *testing.T) {
	assert.Equal(t, "fallback", render(t, "{{ missing | default(value='fallback') }}", nil))
	assert.Equal(t, "set", render(t, "{{ v | default(value='fallback') }}", map[string]any{"v": "set"}))
}

func TestIdentNavigation(t *testing.T) {
	data := map[string]any{
		"user":  map[string]any{"name": "sam", "pets": []any{"cat", "dog"}},
		"index": 1,
	}
	assert.Equal(t, "sam", render(t, "{{ user.name }}", data))
	assert.Equal(t, "cat", render(t, "{{ user.pets.0 }}", data))
	assert.Equal(t, "dog", render(t, "{{ user.pets[1] }}", data))
	assert.Equal(t, "dog", render(t, "{{ user.pets[index] }}", data))
	assert.Equal(t, "sam", render(t, "{{ user['name'] }}", data))
}

func TestIfElifElse(t *testing.T) {
	source := "{% if n > 10 %}big{% elif n > 5 %}medium{% else %}small{% endif %}"
	assert.Equal(t, "big", render(t, source, map[string]any{"n": 11}))
	assert.Equal(t, "medium", render(t, source, map[string]any{"n": 7}))
	assert.Equal(t, "small", render(t, source, map[string]any{"n": 1}))
}

func TestForLoop(t *testing.T) {
	source := "{% for x in items %}{{ x }}{% else %}empty{% endfor %}"
	assert.Equal(t, "123", render(t, source, map[string]any{"items": []any{1, 2, 3}}))
	assert.Equal(t, "empty", render(t, source, map[string]any{"items": []any{}}))
}

func TestForOverObject(t *testing.T) {
	data := map[string]any{"obj": map[string]any{"a": 1, "b": 2}}
	assert.Equal(t, "a=1;b=2;", render(t, "{% for k, v in obj %}{{ k }}={{ v }};{% endfor %}", data))
	// The single-variable form iterates the value sequence.
	assert.Equal(t, "12", render(t, "{% for v in obj %}{{ v }}{% endfor %}", data))
}

func TestForOverNonIterable(t *testing.T) {
	rerr := renderErr(t, "{% for x in n %}{{ x }}{% endfor %}", map[string]any{"n": 3})
	assert.Equal(t, runtime.ErrorTypeTypeMismatch, rerr.Type)
}

func TestLoopVariable(t *testing.T) {
	source := "{% for x in items %}{{ loop.index }}:{{ x }}{% if not loop.last %},{% endif %}{% endfor %}"
	assert.Equal(t, "1:a,2:b,3:c", render(t, source, map[string]any{"items": []any{"a", "b", "c"}}))

	source = "{% for x in items %}{{ loop.index0 }}/{{ loop.length }} {% endfor %}"
	assert.Equal(t, "0/2 1/2 ", render(t, source, map[string]any{"items": []any{"a", "b"}}))
}

func TestBreakAndContinue(t *testing.T) {
	data := map[string]any{"items": []any{1, 2, 3}}
	source := "{% for x in items %}{{ x }}{% if x == 1 %}{% break %}{% endif %}{% endfor %}"
	assert.Equal(t, "1", render(t, source, data))

	source = "{% for x in items %}{% if x == 2 %}{% continue %}{% endif %}{{ x }}{% endfor %}"
	assert.Equal(t, "13", render(t, source, data))

	// break only exits the innermost loop
	source = "{% for x in items %}{% for y in items %}{{ y }}{% break %}{% endfor %}{% endfor %}"
	assert.Equal(t, "111", render(t, source, data))
}

func TestSetAndSetGlobal(t *testing.T) {
	assert.Equal(t, "5", render(t, "{% set x = 2 + 3 %}{{ x }}", nil))

	// A plain set inside a loop body dies with its scope; set_global survives.
	source := "{% for x in items %}{% set_global last = x %}{% endfor %}{{ last }}"
	assert.Equal(t, "3", render(t, source, map[string]any{"items": []any{1, 2, 3}}))
}

func TestFilters(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"{{ 'hello' | upper }}", "HELLO"},
		{"{{ '  x  ' | trim }}", "x"},
		{"{{ 'hello world' | title }}", "Hello World"},
		{"{{ name | length }}", "3"},
		{"{{ items | join(sep=', ') }}", "1, 2, 3"},
		{"{{ items | first }}", "1"},
		{"{{ items | reverse | join(sep='') }}", "321"},
		{"{{ -4 | abs }}", "4"},
		{"{{ 'hello' | truncate(length=3, end='..') }}", "hel.."},
		{"{{ 'a,b,c' | split(pat=',') | last }}", "c"},
	}
	data := map[string]any{"name": "sam", "items": []any{1, 2, 3}}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.source, data))
		})
	}
}

func TestFilterChainAppliesLeftToRight(t *testing.T) {
	assert.Equal(t, "OLLEH", render(t, "{{ 'hello' | upper | reverse }}", nil))
}

func TestUnknownFilterAndFunction(t *testing.T) {
	rerr := renderErr(t, "{{ 'x' | nope }}", nil)
	assert.Equal(t, runtime.ErrorTypeUndefinedFilter, rerr.Type)

	rerr = renderErr(t, "{{ nope() }}", nil)
	assert.Equal(t, runtime.ErrorTypeUndefinedFunction, rerr.Type)
}

func TestFunctions(t *testing.T) {
	assert.Equal(t, "0,1,2", render(t, "{{ range(end=3) | join(sep=',') }}", nil))
	assert.Equal(t, "2,4,6", render(t, "{{ range(start=2, end=8, step_by=2) | join(sep=',') }}", nil))

	rerr := renderErr(t, "{{ throw(message='boom') }}", nil)
	assert.Equal(t, runtime.ErrorTypeFunction, rerr.Type)
	assert.Contains(t, rerr.Message, "boom")
}

func TestTests(t *testing.T) {
	data := map[string]any{"n": 3, "s": "hi", "items": []any{1}}
	tests := []struct {
		source string
		want   string
	}{
		{"{{ missing is undefined }}", "true"},
		{"{{ n is defined }}", "true"},
		{"{{ n is odd }}", "true"},
		{"{{ n is not even }}", "true"},
		{"{{ n is divisibleby(3) }}", "true"},
		{"{{ s is string }}", "true"},
		{"{{ n is number }}", "true"},
		{"{{ items is iterable }}", "true"},
		{"{{ s is starting_with('h') }}", "true"},
		{"{{ s is ending_with('i') }}", "true"},
		{"{{ s is containing('hi') }}", "true"},
		{"{{ s is matching('^h.$') }}", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.source, data))
		})
	}
}

func TestUnknownTest(t *testing.T) {
	rerr := renderErr(t, "{{ x is sparkly }}", nil)
	assert.Equal(t, runtime.ErrorTypeUndefinedTest, rerr.Type)
}

func TestWhitespaceTrim(t *testing.T) {
	assert.Equal(t, "abc", render(t, "a {{- 'b' -}} c", nil))
	assert.Equal(t, "a  b", render(t, "a {# note #} b", nil))
	assert.Equal(t, "ab", render(t, "a {#- note -#} b", nil))
	assert.Equal(t, "xy", render(t, "x\n{%- if true -%}\n{%- endif -%}\ny", nil))
}

func TestRawSection(t *testing.T) {
	assert.Equal(t, "{{ x }}", render(t, "{% raw %}{{ x }}{% endraw %}", nil))
	assert.Equal(t, "ab", render(t, "a {%- raw -%} {%- endraw -%} b", nil))
}

func TestFilterSection(t *testing.T) {
	assert.Equal(t, "AB1", render(t, "{% filter upper %}ab{{ 1 }}{% endfilter %}", nil))
}

func TestInheritanceAndSuper(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"base":  "<{% block content %}base{% endblock %}>",
		"mid":   "{% extends 'base' %}{% block content %}mid+{{ super() }}{% endblock %}",
		"child": "{% extends 'mid' %}{% block content %}child+{{ super() }}{% endblock %}",
	}))

	out, err := env.Render("child", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "<child+mid+base>", out)

	out, err = env.Render("mid", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "<mid+base>", out)

	out, err = env.Render("base", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "<base>", out)
}

func TestSuperWithoutAncestor(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("solo", "{% block a %}{{ super() }}{% endblock %}"))
	_, err := env.Render("solo", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeUnresolvedSuper, rerr.Type)
}

func TestInclude(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"partial": "[{{ v }}]",
		"main":    "a {% include 'partial' %} b",
	}))
	out, err := env.Render("main", ctxFrom(t, map[string]any{"v": 1}))
	require.NoError(t, err)
	assert.Equal(t, "a [1] b", out)
}

func TestIncludeCandidates(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"second": "two",
		"main":   "{% include ['first', 'second'] %}",
	}))
	out, err := env.Render("main", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "two", out)
}

func TestIncludeMissing(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main", "{% include 'gone' %}"))
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeMissingInclude, rerr.Type)

	require.NoError(t, env.AddRawTemplate("tolerant", "a{% include 'gone' ignore missing %}b"))
	out, err := env.Render("tolerant", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestMacros(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"macros": "{% macro input(label, size=20) %}<{{ label }}:{{ size }}>{% endmacro %}",
		"main":   "{% import 'macros' as forms %}{{ forms::input(label='name') }}{{ forms::input(label='age', size=3) }}",
	}))
	out, err := env.Render("main", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "<name:20><age:3>", out)
}

func TestMacroArity(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"macros": "{% macro m(a) %}{{ a }}{% endmacro %}",
		"main":   "{% import 'macros' as ns %}{{ ns::m() }}",
		"extra":  "{% import 'macros' as ns %}{{ ns::m(a=1, b=2) }}",
	}))
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeMacroArity, rerr.Type)

	_, err = env.Render("extra", value.Null())
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeMacroArity, rerr.Type)
}

func TestMacroScopeIsolation(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"macros": "{% macro peek() %}{{ secret }}{% endmacro %}",
		"main":   "{% import 'macros' as ns %}{% set secret = 1 %}{{ ns::peek() }}",
	}))
	// Caller locals are invisible inside a macro body.
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeUndefinedVariable, rerr.Type)

	// The render-wide global scope is visible.
	require.NoError(t, env.AddRawTemplate("global", "{% import 'macros' as ns %}{% set_global secret = 7 %}{{ ns::peek() }}"))
	out, err := env.Render("global", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "7", out)
}

func TestMacroSelfNamespace(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main",
		"{% macro inner() %}!{% endmacro %}{% macro outer() %}a{{ self::inner() }}{% endmacro %}{{ self::outer() }}"))
	out, err := env.Render("main", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "a!", out)
}

func TestUndefinedMacro(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"macros": "{% macro m() %}x{% endmacro %}",
		"main":   "{% import 'macros' as ns %}{{ ns::gone() }}",
		"nons":   "{{ ghost::m() }}",
	}))
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeUndefinedMacro, rerr.Type)

	_, err = env.Render("nons", value.Null())
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeUndefinedMacro, rerr.Type)
}

func TestAutoescape(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"page.html": "{{ v }}",
		"safe.html": "{{ v | safe }}",
		"page.txt":  "{{ v }}",
	}))
	ctx := ctxFrom(t, map[string]any{"v": `<b>&"</b>`})

	out, err := env.Render("page.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;&amp;&quot;&lt;&#x2F;b&gt;", out)

	out, err = env.Render("safe.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, `<b>&"</b>`, out)

	out, err = env.Render("page.txt", ctx)
	require.NoError(t, err)
	assert.Equal(t, `<b>&"</b>`, out)
}

func TestAutoescapeFilterSection(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"page.html": "{% filter upper %}{{ v }}{% endfilter %}",
		"safe.html": "{% filter safe %}{{ v }}{% endfilter %}",
	}))
	ctx := ctxFrom(t, map[string]any{"v": "<b>"})

	// The section body renders unescaped and the result is escaped once.
	out, err := env.Render("page.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "&lt;B&gt;", out)

	out, err = env.Render("safe.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "<b>", out)
}

func TestAutoescapeMacroCall(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplates(map[string]string{
		"macros.html": "{% macro echo(v) %}{{ v }}{% endmacro %}",
		"piped.html":  "{% import 'macros.html' as ui %}{{ ui::echo(v=x) | upper }}",
		"bare.html":   "{% import 'macros.html' as ui %}{{ ui::echo(v=x) }}",
	}))
	ctx := ctxFrom(t, map[string]any{"x": "<b>"})

	// A macro used in an expression feeds raw text to the filter chain;
	// the output statement escapes the final value once.
	out, err := env.Render("piped.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "&lt;B&gt;", out)

	out, err = env.Render("bare.html", ctx)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;", out)
}

func TestRecursionLimit(t *testing.T) {
	env := NewEnvironment()
	env.SetLimits(8, 0)
	require.NoError(t, env.AddRawTemplate("main",
		"{% macro rec() %}{{ self::rec() }}{% endmacro %}{{ self::rec() }}"))
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeResourceExhausted, rerr.Type)
}

func TestOpsLimit(t *testing.T) {
	env := NewEnvironment()
	env.SetLimits(0, 100)
	require.NoError(t, env.AddRawTemplate("main", "{% for x in range(end=1000) %}{{ x }}{% endfor %}"))
	_, err := env.Render("main", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeResourceExhausted, rerr.Type)
}

func TestNoPartialOutputOnError(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main", "visible {{ missing }}"))
	var sb strings.Builder
	err := env.RenderTo(&sb, "main", value.Null())
	require.Error(t, err)
	assert.Empty(t, sb.String())
}

func TestDeterministicRendering(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main", "{% for k, v in data %}{{ k }}={{ v }};{% endfor %}"))
	ctx := ctxFrom(t, map[string]any{"data": map[string]any{"b": 2, "a": 1, "c": 3}})

	first, err := env.Render("main", ctx)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := env.Render("main", ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a=1;b=2;c=3;", first)
}

func TestRenderString(t *testing.T) {
	env := NewEnvironment()
	out, err := env.RenderString("{{ 1 + 1 }}", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	// One-off sources can reach registered templates.
	require.NoError(t, env.AddRawTemplate("partial", "p"))
	out, err = env.RenderString("{% include 'partial' %}!", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "p!", out)
}

func TestExtend(t *testing.T) {
	base := NewEnvironment()
	require.NoError(t, base.AddRawTemplate("shared", "from base"))

	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("shared", "local wins"))
	env.Extend(base)

	out, err := env.Render("shared", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "local wins", out)
}

func TestValidate(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("broken", "{% extends 'gone' %}"))
	require.Error(t, env.Validate("broken"))

	require.NoError(t, env.AddRawTemplate("fine", "ok"))
	require.NoError(t, env.Validate("fine"))
}

func TestContextMustBeObject(t *testing.T) {
	env := NewEnvironment()
	require.NoError(t, env.AddRawTemplate("main", "x"))
	_, err := env.Render("main", value.Int(3))
	require.Error(t, err)

	out, err := env.Render("main", value.Null())
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestRenderUnknownTemplate(t *testing.T) {
	env := NewEnvironment()
	_, err := env.Render("ghost", value.Null())
	var rerr *runtime.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, runtime.ErrorTypeTemplateNotFound, rerr.Type)
}

func TestParseString(t *testing.T) {
	tpl, err := ParseString("x", "{{ 1 }}")
	require.NoError(t, err)
	assert.Equal(t, "x", tpl.Name)

	_, err = ParseString("x", "{% if %}")
	require.Error(t, err)
}
