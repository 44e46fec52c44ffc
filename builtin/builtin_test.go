package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func applyFilter(t *testing.T, name string, val value.Value, kwargs runtime.Kwargs) value.Value {
	t.Helper()
	f, ok := Default().Filter(name)
	require.True(t, ok, "filter %q is not registered", name)
	out, err := f(val, kwargs)
	require.NoError(t, err)
	return out
}

func callFunction(t *testing.T, name string, kwargs runtime.Kwargs) value.Value {
	t.Helper()
	f, ok := Default().Function(name)
	require.True(t, ok, "function %q is not registered", name)
	out, err := f(kwargs)
	require.NoError(t, err)
	return out
}

func TestStringFilters(t *testing.T) {
	tests := []struct {
		filter string
		in     string
		kwargs runtime.Kwargs
		want   string
	}{
		{"upper", "héllo", nil, "HÉLLO"},
		{"lower", "HI", nil, "hi"},
		{"capitalize", "wORLD", nil, "World"},
		{"title", "foo bar", nil, "Foo Bar"},
		{"trim", "  x  ", nil, "x"},
		{"trim_start", "  x  ", nil, "x  "},
		{"trim_end", "  x  ", nil, "  x"},
		{"trim_start_matches", "//a//", runtime.Kwargs{"pat": value.String("//")}, "a//"},
		{"trim_end_matches", "//a//", runtime.Kwargs{"pat": value.String("//")}, "//a"},
		{"truncate", "hello", runtime.Kwargs{"length": value.Int(2)}, "he…"},
		{"truncate", "hi", runtime.Kwargs{"length": value.Int(5)}, "hi"},
		{"replace", "aXbX", runtime.Kwargs{"from": value.String("X"), "to": value.String("-")}, "a-b-"},
		{"linebreaksbr", "a\nb\r\nc", nil, "a<br>b<br>c"},
		{"striptags", "<p>hi <b>there</b></p>", nil, "hi there"},
		{"spaceless", "<p>\n  <b>x</b>  </p>", nil, "<p><b>x</b></p>"},
		{"urlencode", "/path to/x?a=b", nil, "/path%20to/x%3Fa%3Db"},
		{"urlencode_strict", "a/b c", nil, "a%2Fb%20c"},
		{"escape", `<&>`, nil, "&lt;&amp;&gt;"},
		{"escape_xml", `<'>`, nil, "&lt;&apos;&gt;"},
		{"slugify", "Hèllo, Wörld!", nil, "hello-world"},
		{"addslashes", `it's "ok"`, nil, `it\'s \"ok\"`},
		{"indent", "a\n\nb", runtime.Kwargs{"prefix": value.String("> ")}, "a\n\n> b"},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"/"+tt.in, func(t *testing.T) {
			out := applyFilter(t, tt.filter, value.String(tt.in), tt.kwargs)
			assert.Equal(t, tt.want, out.AsString())
		})
	}
}

func TestWordcount(t *testing.T) {
	out := applyFilter(t, "wordcount", value.String("one two  three"), nil)
	assert.Equal(t, int64(3), out.AsInt())
}

func TestSplit(t *testing.T) {
	out := applyFilter(t, "split", value.String("a,b,c"), runtime.Kwargs{"pat": value.String(",")})
	require.Equal(t, value.KindArray, out.Kind())
	assert.Len(t, out.AsArray(), 3)
}

func TestIntAndFloatConversion(t *testing.T) {
	assert.Equal(t, int64(12), applyFilter(t, "int", value.String("12"), nil).AsInt())
	assert.Equal(t, int64(3), applyFilter(t, "int", value.String("3.9"), nil).AsInt())
	assert.Equal(t, int64(255), applyFilter(t, "int", value.String("ff"), runtime.Kwargs{"base": value.Int(16)}).AsInt())
	assert.Equal(t, int64(0), applyFilter(t, "int", value.String("nope"), runtime.Kwargs{"default": value.Int(0)}).AsInt())
	assert.Equal(t, 2.5, applyFilter(t, "float", value.String("2.5"), nil).AsFloat())

	f, _ := Default().Filter("int")
	_, err := f(value.String("nope"), nil)
	require.Error(t, err)
}

func TestMarkdown(t *testing.T) {
	out := applyFilter(t, "markdown", value.String("# Title\n\nsome *em* text"), nil)
	assert.Contains(t, out.AsString(), "<h1>Title</h1>")
	assert.Contains(t, out.AsString(), "<em>em</em>")
}

func TestArrayFilters(t *testing.T) {
	arr := value.Array(value.Int(3), value.Int(1), value.Int(2))

	assert.Equal(t, int64(3), applyFilter(t, "first", arr, nil).AsInt())
	assert.Equal(t, int64(2), applyFilter(t, "last", arr, nil).AsInt())
	assert.Equal(t, int64(1), applyFilter(t, "nth", arr, runtime.Kwargs{"n": value.Int(1)}).AsInt())
	assert.True(t, applyFilter(t, "nth", arr, runtime.Kwargs{"n": value.Int(9)}).IsNull())
	assert.Equal(t, "3-1-2", applyFilter(t, "join", arr, runtime.Kwargs{"sep": value.String("-")}).AsString())

	sorted := applyFilter(t, "sort", arr, nil).AsArray()
	assert.Equal(t, int64(1), sorted[0].AsInt())
	assert.Equal(t, int64(3), sorted[2].AsInt())

	sliced := applyFilter(t, "slice", arr, runtime.Kwargs{"start": value.Int(1)}).AsArray()
	require.Len(t, sliced, 2)
	assert.Equal(t, int64(1), sliced[0].AsInt())

	negative := applyFilter(t, "slice", arr, runtime.Kwargs{"end": value.Int(-1)}).AsArray()
	require.Len(t, negative, 2)

	dupes := value.Array(value.String("A"), value.String("a"), value.String("b"))
	uniq := applyFilter(t, "unique", dupes, nil).AsArray()
	require.Len(t, uniq, 2)

	uniqCS := applyFilter(t, "unique", dupes, runtime.Kwargs{"case_sensitive": value.Bool(true)}).AsArray()
	require.Len(t, uniqCS, 3)

	joined := applyFilter(t, "concat", arr, runtime.Kwargs{"with": value.Int(4)}).AsArray()
	require.Len(t, joined, 4)
}

func personList() value.Value {
	mk := func(name string, age int64) value.Value {
		o := value.NewObject()
		o.Set("name", value.String(name))
		o.Set("age", value.Int(age))
		return value.ObjectValue(o)
	}
	return value.Array(mk("bob", 30), mk("amy", 20), mk("cal", 30))
}

func TestAttributeFilters(t *testing.T) {
	people := personList()

	names := applyFilter(t, "map", people, runtime.Kwargs{"attribute": value.String("name")}).AsArray()
	require.Len(t, names, 3)
	assert.Equal(t, "bob", names[0].AsString())

	sorted := applyFilter(t, "sort", people, runtime.Kwargs{"attribute": value.String("age")}).AsArray()
	age0, _ := sorted[0].AsObject().Get("age")
	assert.Equal(t, int64(20), age0.AsInt())

	thirty := applyFilter(t, "filter", people, runtime.Kwargs{
		"attribute": value.String("age"), "value": value.Int(30),
	}).AsArray()
	require.Len(t, thirty, 2)

	grouped := applyFilter(t, "group_by", people, runtime.Kwargs{"attribute": value.String("age")})
	require.Equal(t, value.KindObject, grouped.Kind())
	g30, ok := grouped.AsObject().Get("30")
	require.True(t, ok)
	assert.Len(t, g30.AsArray(), 2)
}

func TestNumberFilters(t *testing.T) {
	assert.Equal(t, int64(4), applyFilter(t, "abs", value.Int(-4), nil).AsInt())
	assert.Equal(t, 1.5, applyFilter(t, "abs", value.Float(-1.5), nil).AsFloat())

	assert.Equal(t, "s", applyFilter(t, "pluralize", value.Int(2), nil).AsString())
	assert.Equal(t, "", applyFilter(t, "pluralize", value.Int(1), nil).AsString())
	assert.Equal(t, "ies", applyFilter(t, "pluralize", value.Int(0), runtime.Kwargs{
		"plural": value.String("ies"),
	}).AsString())

	assert.Equal(t, 2.0, applyFilter(t, "round", value.Float(1.5), nil).AsFloat())
	assert.Equal(t, 1.0, applyFilter(t, "round", value.Float(1.5), runtime.Kwargs{"method": value.String("floor")}).AsFloat())
	assert.Equal(t, 1.35, applyFilter(t, "round", value.Float(1.348), runtime.Kwargs{"precision": value.Int(2)}).AsFloat())

	assert.Equal(t, "500 B", applyFilter(t, "filesizeformat", value.Int(500), nil).AsString())
	assert.Equal(t, "1.50 KB", applyFilter(t, "filesizeformat", value.Int(1500), nil).AsString())
	assert.Equal(t, "2.00 MB", applyFilter(t, "filesizeformat", value.Int(2_000_000), nil).AsString())
}

func TestCommonFilters(t *testing.T) {
	assert.Equal(t, int64(5), applyFilter(t, "length", value.String("héllo"), nil).AsInt())
	assert.Equal(t, int64(2), applyFilter(t, "length", value.Array(value.Int(1), value.Int(2)), nil).AsInt())
	assert.Equal(t, "cba", applyFilter(t, "reverse", value.String("abc"), nil).AsString())

	obj := value.NewObject()
	obj.Set("z", value.Int(1))
	obj.Set("a", value.Int(2))
	assert.Equal(t, `{"z":1,"a":2}`, applyFilter(t, "json_encode", value.ObjectValue(obj), nil).AsString())

	assert.Equal(t, "42", applyFilter(t, "as_str", value.Int(42), nil).AsString())
	assert.Equal(t, "fb", applyFilter(t, "default", value.Null(), runtime.Kwargs{"value": value.String("fb")}).AsString())
	assert.Equal(t, int64(1), applyFilter(t, "default", value.Int(1), runtime.Kwargs{"value": value.Int(9)}).AsInt())
}

func TestDateFilter(t *testing.T) {
	// 2024-05-15T10:30:00Z
	ts := value.Int(1715769000)
	assert.Equal(t, "2024-05-15", applyFilter(t, "date", ts, nil).AsString())
	assert.Equal(t, "15/05/2024 10:30", applyFilter(t, "date", ts, runtime.Kwargs{
		"format": value.String("%d/%m/%Y %H:%M"),
	}).AsString())

	assert.Equal(t, "2019-09-19", applyFilter(t, "date", value.String("2019-09-19T13:18:48"), nil).AsString())

	f, _ := Default().Filter("date")
	_, err := f(value.String("not a date"), nil)
	require.Error(t, err)
}

func TestGetFilter(t *testing.T) {
	obj := value.NewObject()
	obj.Set("k", value.Int(1))
	v := value.ObjectValue(obj)

	assert.Equal(t, int64(1), applyFilter(t, "get", v, runtime.Kwargs{"key": value.String("k")}).AsInt())
	assert.Equal(t, "d", applyFilter(t, "get", v, runtime.Kwargs{
		"key": value.String("x"), "default": value.String("d"),
	}).AsString())

	f, _ := Default().Filter("get")
	_, err := f(v, runtime.Kwargs{"key": value.String("x")})
	require.Error(t, err)
}

func TestRange(t *testing.T) {
	out := callFunction(t, "range", runtime.Kwargs{"end": value.Int(4)}).AsArray()
	require.Len(t, out, 4)
	assert.Equal(t, int64(0), out[0].AsInt())

	out = callFunction(t, "range", runtime.Kwargs{
		"start": value.Int(2), "end": value.Int(10), "step_by": value.Int(3),
	}).AsArray()
	require.Len(t, out, 3)
	assert.Equal(t, int64(8), out[2].AsInt())

	fn, _ := Default().Function("range")
	_, err := fn(runtime.Kwargs{"end": value.Int(2), "start": value.Int(5)})
	require.Error(t, err)
}

func TestNow(t *testing.T) {
	ts := callFunction(t, "now", runtime.Kwargs{"timestamp": value.Bool(true)})
	assert.Equal(t, value.KindInt, ts.Kind())
	assert.Greater(t, ts.AsInt(), int64(1_700_000_000))

	s := callFunction(t, "now", nil)
	assert.Equal(t, value.KindString, s.Kind())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("LYSINE_TEST_VAR", "val")
	assert.Equal(t, "val", callFunction(t, "get_env", runtime.Kwargs{"name": value.String("LYSINE_TEST_VAR")}).AsString())
	assert.Equal(t, "fb", callFunction(t, "get_env", runtime.Kwargs{
		"name": value.String("LYSINE_TEST_MISSING"), "default": value.String("fb"),
	}).AsString())

	fn, _ := Default().Function("get_env")
	_, err := fn(runtime.Kwargs{"name": value.String("LYSINE_TEST_MISSING")})
	require.Error(t, err)
}

func TestRandomFunctions(t *testing.T) {
	n := callFunction(t, "random_int", runtime.Kwargs{"start": value.Int(5), "end": value.Int(10)}).AsInt()
	assert.GreaterOrEqual(t, n, int64(5))
	assert.Less(t, n, int64(10))

	arr := value.Array(value.String("a"), value.String("b"))
	picked := callFunction(t, "pick_random", runtime.Kwargs{"from": arr})
	assert.Contains(t, []string{"a", "b"}, picked.AsString())
}

func TestHex2RGB(t *testing.T) {
	rgb := callFunction(t, "hex2rgb", runtime.Kwargs{"hex": value.String("#ff8000")}).AsObject()
	r, _ := rgb.Get("r")
	g, _ := rgb.Get("g")
	b, _ := rgb.Get("b")
	assert.Equal(t, int64(255), r.AsInt())
	assert.Equal(t, int64(128), g.AsInt())
	assert.Equal(t, int64(0), b.AsInt())

	short := callFunction(t, "hex2rgb", runtime.Kwargs{"hex": value.String("#fff")}).AsObject()
	r, _ = short.Get("r")
	assert.Equal(t, int64(255), r.AsInt())

	fn, _ := Default().Function("hex2rgb")
	_, err := fn(runtime.Kwargs{"hex": value.String("#zzzz")})
	require.Error(t, err)
}

func TestThrow(t *testing.T) {
	fn, _ := Default().Function("throw")
	_, err := fn(runtime.Kwargs{"message": value.String("boom")})
	require.EqualError(t, err, "boom")
}

func TestTesters(t *testing.T) {
	run := func(name string, subject *value.Value, args ...value.Value) bool {
		tst, ok := Default().Test(name)
		require.True(t, ok, "test %q is not registered", name)
		res, err := tst(subject, args)
		require.NoError(t, err)
		return res
	}
	v := func(val value.Value) *value.Value { return &val }

	assert.True(t, run("defined", v(value.Int(1))))
	assert.False(t, run("defined", nil))
	assert.True(t, run("undefined", nil))
	assert.True(t, run("odd", v(value.Int(3))))
	assert.True(t, run("even", v(value.Int(-2))))
	assert.True(t, run("string", v(value.String("x"))))
	assert.True(t, run("number", v(value.Float(1.5))))
	assert.True(t, run("object", v(value.ObjectValue(value.NewObject()))))
	assert.True(t, run("iterable", v(value.Array())))
	assert.False(t, run("iterable", v(value.String("x"))))
	assert.True(t, run("divisibleby", v(value.Int(9)), value.Int(3)))
	assert.True(t, run("starting_with", v(value.String("hello")), value.String("he")))
	assert.True(t, run("ending_with", v(value.String("hello")), value.String("lo")))
	assert.True(t, run("containing", v(value.Array(value.Int(2))), value.Int(2)))
	assert.True(t, run("matching", v(value.String("abc123")), value.String(`\d+`)))
	assert.False(t, run("matching", v(value.String("abc")), value.String(`^\d+$`)))
}

func TestTesterErrors(t *testing.T) {
	odd, _ := Default().Test("odd")
	_, err := odd(nil, nil)
	require.Error(t, err)

	div, _ := Default().Test("divisibleby")
	subject := value.Int(4)
	_, err = div(&subject, []value.Value{value.Int(0)})
	require.Error(t, err)

	match, _ := Default().Test("matching")
	s := value.String("x")
	_, err = match(&s, []value.Value{value.String("(")})
	require.Error(t, err)
}
