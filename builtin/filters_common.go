package builtin

import (
	"fmt"
	"time"

	"github.com/goodsign/monday"
	"github.com/ncruces/go-strftime"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerCommonFilters(r *runtime.Registry) {
	r.RegisterFilter("length", filterLength)
	r.RegisterFilter("reverse", filterReverse)
	r.RegisterFilter("date", filterDate)
	r.RegisterFilter("json_encode", filterJSONEncode)
	r.RegisterFilter("as_str", func(val value.Value, _ runtime.Kwargs) (value.Value, error) {
		return value.String(val.Str()), nil
	})
	r.RegisterFilter("default", filterDefault)
}

func filterLength(val value.Value, _ runtime.Kwargs) (value.Value, error) {
	switch val.Kind() {
	case value.KindString:
		return value.Int(int64(len([]rune(val.AsString())))), nil
	case value.KindArray:
		return value.Int(int64(len(val.AsArray()))), nil
	case value.KindObject:
		return value.Int(int64(val.AsObject().Len())), nil
	default:
		return value.Null(), fmt.Errorf("cannot take the length of a %s", val.Kind())
	}
}

func filterReverse(val value.Value, _ runtime.Kwargs) (value.Value, error) {
	switch val.Kind() {
	case value.KindString:
		chars := []rune(val.AsString())
		for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
			chars[i], chars[j] = chars[j], chars[i]
		}
		return value.String(string(chars)), nil
	case value.KindArray:
		arr := val.AsArray()
		out := make([]value.Value, len(arr))
		for i, item := range arr {
			out[len(arr)-1-i] = item
		}
		return value.Array(out...), nil
	default:
		return value.Null(), fmt.Errorf("cannot reverse a %s", val.Kind())
	}
}

// dateInputLayouts are tried in order when the date filter input is a
// string rather than a unix timestamp.
var dateInputLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// filterDate formats a unix timestamp or a date string with a
// strftime-style format. An optional locale localizes month and day names.
func filterDate(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	format, err := needString(kwargs.Get("format", value.String("%Y-%m-%d")))
	if err != nil {
		return value.Null(), fmt.Errorf("format: %w", err)
	}

	var t time.Time
	switch val.Kind() {
	case value.KindInt:
		t = time.Unix(val.AsInt(), 0).UTC()
	case value.KindString:
		s := val.AsString()
		parsed := false
		for _, layout := range dateInputLayouts {
			if p, perr := time.Parse(layout, s); perr == nil {
				t = p
				parsed = true
				break
			}
		}
		if !parsed {
			return value.Null(), fmt.Errorf("cannot parse %q as a date", s)
		}
	default:
		return value.Null(), fmt.Errorf("expected a timestamp or a date string, got %s", val.Kind())
	}

	if kwargs.Has("timezone") {
		tz, err := needString(kwargs.Get("timezone", value.Null()))
		if err != nil {
			return value.Null(), fmt.Errorf("timezone: %w", err)
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return value.Null(), fmt.Errorf("unknown timezone %q", tz)
		}
		t = t.In(loc)
	}

	if kwargs.Has("locale") {
		locale, err := needString(kwargs.Get("locale", value.Null()))
		if err != nil {
			return value.Null(), fmt.Errorf("locale: %w", err)
		}
		layout, err := strftime.Layout(format)
		if err != nil {
			return value.Null(), fmt.Errorf("bad date format %q: %w", format, err)
		}
		return value.String(monday.Format(t, layout, monday.Locale(locale))), nil
	}

	return value.String(strftime.Format(format, t)), nil
}

func filterJSONEncode(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	indent := ""
	if kwargs.Get("pretty", value.Bool(false)).Truthy() {
		indent = "  "
	}
	return value.String(val.JSON(indent)), nil
}

// filterDefault replaces a null value. Undefined identifiers are rescued
// before the filter runs, so only null reaches here.
func filterDefault(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	if !kwargs.Has("value") {
		return value.Null(), fmt.Errorf("needs a `value` argument")
	}
	if val.IsNull() {
		return kwargs.Get("value", value.Null()), nil
	}
	return val, nil
}
