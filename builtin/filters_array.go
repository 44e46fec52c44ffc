package builtin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerArrayFilters(r *runtime.Registry) {
	r.RegisterFilter("first", func(val value.Value, _ runtime.Kwargs) (value.Value, error) {
		arr, err := needArray(val)
		if err != nil {
			return value.Null(), err
		}
		if len(arr) == 0 {
			return value.Null(), nil
		}
		return arr[0], nil
	})
	r.RegisterFilter("last", func(val value.Value, _ runtime.Kwargs) (value.Value, error) {
		arr, err := needArray(val)
		if err != nil {
			return value.Null(), err
		}
		if len(arr) == 0 {
			return value.Null(), nil
		}
		return arr[len(arr)-1], nil
	})
	r.RegisterFilter("nth", filterNth)
	r.RegisterFilter("join", filterJoin)
	r.RegisterFilter("sort", filterSort)
	r.RegisterFilter("unique", filterUnique)
	r.RegisterFilter("slice", filterSlice)
	r.RegisterFilter("group_by", filterGroupBy)
	r.RegisterFilter("filter", filterFilter)
	r.RegisterFilter("map", filterMap)
	r.RegisterFilter("concat", filterConcat)
}

func filterNth(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	n := kwargs.Get("n", value.Int(0))
	if err := needNumber(n); err != nil {
		return value.Null(), fmt.Errorf("n: %w", err)
	}
	i := n.AsInt()
	if i < 0 || i >= int64(len(arr)) {
		return value.Null(), nil
	}
	return arr[i], nil
}

func filterJoin(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	sep, err := needString(kwargs.Get("sep", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("sep: %w", err)
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = item.Str()
	}
	return value.String(strings.Join(parts, sep)), nil
}

func filterSort(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	attribute, err := needString(kwargs.Get("attribute", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("attribute: %w", err)
	}
	out := make([]value.Value, len(arr))
	copy(out, arr)

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := attrPath(out[i], attribute)
		b, bok := attrPath(out[j], attribute)
		if !aok || !bok {
			if sortErr == nil {
				sortErr = fmt.Errorf("attribute %q is missing from an item", attribute)
			}
			return false
		}
		cmp, err := a.Compare(b)
		if err != nil {
			if sortErr == nil {
				sortErr = err
			}
			return false
		}
		return cmp < 0
	})
	if sortErr != nil {
		return value.Null(), sortErr
	}
	return value.Array(out...), nil
}

func filterUnique(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	attribute, err := needString(kwargs.Get("attribute", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("attribute: %w", err)
	}
	caseSensitive := kwargs.Get("case_sensitive", value.Bool(false)).Truthy()

	var out []value.Value
	var seen []value.Value
	for _, item := range arr {
		key, ok := attrPath(item, attribute)
		if !ok {
			continue
		}
		if key.Kind() == value.KindString && !caseSensitive {
			key = value.String(strings.ToLower(key.AsString()))
		}
		dup := false
		for _, s := range seen {
			if s.Equal(key) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, key)
			out = append(out, item)
		}
	}
	return value.Array(out...), nil
}

func filterSlice(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	n := int64(len(arr))
	start := kwargs.Get("start", value.Int(0))
	end := kwargs.Get("end", value.Int(n))
	if err := needNumber(start); err != nil {
		return value.Null(), fmt.Errorf("start: %w", err)
	}
	if err := needNumber(end); err != nil {
		return value.Null(), fmt.Errorf("end: %w", err)
	}
	// Negative bounds count from the end.
	s, e := start.AsInt(), end.AsInt()
	if s < 0 {
		s += n
	}
	if e < 0 {
		e += n
	}
	s = max(0, min(s, n))
	e = max(s, min(e, n))
	return value.Array(arr[s:e]...), nil
}

func filterGroupBy(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	attribute, err := needString(kwargs.Get("attribute", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("attribute: %w", err)
	}
	if attribute == "" {
		return value.Null(), fmt.Errorf("needs an `attribute` argument")
	}

	groups := value.NewObject()
	for _, item := range arr {
		key, ok := attrPath(item, attribute)
		if !ok || key.IsNull() {
			continue
		}
		name := key.Str()
		existing, ok := groups.Get(name)
		if !ok {
			existing = value.Array()
		}
		groups.Set(name, value.Array(append(existing.AsArray(), item)...))
	}
	return value.ObjectValue(groups), nil
}

func filterFilter(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	attribute, err := needString(kwargs.Get("attribute", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("attribute: %w", err)
	}
	if attribute == "" {
		return value.Null(), fmt.Errorf("needs an `attribute` argument")
	}
	want := kwargs.Get("value", value.Null())

	var out []value.Value
	for _, item := range arr {
		got, ok := attrPath(item, attribute)
		if !ok {
			continue
		}
		if got.Equal(want) {
			out = append(out, item)
		}
	}
	return value.Array(out...), nil
}

func filterMap(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	attribute, err := needString(kwargs.Get("attribute", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("attribute: %w", err)
	}
	if attribute == "" {
		return value.Null(), fmt.Errorf("needs an `attribute` argument")
	}
	var out []value.Value
	for _, item := range arr {
		got, ok := attrPath(item, attribute)
		if !ok {
			continue
		}
		out = append(out, got)
	}
	return value.Array(out...), nil
}

func filterConcat(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	arr, err := needArray(val)
	if err != nil {
		return value.Null(), err
	}
	if !kwargs.Has("with") {
		return value.Null(), fmt.Errorf("needs a `with` argument")
	}
	with := kwargs.Get("with", value.Null())

	out := make([]value.Value, len(arr), len(arr)+1)
	copy(out, arr)
	if with.Kind() == value.KindArray {
		out = append(out, with.AsArray()...)
	} else {
		out = append(out, with)
	}
	return value.Array(out...), nil
}
