// Package builtin provides the stock filters, functions and tests an
// environment ships with.
package builtin

import (
	"fmt"
	"strings"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

// Default returns a registry populated with the full builtin catalogue.
func Default() *runtime.Registry {
	r := runtime.NewRegistry()
	registerStringFilters(r)
	registerArrayFilters(r)
	registerNumberFilters(r)
	registerCommonFilters(r)
	registerObjectFilters(r)
	registerFunctions(r)
	registerTests(r)
	return r
}

func needString(v value.Value) (string, error) {
	if v.Kind() != value.KindString {
		return "", fmt.Errorf("expected a string, got %s", v.Kind())
	}
	return v.AsString(), nil
}

func needArray(v value.Value) ([]value.Value, error) {
	if v.Kind() != value.KindArray {
		return nil, fmt.Errorf("expected an array, got %s", v.Kind())
	}
	return v.AsArray(), nil
}

func needNumber(v value.Value) error {
	if !v.IsNumber() {
		return fmt.Errorf("expected a number, got %s", v.Kind())
	}
	return nil
}

// attrPath follows a dotted attribute path into a value, as used by the
// sort/filter/map/group_by family.
func attrPath(v value.Value, path string) (value.Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if cur.Kind() != value.KindObject {
			return value.Null(), false
		}
		next, ok := cur.AsObject().Get(seg)
		if !ok {
			return value.Null(), false
		}
		cur = next
	}
	return cur, true
}
