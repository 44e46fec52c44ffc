package builtin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerTests(r *runtime.Registry) {
	r.RegisterTest("defined", func(val *value.Value, _ []value.Value) (bool, error) {
		return val != nil, nil
	})
	r.RegisterTest("undefined", func(val *value.Value, _ []value.Value) (bool, error) {
		return val == nil, nil
	})
	r.RegisterTest("odd", testParity(1))
	r.RegisterTest("even", testParity(0))
	r.RegisterTest("string", testKind(value.KindString))
	r.RegisterTest("object", testKind(value.KindObject))
	r.RegisterTest("number", func(val *value.Value, _ []value.Value) (bool, error) {
		return val != nil && val.IsNumber(), nil
	})
	r.RegisterTest("divisibleby", testDivisibleBy)
	r.RegisterTest("iterable", func(val *value.Value, _ []value.Value) (bool, error) {
		if val == nil {
			return false, nil
		}
		return val.Kind() == value.KindArray || val.Kind() == value.KindObject, nil
	})
	r.RegisterTest("starting_with", testStringArg("starting_with", strings.HasPrefix))
	r.RegisterTest("ending_with", testStringArg("ending_with", strings.HasSuffix))
	r.RegisterTest("containing", testContaining)
	r.RegisterTest("matching", testMatching)
}

func testKind(kind value.Kind) runtime.Test {
	return func(val *value.Value, _ []value.Value) (bool, error) {
		return val != nil && val.Kind() == kind, nil
	}
}

func testParity(want int64) runtime.Test {
	return func(val *value.Value, _ []value.Value) (bool, error) {
		if val == nil || val.Kind() != value.KindInt {
			return false, fmt.Errorf("needs an int subject")
		}
		n := val.AsInt() % 2
		if n < 0 {
			n += 2
		}
		return n == want, nil
	}
}

func testDivisibleBy(val *value.Value, args []value.Value) (bool, error) {
	if val == nil || val.Kind() != value.KindInt {
		return false, fmt.Errorf("needs an int subject")
	}
	if len(args) != 1 || args[0].Kind() != value.KindInt {
		return false, fmt.Errorf("needs one int argument")
	}
	d := args[0].AsInt()
	if d == 0 {
		return false, fmt.Errorf("cannot divide by zero")
	}
	return val.AsInt()%d == 0, nil
}

func testStringArg(name string, pred func(s, arg string) bool) runtime.Test {
	return func(val *value.Value, args []value.Value) (bool, error) {
		if val == nil || val.Kind() != value.KindString {
			return false, fmt.Errorf("needs a string subject")
		}
		if len(args) != 1 || args[0].Kind() != value.KindString {
			return false, fmt.Errorf("%s needs one string argument", name)
		}
		return pred(val.AsString(), args[0].AsString()), nil
	}
}

// testContaining mirrors the `in` operator with the operands flipped: the
// subject is the container.
func testContaining(val *value.Value, args []value.Value) (bool, error) {
	if val == nil {
		return false, fmt.Errorf("needs a defined subject")
	}
	if len(args) != 1 {
		return false, fmt.Errorf("needs one argument")
	}
	needle := args[0]
	switch val.Kind() {
	case value.KindString:
		if needle.Kind() != value.KindString {
			return false, fmt.Errorf("substring check needs a string argument")
		}
		return strings.Contains(val.AsString(), needle.AsString()), nil
	case value.KindArray:
		for _, item := range val.AsArray() {
			if item.Equal(needle) {
				return true, nil
			}
		}
		return false, nil
	case value.KindObject:
		if needle.Kind() != value.KindString {
			return false, fmt.Errorf("object key check needs a string argument")
		}
		_, ok := val.AsObject().Get(needle.AsString())
		return ok, nil
	default:
		return false, fmt.Errorf("subject must be a string, array or object")
	}
}

func testMatching(val *value.Value, args []value.Value) (bool, error) {
	if val == nil || val.Kind() != value.KindString {
		return false, fmt.Errorf("needs a string subject")
	}
	if len(args) != 1 || args[0].Kind() != value.KindString {
		return false, fmt.Errorf("needs one string argument")
	}
	re, err := regexp.Compile(args[0].AsString())
	if err != nil {
		return false, fmt.Errorf("bad pattern %q: %w", args[0].AsString(), err)
	}
	return re.MatchString(val.AsString()), nil
}
