package builtin

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerFunctions(r *runtime.Registry) {
	r.RegisterFunction("range", fnRange)
	r.RegisterFunction("now", fnNow)
	r.RegisterFunction("throw", fnThrow)
	r.RegisterFunction("get_env", fnGetEnv)
	r.RegisterFunction("random_int", fnRandomInt)
	r.RegisterFunction("pick_random", fnPickRandom)
	r.RegisterFunction("hex2rgb", fnHex2RGB)
}

func fnRange(kwargs runtime.Kwargs) (value.Value, error) {
	if !kwargs.Has("end") {
		return value.Null(), fmt.Errorf("needs an `end` argument")
	}
	end := kwargs.Get("end", value.Null())
	start := kwargs.Get("start", value.Int(0))
	step := kwargs.Get("step_by", value.Int(1))
	for name, v := range map[string]value.Value{"end": end, "start": start, "step_by": step} {
		if v.Kind() != value.KindInt {
			return value.Null(), fmt.Errorf("%s must be an int, got %s", name, v.Kind())
		}
	}
	s, e, by := start.AsInt(), end.AsInt(), step.AsInt()
	if by <= 0 {
		return value.Null(), fmt.Errorf("step_by must be positive")
	}
	if e < s {
		return value.Null(), fmt.Errorf("end must not be smaller than start")
	}
	var items []value.Value
	for i := s; i < e; i += by {
		items = append(items, value.Int(i))
	}
	return value.Array(items...), nil
}

func fnNow(kwargs runtime.Kwargs) (value.Value, error) {
	t := time.Now()
	if kwargs.Get("utc", value.Bool(false)).Truthy() {
		t = t.UTC()
	}
	if kwargs.Get("timestamp", value.Bool(false)).Truthy() {
		return value.Int(t.Unix()), nil
	}
	return value.String(t.Format(time.RFC3339)), nil
}

func fnThrow(kwargs runtime.Kwargs) (value.Value, error) {
	msg, err := needString(kwargs.Get("message", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("message: %w", err)
	}
	return value.Null(), fmt.Errorf("%s", msg)
}

func fnGetEnv(kwargs runtime.Kwargs) (value.Value, error) {
	name, err := needString(kwargs.Get("name", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("name: %w", err)
	}
	if name == "" {
		return value.Null(), fmt.Errorf("needs a `name` argument")
	}
	if v, ok := os.LookupEnv(name); ok {
		return value.String(v), nil
	}
	if kwargs.Has("default") {
		return kwargs.Get("default", value.Null()), nil
	}
	return value.Null(), fmt.Errorf("environment variable %q is not set", name)
}

func fnRandomInt(kwargs runtime.Kwargs) (value.Value, error) {
	start := kwargs.Get("start", value.Int(0))
	end := kwargs.Get("end", value.Null())
	if end.Kind() != value.KindInt || start.Kind() != value.KindInt {
		return value.Null(), fmt.Errorf("start and end must be ints")
	}
	s, e := start.AsInt(), end.AsInt()
	if e <= s {
		return value.Null(), fmt.Errorf("end must be greater than start")
	}
	return value.Int(s + rand.Int64N(e-s)), nil
}

func fnPickRandom(kwargs runtime.Kwargs) (value.Value, error) {
	from := kwargs.Get("from", value.Null())
	arr, err := needArray(from)
	if err != nil {
		return value.Null(), fmt.Errorf("from: %w", err)
	}
	if len(arr) == 0 {
		return value.Null(), fmt.Errorf("cannot pick from an empty array")
	}
	return arr[rand.IntN(len(arr))], nil
}

// fnHex2RGB parses #rgb or #rrggbb into an object with r, g and b keys.
func fnHex2RGB(kwargs runtime.Kwargs) (value.Value, error) {
	hex, err := needString(kwargs.Get("hex", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("hex: %w", err)
	}
	hex = strings.TrimPrefix(hex, "#")

	var parts [3]string
	switch len(hex) {
	case 3:
		for i := 0; i < 3; i++ {
			parts[i] = strings.Repeat(hex[i:i+1], 2)
		}
	case 6:
		for i := 0; i < 3; i++ {
			parts[i] = hex[i*2 : i*2+2]
		}
	default:
		return value.Null(), fmt.Errorf("%q is not a 3 or 6 digit hex color", hex)
	}

	obj := value.NewObject()
	for i, name := range []string{"r", "g", "b"} {
		n, err := strconv.ParseUint(parts[i], 16, 8)
		if err != nil {
			return value.Null(), fmt.Errorf("%q is not a hex color: %w", hex, err)
		}
		obj.Set(name, value.Int(int64(n)))
	}
	return value.ObjectValue(obj), nil
}
