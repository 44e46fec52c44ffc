package builtin

import (
	"fmt"
	"math"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerNumberFilters(r *runtime.Registry) {
	r.RegisterFilter("abs", filterAbs)
	r.RegisterFilter("pluralize", filterPluralize)
	r.RegisterFilter("round", filterRound)
	r.RegisterFilter("filesizeformat", filterFilesizeformat)
}

func filterAbs(val value.Value, _ runtime.Kwargs) (value.Value, error) {
	switch val.Kind() {
	case value.KindInt:
		n := val.AsInt()
		if n < 0 {
			n = -n
		}
		return value.Int(n), nil
	case value.KindFloat:
		return value.Float(math.Abs(val.AsFloat())), nil
	default:
		return value.Null(), fmt.Errorf("expected a number, got %s", val.Kind())
	}
}

func filterPluralize(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	if err := needNumber(val); err != nil {
		return value.Null(), err
	}
	singular, err := needString(kwargs.Get("singular", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("singular: %w", err)
	}
	plural, err := needString(kwargs.Get("plural", value.String("s")))
	if err != nil {
		return value.Null(), fmt.Errorf("plural: %w", err)
	}
	if math.Abs(val.AsFloat()) == 1 {
		return value.String(singular), nil
	}
	return value.String(plural), nil
}

func filterRound(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	if err := needNumber(val); err != nil {
		return value.Null(), err
	}
	method, err := needString(kwargs.Get("method", value.String("common")))
	if err != nil {
		return value.Null(), fmt.Errorf("method: %w", err)
	}
	precision := kwargs.Get("precision", value.Int(0))
	if err := needNumber(precision); err != nil {
		return value.Null(), fmt.Errorf("precision: %w", err)
	}

	mult := math.Pow(10, float64(precision.AsInt()))
	f := val.AsFloat() * mult
	switch method {
	case "common":
		f = math.Round(f)
	case "ceil":
		f = math.Ceil(f)
	case "floor":
		f = math.Floor(f)
	default:
		return value.Null(), fmt.Errorf("unknown rounding method %q", method)
	}
	return value.Float(f / mult), nil
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

func filterFilesizeformat(val value.Value, _ runtime.Kwargs) (value.Value, error) {
	if err := needNumber(val); err != nil {
		return value.Null(), err
	}
	size := val.AsFloat()
	neg := size < 0
	size = math.Abs(size)

	unit := 0
	for size >= 1000 && unit < len(sizeUnits)-1 {
		size /= 1000
		unit++
	}
	var out string
	if unit == 0 {
		out = fmt.Sprintf("%d %s", int64(size), sizeUnits[unit])
	} else {
		out = fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
	}
	if neg {
		out = "-" + out
	}
	return value.String(out), nil
}
