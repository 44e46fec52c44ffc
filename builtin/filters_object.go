package builtin

import (
	"fmt"

	"github.com/lysine-go/lysine/runtime"
	"github.com/lysine-go/lysine/value"
)

func registerObjectFilters(r *runtime.Registry) {
	r.RegisterFilter("get", filterGet)
}

func filterGet(val value.Value, kwargs runtime.Kwargs) (value.Value, error) {
	if val.Kind() != value.KindObject {
		return value.Null(), fmt.Errorf("expected an object, got %s", val.Kind())
	}
	key, err := needString(kwargs.Get("key", value.String("")))
	if err != nil {
		return value.Null(), fmt.Errorf("key: %w", err)
	}
	if v, ok := val.AsObject().Get(key); ok {
		return v, nil
	}
	if kwargs.Has("default") {
		return kwargs.Get("default", value.Null()), nil
	}
	return value.Null(), fmt.Errorf("object has no key %q and no default was given", key)
}
