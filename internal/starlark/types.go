// Package starlark converts values between Go and Starlark for the
// query-builder bindings: database column values going in, bind
// parameters coming out.
package starlark

import (
	"fmt"
	"math/big"
	"time"

	"go.starlark.net/starlark"
)

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, []byte, integer and float kinds, bool, time.Time,
// *big.Int, []string, []any, map[string]any.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case []byte:
		// Text columns scanned into any come back as bytes from most drivers.
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int8:
		return starlark.MakeInt64(int64(val)), nil

	case int16:
		return starlark.MakeInt64(int64(val)), nil

	case int32:
		return starlark.MakeInt64(int64(val)), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case uint8:
		return starlark.MakeUint64(uint64(val)), nil

	case uint16:
		return starlark.MakeUint64(uint64(val)), nil

	case uint32:
		return starlark.MakeUint64(uint64(val)), nil

	case uint64:
		return starlark.MakeUint64(val), nil

	case *big.Int:
		return starlark.MakeBigInt(val), nil

	case float32:
		return starlark.Float(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case time.Time:
		return starlark.String(val.Format(time.RFC3339Nano)), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := GoToStarlark(v)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// DisplayValue is GoToStarlark for values headed to a result set. Types with
// no Starlark counterpart (intervals, UUIDs, decimals) become their %v text.
func DisplayValue(v any) starlark.Value {
	sv, err := GoToStarlark(v)
	if err != nil {
		return starlark.String(fmt.Sprint(v))
	}
	return sv
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Bytes:
		return []byte(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Fallback for very large integers - convert to string
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %T", item[0])
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case starlark.Tuple:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("tuple index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	default:
		return nil, fmt.Errorf("cannot convert %s to a Go value", v.Type())
	}
}

// ToGoArgs converts a sequence of Starlark values into bind parameters.
func ToGoArgs(values starlark.Tuple) ([]any, error) {
	args := make([]any, len(values))
	for i, v := range values {
		gv, err := ToGo(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = gv
	}
	return args, nil
}
