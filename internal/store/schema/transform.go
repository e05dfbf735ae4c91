package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ColumnType is the storage type of a mapped column.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeReal      ColumnType = "real"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeJSON      ColumnType = "json"
)

// TimestampLayout is how timestamp columns are stored. It has a fixed width
// so that string order is time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

func (t ColumnType) Valid() bool {
	switch t {
	case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeTimestamp, TypeJSON:
		return true
	}
	return false
}

// SQLType returns the SQLite column affinity.
func (t ColumnType) SQLType() string {
	switch t {
	case TypeInteger, TypeBoolean:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case "":
		return ""
	default:
		return "TEXT"
	}
}

// Coerce converts a decoded JSON value to the column's Go representation.
// nil stays nil.
func (t ColumnType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeText, "":
		switch v := v.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case map[string]any, []any:
			return marshalJSON(v)
		default:
			return fmt.Sprint(v), nil
		}
	case TypeInteger:
		return toInt(v)
	case TypeReal:
		return toFloat(v)
	case TypeBoolean:
		return toBool(v)
	case TypeTimestamp:
		ts, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return ts.UTC().Format(TimestampLayout), nil
	case TypeJSON:
		return marshalJSON(v)
	}
	return nil, fmt.Errorf("unknown column type %q", t)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json value: %w", err)
	}
	return string(b), nil
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to real", v)
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", v)
		}
		return b, nil
	}
	return false, fmt.Errorf("cannot convert %T to boolean", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// toTime accepts RFC 3339 style strings, dates, time.Time and unix seconds.
func toTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	case int64:
		return time.Unix(v, 0), nil
	case int:
		return time.Unix(int64(v), 0), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a timestamp", v)
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
}

// TransformFunc normalizes a raw remote value before it is typed.
type TransformFunc func(v any) (any, error)

var (
	transformsMu sync.RWMutex
	transforms   = map[string]TransformFunc{
		"trim":  stringTransform(strings.TrimSpace),
		"lower": stringTransform(strings.ToLower),
		"upper": stringTransform(strings.ToUpper),
		"empty_to_null": func(v any) (any, error) {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				return nil, nil
			}
			return v, nil
		},
		"cents_to_units": func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return f / 100, nil
		},
	}
)

func stringTransform(fn func(string) string) TransformFunc {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		return fn(s), nil
	}
}

// RegisterTransform makes fn available to mappings under name, replacing
// any transform registered before with that name.
func RegisterTransform(name string, fn TransformFunc) {
	transformsMu.Lock()
	defer transformsMu.Unlock()
	transforms[name] = fn
}

func lookupTransform(name string) (TransformFunc, bool) {
	transformsMu.RLock()
	defer transformsMu.RUnlock()
	fn, ok := transforms[name]
	return fn, ok
}
