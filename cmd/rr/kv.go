package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseKeyValues reads key=value arguments. Values that parse as JSON
// (numbers, booleans, null, quoted strings, objects) keep their type;
// anything else is a string.
func parseKeyValues(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q (want key=value)", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
