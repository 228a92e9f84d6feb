package config

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bool accepts a native boolean or the strings "true"/"false". Any other
// input leaves the current value untouched and marks the field invalid so the
// loader can report it.
type Bool struct {
	Value   bool
	invalid string
}

func NewBool(v bool) Bool { return Bool{Value: v} }

// BoolPtr is a convenience for optional per-platform overrides.
func BoolPtr(v bool) *Bool { b := NewBool(v); return &b }

func (b Bool) Invalid() (string, bool) { return b.invalid, b.invalid != "" }

func (b *Bool) set(raw string) {
	v, ok := parseBool(raw)
	if !ok {
		b.invalid = raw
		return
	}
	b.Value = v
	b.invalid = ""
}

func (b *Bool) UnmarshalJSON(data []byte) error {
	b.set(jsonScalar(data))
	return nil
}

func (b *Bool) UnmarshalYAML(node *yaml.Node) error {
	b.set(node.Value)
	return nil
}

func (b Bool) MarshalJSON() ([]byte, error) { return json.Marshal(b.Value) }

func (b Bool) MarshalYAML() (any, error) { return b.Value, nil }

// Int accepts a native integer or a numeric string.
type Int struct {
	Value   int
	invalid string
}

func NewInt(v int) Int { return Int{Value: v} }

func IntPtr(v int) *Int { i := NewInt(v); return &i }

func (i Int) Invalid() (string, bool) { return i.invalid, i.invalid != "" }

func (i *Int) set(raw string) {
	v, ok := parseInt(raw)
	if !ok {
		i.invalid = raw
		return
	}
	i.Value = v
	i.invalid = ""
}

func (i *Int) UnmarshalJSON(data []byte) error {
	i.set(jsonScalar(data))
	return nil
}

func (i *Int) UnmarshalYAML(node *yaml.Node) error {
	i.set(node.Value)
	return nil
}

func (i Int) MarshalJSON() ([]byte, error) { return json.Marshal(i.Value) }

func (i Int) MarshalYAML() (any, error) { return i.Value, nil }

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func jsonScalar(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s
		}
	}
	return string(data)
}
