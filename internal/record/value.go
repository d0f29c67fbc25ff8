package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when a record does not encode to a JSON object.
var ErrNotObject = errors.New("record is not a JSON object")

// Decode parses a stored JSON document into a map, preserving numbers as
// json.Number so large integers survive.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return doc, nil
}

// Normalize converts an arbitrary record value into a decoded document.
// json.RawMessage and []byte are parsed directly; other values go through
// json.Marshal first so struct tags apply.
func Normalize(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, ErrNotObject
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		return Decode(data)
	case json.RawMessage:
		return Decode(val)
	case []byte:
		return Decode(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return Decode(data)
}

// Lookup resolves a dotted key path ("meta.owner") in doc.
// Returns false if any segment is missing or a non-object is traversed.
func Lookup(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted key path, creating intermediate objects.
// Fails if an intermediate segment holds a non-object value.
func Set(doc map[string]any, path string, value any) error {
	segs := splitPath(path)
	cur := doc
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg]
		if !ok || next == nil {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("key path %q: segment %q is not an object", path, seg)
		}
		cur = m
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return append(segs, path[start:])
}

// Plain converts json.Number values inside v to int64 or float64, so the
// result can be handed to code that does arithmetic on numbers.
func Plain(v any) any {
	switch val := v.(type) {
	case json.Number:
		return KeyValue(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Plain(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Plain(e)
		}
		return out
	}
	return v
}
