package aeronautical

import (
	"fmt"
	"math"
)

// Message is one decoded JSON document.
type Message map[string]any

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Object returns the nested object at key.
func (m Message) Object(key string) (Message, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want object", ErrFieldType, key, v)
	}
	return Message(obj), nil
}

// Number returns the numeric value at key.
func (m Message) Number(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T, want number", ErrFieldType, key, v)
	}
	return f, nil
}

// Int returns the integral numeric value at key.
func (m Message) Int(key string) (int, error) {
	f, err := m.Number(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s is %v, want integer", ErrFieldType, key, f)
	}
	return int(f), nil
}

// String returns the string value at key.
func (m Message) String(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrFieldType, key, v)
	}
	return s, nil
}

// Bool returns the boolean value at key.
func (m Message) Bool(key string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T, want bool", ErrFieldType, key, v)
	}
	return b, nil
}

// Objects returns the array of objects at key.
func (m Message) Objects(key string) ([]Message, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want array", ErrFieldType, key, v)
	}
	out := make([]Message, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is %T, want object", ErrFieldType, key, i, item)
		}
		out = append(out, Message(obj))
	}
	return out, nil
}

// TypeID returns the numeric type code at key.id, the layout decoders use
// for every protocol layer: {"type": {"id": 13, "name": "..."}}.
func (m Message) TypeID(key string) (int, error) {
	t, err := m.Object(key)
	if err != nil {
		return 0, err
	}
	id, err := t.Int("id")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}
