package domain

import "fmt"

// Document is a typed accessor layer over a decoded JSON object. Lookups
// report an explicit missing-key or type-mismatch error instead of silently
// propagating nils.
type Document map[string]any

// Map returns the object stored under key.
func (d Document) Map(key string) (Document, error) {
	v, ok := d[key]
	if !ok {
		return nil, ErrMissingKey(key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrTypeMismatch(key, fmt.Sprintf("expected object, got %T", v))
	}
	return Document(m), nil
}

// String returns the string stored under key.
func (d Document) String(key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", ErrMissingKey(key)
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrTypeMismatch(key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// Array returns the array stored under key.
func (d Document) Array(key string) ([]any, error) {
	v, ok := d[key]
	if !ok {
		return nil, ErrMissingKey(key)
	}
	a, ok := v.([]any)
	if !ok {
		return nil, ErrTypeMismatch(key, fmt.Sprintf("expected array, got %T", v))
	}
	return a, nil
}

// StringOr returns the string stored under key, or def when the key is absent
// or not a string.
func (d Document) StringOr(key, def string) string {
	s, err := d.String(key)
	if err != nil {
		return def
	}
	return s
}

// Path walks a dotted key path through nested objects, returning the document
// at the end of the path.
func (d Document) Path(keys ...string) (Document, error) {
	cur := d
	for _, k := range keys {
		next, err := cur.Map(k)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
