// Package opt is an optional value that separates "not found / not applicable"
// from failure. Producers that cannot compute a value return None rather than an error
package opt

import "encoding/json"

// Value holds a T or nothing
type Value[T any] struct {
	v  T
	ok bool
}

// Some wraps v
func Some[T any](v T) Value[T] { return Value[T]{v: v, ok: true} }

// None is the empty value
func None[T any]() Value[T] { return Value[T]{} }

// Get returns the value and whether it is present
func (o Value[T]) Get() (T, bool) { return o.v, o.ok }

// Present reports whether a value is held
func (o Value[T]) Present() bool { return o.ok }

// Or returns the held value or def
func (o Value[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, nil when empty
func (o Value[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.v
	return &v
}

// FromPtr is the inverse of Ptr
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// MarshalJSON encodes None as null
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}
