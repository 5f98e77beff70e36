// Package model defines the validator/transform collaborator every kvdex
// collection is declared against, matching the teacher's hand-rolled
// field-validator style (internal/validation) rather than a third-party
// struct-tag validation library — see DESIGN.md for why.
package model

// Model describes a collection's payload type. Validate is called on
// every incoming value before encoding; Transform (if the model overrides
// it) runs after validation, before storage.
type Model[T any] interface {
	Validate(value T) error
	Transform(value T) T
}

// Base is embedded in hand-written models to get a no-op Transform for
// free, matching the teacher's pattern of small embeddable defaults.
type Base[T any] struct{}

// Transform returns value unchanged.
func (Base[T]) Transform(value T) T { return value }

// ValidatorFunc adapts a plain validation function into a Model with a
// no-op Transform.
type ValidatorFunc[T any] struct {
	Base[T]
	Fn func(T) error
}

// Validate calls the wrapped function.
func (v ValidatorFunc[T]) Validate(value T) error { return v.Fn(value) }

// FromValidator builds a Model from a plain function, for callers who
// don't need Transform.
func FromValidator[T any](fn func(T) error) Model[T] {
	return ValidatorFunc[T]{Fn: fn}
}

// Always is a Model that accepts every value unchanged; a convenient
// default for collections with no declared constraints.
type Always[T any] struct{ Base[T] }

// Validate always succeeds.
func (Always[T]) Validate(T) error { return nil }
