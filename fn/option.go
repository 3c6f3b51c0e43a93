// Package fn holds small generic helpers shared across the relay's
// packages, trimmed to what the relay actually exercises.
package fn

// Option[A] represents a value which may or may not be present. The
// chain-event union in internal/chainiface uses this instead of a
// zero-value sentinel so "this event kind carries no deadline" is a
// real value rather than a magic zero the reader has to remember.
type Option[A any] struct {
	isSome bool
	some   A
}

// Some injects a value into an optional context.
func Some[A any](a A) Option[A] {
	return Option[A]{
		isSome: true,
		some:   a,
	}
}

// None constructs an empty option.
func None[A any]() Option[A] {
	return Option[A]{}
}

// UnwrapOr extracts the value from an option, falling back to the supplied
// default when the option is empty.
func (o Option[A]) UnwrapOr(a A) A {
	if o.isSome {
		return o.some
	}

	return a
}

// WhenSome conditionally runs a side-effecting function over the contained
// value.
func (o Option[A]) WhenSome(f func(A)) {
	if o.isSome {
		f(o.some)
	}
}

// IsSome returns true if the Option contains a value.
func (o Option[A]) IsSome() bool {
	return o.isSome
}

// IsNone returns true if the Option is empty.
func (o Option[A]) IsNone() bool {
	return !o.isSome
}
