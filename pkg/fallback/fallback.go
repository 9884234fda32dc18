// Package fallback composes read paths out of ordered tiers. The first tier
// that succeeds serves the read; the failures of the tiers before it are
// kept so callers can log or count the fallback.
package fallback

import (
	"context"
	"errors"
)

// Tier is one step of a read fallback chain.
type Tier[T any] struct {
	Name string
	Read func(ctx context.Context) (T, error)
}

// FirstOf returns the value of the first tier that succeeds and its name.
// The error joins the failures of the tiers tried before it. An empty name
// means every tier failed.
func FirstOf[T any](ctx context.Context, tiers ...Tier[T]) (T, string, error) {
	var errs []error
	for _, t := range tiers {
		v, err := t.Read(ctx)
		if err == nil {
			return v, t.Name, errors.Join(errs...)
		}
		errs = append(errs, err)
	}
	var zero T
	return zero, "", errors.Join(errs...)
}

// Value is a tier that always succeeds with v.
func Value[T any](name string, v T) Tier[T] {
	return Tier[T]{Name: name, Read: func(context.Context) (T, error) { return v, nil }}
}

// Func adapts a read that cannot fail.
func Func[T any](name string, read func() T) Tier[T] {
	return Tier[T]{Name: name, Read: func(context.Context) (T, error) { return read(), nil }}
}
