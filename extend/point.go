// Package extend lets plugins layer behavior around core capabilities.
//
// A capability is a function type, for example a view's render function.
// Each capability has a named Point. Plugins register decorators on the point
// during the load phase; core code composes the decorators around its base
// implementation when it constructs the object that owns the capability:
//
//	p := extend.NewPoint[RenderFunc]("view.item.render")
//	_ = p.Wrap(func(next RenderFunc) RenderFunc {
//	    return func(ctx context.Context, v *View) (string, error) {
//	        out, err := next(ctx, v)
//	        return out + "\n-- decorated", err
//	    }
//	})
//	render := p.Apply(baseRender)
//
// The last registered decorator is outermost. Freezing a point stops further
// registration; objects built before or after see the same frozen chain.
package extend

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrFrozen is returned when registering on a point after the load phase.
	ErrFrozen = errors.New("extension point is frozen")
	// ErrNilDecorator is returned for a nil decorator.
	ErrNilDecorator = errors.New("decorator is nil")
)

// Decorator receives the previous implementation and returns the new one.
// By convention it delegates to next and then extends the result.
type Decorator[F any] func(next F) F

// Point is an ordered decorator chain for capability type F.
type Point[F any] struct {
	name string

	mu         sync.RWMutex
	decorators []Decorator[F]
	frozen     bool
}

// NewPoint creates an empty extension point.
func NewPoint[F any](name string) *Point[F] {
	return &Point[F]{name: name}
}

// Name returns the point name.
func (p *Point[F]) Name() string { return p.name }

// Wrap appends d to the chain.
func (p *Point[F]) Wrap(d Decorator[F]) error {
	if d == nil {
		return fmt.Errorf("%s: %w", p.name, ErrNilDecorator)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return fmt.Errorf("%s: %w", p.name, ErrFrozen)
	}
	p.decorators = append(p.decorators, d)
	return nil
}

// Freeze stops further registration.
func (p *Point[F]) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (p *Point[F]) Frozen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frozen
}

// Len returns the number of registered decorators.
func (p *Point[F]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.decorators)
}

// Apply composes the chain around base. Decorators are applied in
// registration order, so the most recently registered one runs first.
func (p *Point[F]) Apply(base F) F {
	p.mu.RLock()
	chain := make([]Decorator[F], len(p.decorators))
	copy(chain, p.decorators)
	p.mu.RUnlock()

	f := base
	for _, d := range chain {
		f = d(f)
	}
	return f
}
