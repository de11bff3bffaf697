package extend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownPoint is returned when wrapping a point that was never declared.
	ErrUnknownPoint = errors.New("unknown extension point")
	// ErrSignature is returned when a decorator does not match the point's type.
	ErrSignature = errors.New("decorator does not match extension point signature")
	// ErrDuplicatePoint is returned when declaring a point name twice.
	ErrDuplicatePoint = errors.New("extension point already declared")
)

type freezer interface {
	Name() string
	Freeze()
	Len() int
}

// Registry indexes extension points by name so plugins can reach them
// without importing the packages that own them.
type Registry struct {
	mu     sync.RWMutex
	points map[string]freezer
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{points: make(map[string]freezer)}
}

// Declare adds p to the registry. Points declared after Freeze are frozen
// immediately.
func Declare[F any](r *Registry, p *Point[F]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.points[p.Name()]; ok {
		return fmt.Errorf("%s: %w", p.Name(), ErrDuplicatePoint)
	}
	r.points[p.Name()] = p
	if r.frozen {
		p.Freeze()
	}
	return nil
}

// Lookup returns the point registered under name with capability type F.
func Lookup[F any](r *Registry, name string) (*Point[F], error) {
	r.mu.RLock()
	fp, ok := r.points[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPoint)
	}
	p, ok := fp.(*Point[F])
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrSignature)
	}
	return p, nil
}

// Wrap registers d on the point named name.
func Wrap[F any](r *Registry, name string, d Decorator[F]) error {
	p, err := Lookup[F](r, name)
	if err != nil {
		return err
	}
	return p.Wrap(d)
}

// Names returns the declared point names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.points))
	for name := range r.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a point named name is declared.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.points[name]
	return ok
}

// Decorators returns how many decorators are registered on name, or -1 when
// the point is unknown.
func (r *Registry) Decorators(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.points[name]
	if !ok {
		return -1
	}
	return p.Len()
}

// Freeze freezes every declared point and any point declared later.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	for _, p := range r.points {
		p.Freeze()
	}
}
