package extend

import (
	"errors"
	"reflect"
	"testing"
)

type renderFunc func() string

func TestWrapInvokesDecoratorAndBaseOnce(t *testing.T) {
	t.Parallel()

	p := NewPoint[renderFunc]("target.render")
	baseCalls, decoratorCalls := 0, 0
	base := func() string {
		baseCalls++
		return "base"
	}
	if err := p.Wrap(func(next renderFunc) renderFunc {
		return func() string {
			decoratorCalls++
			return next() + "+f"
		}
	}); err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	render := p.Apply(base)
	if got := render(); got != "base+f" {
		t.Errorf("render() = %q, want %q", got, "base+f")
	}
	if decoratorCalls != 1 || baseCalls != 1 {
		t.Errorf("decorator calls = %d, base calls = %d, want 1 and 1", decoratorCalls, baseCalls)
	}

	render()
	if decoratorCalls != 2 || baseCalls != 2 {
		t.Errorf("after second call: decorator = %d, base = %d, want 2 and 2", decoratorCalls, baseCalls)
	}
}

func TestLastRegisteredIsOutermost(t *testing.T) {
	t.Parallel()

	p := NewPoint[renderFunc]("order")
	var trace []string
	for _, name := range []string{"a", "b", "c"} {
		_ = p.Wrap(func(next renderFunc) renderFunc {
			return func() string {
				trace = append(trace, "enter "+name)
				out := next()
				trace = append(trace, "leave "+name)
				return out + name
			}
		})
	}

	out := p.Apply(func() string { trace = append(trace, "base"); return "" })()
	if out != "abc" {
		t.Errorf("output = %q, want %q", out, "abc")
	}
	want := []string{"enter c", "enter b", "enter a", "base", "leave a", "leave b", "leave c"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestFrozenPointRejectsWrap(t *testing.T) {
	t.Parallel()

	p := NewPoint[renderFunc]("frozen")
	p.Freeze()
	err := p.Wrap(func(next renderFunc) renderFunc { return next })
	if !errors.Is(err, ErrFrozen) {
		t.Fatalf("Wrap after Freeze: err = %v, want ErrFrozen", err)
	}
	if err := NewPoint[renderFunc]("nil").Wrap(nil); !errors.Is(err, ErrNilDecorator) {
		t.Errorf("Wrap(nil): err = %v, want ErrNilDecorator", err)
	}
}

func TestApplyWithoutDecoratorsReturnsBase(t *testing.T) {
	t.Parallel()

	p := NewPoint[renderFunc]("empty")
	if got := p.Apply(func() string { return "plain" })(); got != "plain" {
		t.Errorf("got %q, want plain", got)
	}
}

func TestRegistryWrap(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	p := NewPoint[renderFunc]("view.item.render")
	if err := Declare(r, p); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if err := Declare(r, NewPoint[renderFunc]("view.item.render")); !errors.Is(err, ErrDuplicatePoint) {
		t.Errorf("duplicate Declare: err = %v, want ErrDuplicatePoint", err)
	}

	if err := Wrap(r, "view.item.render", func(next renderFunc) renderFunc { return next }); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if n := r.Decorators("view.item.render"); n != 1 {
		t.Errorf("Decorators = %d, want 1", n)
	}

	err := Wrap(r, "view.missing.render", func(next renderFunc) renderFunc { return next })
	if !errors.Is(err, ErrUnknownPoint) {
		t.Errorf("missing point: err = %v, want ErrUnknownPoint", err)
	}

	type otherFunc func(int) int
	err = Wrap(r, "view.item.render", func(next otherFunc) otherFunc { return next })
	if !errors.Is(err, ErrSignature) {
		t.Errorf("wrong signature: err = %v, want ErrSignature", err)
	}
}

func TestRegistryFreeze(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	early := NewPoint[renderFunc]("early")
	_ = Declare(r, early)
	r.Freeze()

	late := NewPoint[renderFunc]("late")
	_ = Declare(r, late)

	if !early.Frozen() || !late.Frozen() {
		t.Errorf("frozen: early=%v late=%v, want both true", early.Frozen(), late.Frozen())
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"early", "late"}) {
		t.Errorf("Names = %v", got)
	}
}
