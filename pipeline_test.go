package shelf

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func recordStage(order *[]string, name string, after ...string) Stage {
	return Stage{Name: name, After: after, Run: func(context.Context) error {
		*order = append(*order, name)
		return nil
	}}
}

func TestPipelineOrder(t *testing.T) {
	t.Parallel()
	var ran []string
	p := NewPipeline(nil)
	p.Add(
		recordStage(&ran, "ready", "plugins.freeze"),
		recordStage(&ran, "plugins.load", "session", "plugins.discover"),
		recordStage(&ran, "client"),
		recordStage(&ran, "plugins.freeze", "plugins.load"),
		recordStage(&ran, "session", "client"),
		recordStage(&ran, "plugins.discover", "client"),
	)
	want := []string{"client", "session", "plugins.discover", "plugins.load", "plugins.freeze", "ready"}
	got, err := p.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Order = %v, want %v", got, want)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(ran, want) {
		t.Errorf("ran = %v, want %v", ran, want)
	}
}

func TestPipelineTiesKeepRegistrationOrder(t *testing.T) {
	t.Parallel()
	p := NewPipeline(nil)
	p.Add(Stage{Name: "c"}, Stage{Name: "a"}, Stage{Name: "b"})
	got, err := p.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Order = %v", got)
	}
}

func TestPipelineOrderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		stages []Stage
		want   error
	}{
		{"duplicate", []Stage{{Name: "a"}, {Name: "a"}}, ErrDuplicateStage},
		{"unknown", []Stage{{Name: "a", After: []string{"ghost"}}}, ErrUnknownStage},
		{"cycle", []Stage{{Name: "a", After: []string{"b"}}, {Name: "b", After: []string{"a"}}}, ErrStageCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ran := false
			p := NewPipeline(nil)
			for _, s := range tt.stages {
				s.Run = func(context.Context) error { ran = true; return nil }
				p.Add(s)
			}
			if _, err := p.Order(); !errors.Is(err, tt.want) {
				t.Fatalf("Order error = %v, want %v", err, tt.want)
			}
			if err := p.Run(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("Run error = %v, want %v", err, tt.want)
			}
			if ran {
				t.Error("no stage should run when the order is invalid")
			}
		})
	}
}

func TestPipelineStopsAtFailure(t *testing.T) {
	t.Parallel()
	var ran []string
	boom := errors.New("boom")
	p := NewPipeline(nil)
	p.Add(
		recordStage(&ran, "first"),
		Stage{Name: "second", After: []string{"first"}, Run: func(context.Context) error { return boom }},
		recordStage(&ran, "third", "second"),
	)
	err := p.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"first"}) {
		t.Errorf("ran = %v", ran)
	}
}

func TestPipelineHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPipeline(nil)
	p.Add(Stage{Name: "never", Run: func(context.Context) error {
		t.Error("stage ran with cancelled context")
		return nil
	}})
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v", err)
	}
}
