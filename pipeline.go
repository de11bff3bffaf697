package shelf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Pipeline errors reported by Order.
var (
	ErrDuplicateStage = errors.New("duplicate stage")
	ErrUnknownStage   = errors.New("unknown stage dependency")
	ErrStageCycle     = errors.New("stage dependency cycle")
)

// Stage is one step of application startup.
type Stage struct {
	Name string
	// After lists the stages that must complete before this one runs.
	After []string
	Run   func(ctx context.Context) error
}

// Pipeline runs stages in dependency order. When several stages are ready
// at once they run in the order they were added.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// NewPipeline creates an empty pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger}
}

// Add appends stages. Validation happens in Order.
func (p *Pipeline) Add(stages ...Stage) {
	p.stages = append(p.stages, stages...)
}

// Stages returns the stage names in the order they were added.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Order returns the execution order, or an error for duplicate names,
// dependencies on unknown stages and cycles.
func (p *Pipeline) Order() ([]string, error) {
	index := make(map[string]int, len(p.stages))
	for i, s := range p.stages {
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%s: %w", s.Name, ErrDuplicateStage)
		}
		index[s.Name] = i
	}
	for _, s := range p.stages {
		for _, dep := range s.After {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("stage %s after %s: %w", s.Name, dep, ErrUnknownStage)
			}
		}
	}

	done := make(map[string]bool, len(p.stages))
	order := make([]string, 0, len(p.stages))
	for len(order) < len(p.stages) {
		progressed := false
		for _, s := range p.stages {
			if done[s.Name] || !ready(s, done) {
				continue
			}
			done[s.Name] = true
			order = append(order, s.Name)
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, s := range p.stages {
				if !done[s.Name] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, fmt.Errorf("%s: %w", strings.Join(stuck, ", "), ErrStageCycle)
		}
	}
	return order, nil
}

func ready(s Stage, done map[string]bool) bool {
	for _, dep := range s.After {
		if !done[dep] {
			return false
		}
	}
	return true
}

// Run validates the order and runs every stage, stopping at the first
// failure.
func (p *Pipeline) Run(ctx context.Context) error {
	order, err := p.Order()
	if err != nil {
		return err
	}
	byName := make(map[string]Stage, len(p.stages))
	for _, s := range p.stages {
		byName[s.Name] = s
	}
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := byName[name]
		if s.Run == nil {
			continue
		}
		start := time.Now()
		if err := s.Run(ctx); err != nil {
			p.logger.Error("Startup stage failed", "stage", name, "error", err)
			return fmt.Errorf("stage %s: %w", name, err)
		}
		p.logger.Debug("Startup stage complete", "stage", name, "duration", time.Since(start))
	}
	return nil
}
