// Package dynamic loads plugins written as Go scripts and interpreted at
// runtime with yaegi.
package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/GoCodeAlone/yaegi/interp"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/shelf/plugin"
)

// ManifestFile is the manifest name looked for in plugin directories.
const ManifestFile = "plugin.yaml"

// Option configures a Loader.
type Option func(*Loader)

// WithAllowedPackages overrides the default allowed packages list.
func WithAllowedPackages(pkgs map[string]bool) Option {
	return func(l *Loader) { l.allowed = pkgs }
}

// WithGoPath sets the GOPATH for interpreters.
func WithGoPath(path string) Option {
	return func(l *Loader) { l.goPath = path }
}

// WithLimits sets the limits applied to Decorate calls.
func WithLimits(limits Limits) Option {
	return func(l *Loader) { l.limits = limits }
}

// WithConcurrency sets how many scripts are compiled at once.
func WithConcurrency(n int) Option {
	return func(l *Loader) { l.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// Loader compiles plugin scripts into Scripts.
type Loader struct {
	allowed     map[string]bool
	goPath      string
	limits      Limits
	concurrency int
	logger      *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		allowed:     AllowedPackages,
		limits:      DefaultLimits(),
		concurrency: runtime.GOMAXPROCS(0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadSource validates and compiles a single script.
func (l *Loader) LoadSource(id, source string) (*Script, error) {
	name := id + ".go"
	return l.compile(id, "", nil, []string{name}, map[string]string{name: source})
}

// LoadFile reads a .go script and compiles it. The id is the file name
// without extension.
func (l *Loader) LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return l.compile(id, path, nil, []string{base}, map[string]string{base: string(data)})
}

// LoadPluginDir loads a directory holding a plugin.yaml manifest and the
// script files it lists.
func (l *Loader) LoadPluginDir(dir string) (*Script, error) {
	m, err := plugin.LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if len(m.Source) == 0 {
		return nil, fmt.Errorf("%s: manifest lists no source files", dir)
	}
	sources := make(map[string]string, len(m.Source))
	for _, name := range m.Source {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", name, err)
		}
		sources[name] = string(data)
	}
	return l.compile(filepath.Base(dir), dir, m, m.Source, sources)
}

// LoadDir loads every script in dir: standalone .go files and
// subdirectories with a manifest. Scripts are compiled concurrently and
// returned in directory order. The first failure cancels the rest.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var jobs []func() (*Script, error)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			if _, err := os.Stat(filepath.Join(path, ManifestFile)); err != nil {
				continue
			}
			jobs = append(jobs, func() (*Script, error) { return l.LoadPluginDir(path) })
		case strings.HasSuffix(entry.Name(), ".go") && !strings.HasSuffix(entry.Name(), "_test.go"):
			jobs = append(jobs, func() (*Script, error) { return l.LoadFile(path) })
		}
	}

	scripts := make([]*Script, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if l.concurrency > 0 {
		g.SetLimit(l.concurrency)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := job()
			if err != nil {
				return err
			}
			scripts[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	l.logger.Info("Loaded plugin scripts", "dir", dir, "count", len(scripts))
	return scripts, nil
}

// compile validates every source before evaluating them in order in one
// interpreter.
func (l *Loader) compile(id, path string, m *plugin.Manifest, order []string, sources map[string]string) (*Script, error) {
	for _, name := range order {
		if err := validateSource(name, sources[name], l.allowed); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	i, err := newInterpreter(l.goPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create interpreter: %w", err)
	}
	for _, name := range order {
		if err := evalSafe(i, sources[name]); err != nil {
			return nil, fmt.Errorf("failed to evaluate %s: %w", name, err)
		}
	}

	s := &Script{
		id:       id,
		path:     path,
		manifest: m,
		limits:   l.limits,
		logger:   l.logger,
	}
	extractFunctions(s, i)
	return s, nil
}

// evalSafe evaluates source, converting an interpreter panic into an error.
func evalSafe(i *interp.Interpreter, source string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()
	_, err = i.Eval(source)
	return err
}

// extractFunctions binds the well-known script functions that are defined
// with the expected signatures.
func extractFunctions(s *Script, i *interp.Interpreter) {
	if v, ok := lookup(i, "Name"); ok {
		s.nameFunc, _ = v.(func() string)
	}
	if v, ok := lookup(i, "Version"); ok {
		s.versionFunc, _ = v.(func() string)
	}
	if v, ok := lookup(i, "Dependencies"); ok {
		s.depsFunc, _ = v.(func() []string)
	}
	if v, ok := lookup(i, "Namespace"); ok {
		s.namespaceFunc, _ = v.(func() map[string]any)
	}
	if v, ok := lookup(i, "ConfigRoute"); ok {
		s.configRouteFunc, _ = v.(func() string)
	}
	if v, ok := lookup(i, "Decorate"); ok {
		s.decorateFunc, _ = v.(func(string, string) string)
	}
}
