package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/shelf/extend"
	"github.com/GoCodeAlone/shelf/plugin"
	"github.com/GoCodeAlone/shelf/view"
)

// Limits bounds the work a script may do while decorating a view.
type Limits struct {
	// MaxDecorateTime bounds one Decorate call. Zero means no timeout.
	MaxDecorateTime time.Duration
	// MaxOutputSize bounds the bytes Decorate may return. Zero means unlimited.
	MaxOutputSize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDecorateTime: 2 * time.Second,
		MaxOutputSize:   1 << 20,
	}
}

// Script is a plugin whose behavior comes from interpreted Go source. The
// script may define any of:
//
//	func Name() string
//	func Version() string
//	func Dependencies() []string             // "name" or "name >=1.0.0"
//	func Namespace() map[string]interface{}
//	func ConfigRoute() string
//	func Decorate(view, rendered string) string
//
// Values from a manifest take precedence over Name, Version and
// Dependencies.
type Script struct {
	id       string
	path     string
	manifest *plugin.Manifest
	limits   Limits
	logger   *slog.Logger

	nameFunc        func() string
	versionFunc     func() string
	depsFunc        func() []string
	namespaceFunc   func() map[string]any
	configRouteFunc func() string
	decorateFunc    func(string, string) string
}

var _ plugin.Plugin = (*Script)(nil)

// ID returns the id the script was loaded under, usually its file or
// directory name.
func (s *Script) ID() string { return s.id }

// Path returns the file or directory the script was loaded from.
func (s *Script) Path() string { return s.path }

// Name returns the plugin name.
func (s *Script) Name() string {
	if s.manifest != nil {
		return s.manifest.Name
	}
	if s.nameFunc != nil {
		if name := s.safeString(s.nameFunc); name != "" {
			return name
		}
	}
	return s.id
}

// Version returns the plugin version, "0.0.0" if none is declared.
func (s *Script) Version() string {
	if s.manifest != nil {
		return s.manifest.Version
	}
	if s.versionFunc != nil {
		if v := s.safeString(s.versionFunc); v != "" {
			return v
		}
	}
	return "0.0.0"
}

// Dependencies returns the declared dependencies.
func (s *Script) Dependencies() []plugin.Dependency {
	if s.manifest != nil {
		return s.manifest.Dependencies
	}
	if s.depsFunc == nil {
		return nil
	}
	var raw []string
	func() {
		defer func() { _ = recover() }()
		raw = s.depsFunc()
	}()
	deps := make([]plugin.Dependency, 0, len(raw))
	for _, entry := range raw {
		name, constraint, _ := strings.Cut(strings.TrimSpace(entry), " ")
		if name == "" {
			continue
		}
		deps = append(deps, plugin.Dependency{Name: name, Constraint: strings.TrimSpace(constraint)})
	}
	return deps
}

// Decorates reports whether the script wraps view rendering.
func (s *Script) Decorates() bool { return s.decorateFunc != nil }

// Init registers the script's namespace and config route and wraps every
// declared view render point with Decorate.
func (s *Script) Init(ctx context.Context, pctx *plugin.Context) error {
	name := s.Name()

	if s.namespaceFunc != nil {
		ns, err := s.safeNamespace()
		if err != nil {
			return err
		}
		if err := pctx.RegisterNamespace(name, ns); err != nil {
			return err
		}
	}

	if s.configRouteFunc != nil {
		if route := s.safeString(s.configRouteFunc); route != "" {
			if err := pctx.ExposeConfig(name, route); err != nil {
				return err
			}
		}
	}

	if s.decorateFunc != nil {
		for _, point := range pctx.Extensions.Names() {
			viewName, ok := renderPointView(point)
			if !ok {
				continue
			}
			if err := extend.Wrap(pctx.Extensions, point, s.decorator(viewName)); err != nil {
				return fmt.Errorf("wrap %s: %w", point, err)
			}
		}
	}

	s.logger.Debug("Script plugin initialized", "plugin", name, "path", s.path)
	return nil
}

func renderPointView(point string) (string, bool) {
	rest, ok := strings.CutPrefix(point, "view.")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ".render")
}

func (s *Script) decorator(viewName string) extend.Decorator[view.RenderFunc] {
	return func(next view.RenderFunc) view.RenderFunc {
		return func(ctx context.Context, v *view.View) (string, error) {
			out, err := next(ctx, v)
			if err != nil {
				return out, err
			}
			return s.decorate(ctx, viewName, out)
		}
	}
}

// decorate calls the script's Decorate within the configured limits.
func (s *Script) decorate(ctx context.Context, viewName, rendered string) (string, error) {
	if s.limits.MaxDecorateTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.MaxDecorateTime)
		defer cancel()
	}

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := s.safeDecorate(viewName, rendered)
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("plugin %q: decorate %s: %w", s.Name(), viewName, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if s.limits.MaxOutputSize > 0 && len(res.out) > s.limits.MaxOutputSize {
			return "", fmt.Errorf("plugin %q: decorate %s output size %d exceeds limit %d",
				s.Name(), viewName, len(res.out), s.limits.MaxOutputSize)
		}
		return res.out, nil
	}
}

// Safe call wrappers that recover from panics in interpreted code.

func (s *Script) safeString(fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
		}
	}()
	return fn()
}

func (s *Script) safeNamespace() (ns map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			ns, err = nil, fmt.Errorf("panic in Namespace: %v", r)
		}
	}()
	return s.namespaceFunc(), nil
}

func (s *Script) safeDecorate(viewName, rendered string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("panic in Decorate: %v", r)
		}
	}()
	return s.decorateFunc(viewName, rendered), nil
}
