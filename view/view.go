// Package view renders the core text views and exposes each view's render
// function as an extension point named "view.<name>.render".
//
// A plugin decorates a view during load:
//
//	extend.Wrap(reg, view.RenderPoint(view.FolderList), func(next view.RenderFunc) view.RenderFunc {
//	    return func(ctx context.Context, v *view.View) (string, error) {
//	        out, err := next(ctx, v)
//	        return out + "\n(quota: 80%)", err
//	    }
//	})
//
// Decorators are composed when the view is constructed, so a view built
// before a plugin registered its decorator keeps its original behavior.
package view

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/GoCodeAlone/shelf/extend"
)

// Core view names.
const (
	FolderList = "folder.list"
	ItemDetail = "item.detail"
	UserList   = "user.list"
	PluginList = "plugin.list"
	Breadcrumb = "breadcrumb"
)

// RenderFunc renders v.
type RenderFunc func(ctx context.Context, v *View) (string, error)

// View is one constructed view.
type View struct {
	Name string
	Data any

	render RenderFunc
}

// Render renders the view through its composed render chain.
func (v *View) Render(ctx context.Context) (string, error) {
	return v.render(ctx, v)
}

// RenderPoint returns the extension point name of a view's render function.
func RenderPoint(name string) string {
	return "view." + name + ".render"
}

// Views constructs views from registered base renderers and the decorators
// registered on their extension points.
type Views struct {
	ext *extend.Registry

	mu    sync.RWMutex
	bases map[string]RenderFunc
}

// New creates a view set with the core views registered.
func New(ext *extend.Registry) (*Views, error) {
	vs := &Views{ext: ext, bases: make(map[string]RenderFunc)}
	core, err := coreTemplates()
	if err != nil {
		return nil, err
	}
	for name, tmpl := range core {
		if err := vs.Register(name, TemplateRenderer(tmpl)); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

// Register adds a view kind with its base renderer and declares its render
// extension point.
func (vs *Views) Register(name string, base RenderFunc) error {
	if err := extend.Declare(vs.ext, extend.NewPoint[RenderFunc](RenderPoint(name))); err != nil {
		return fmt.Errorf("registering view %s: %w", name, err)
	}
	vs.mu.Lock()
	vs.bases[name] = base
	vs.mu.Unlock()
	return nil
}

// Names returns the registered view names, sorted.
func (vs *Views) Names() []string {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	names := make([]string, 0, len(vs.bases))
	for name := range vs.bases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a view of kind name over data.
func (vs *Views) Build(name string, data any) (*View, error) {
	vs.mu.RLock()
	base, ok := vs.bases[name]
	vs.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown view %q", name)
	}
	point, err := extend.Lookup[RenderFunc](vs.ext, RenderPoint(name))
	if err != nil {
		return nil, err
	}
	return &View{Name: name, Data: data, render: point.Apply(base)}, nil
}

// Render builds and renders a view in one step.
func (vs *Views) Render(ctx context.Context, name string, data any) (string, error) {
	v, err := vs.Build(name, data)
	if err != nil {
		return "", err
	}
	return v.Render(ctx)
}

// TemplateRenderer renders the view data through tmpl.
func TemplateRenderer(tmpl *template.Template) RenderFunc {
	return func(ctx context.Context, v *View) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, v.Data); err != nil {
			return "", fmt.Errorf("rendering %s: %w", v.Name, err)
		}
		return buf.String(), nil
	}
}

// Funcs are the template functions available to view templates.
var Funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"pad": func(n int, s string) string {
		if len(s) >= n {
			return s
		}
		return s + strings.Repeat(" ", n-len(s))
	},
	"size": humanSize,
}

func humanSize(v any) string {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return "-"
	}
	units := []string{"B", "kB", "MB", "GB", "TB"}
	i := 0
	for n >= 1000 && i < len(units)-1 {
		n /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", int64(n))
	}
	return fmt.Sprintf("%.1f %s", n, units[i])
}
