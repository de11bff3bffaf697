package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/extend"
	"github.com/GoCodeAlone/shelf/rest"
	"github.com/GoCodeAlone/shelf/router"
)

// ErrFrozen is returned for mutations of a Context after the load phase.
var ErrFrozen = errors.New("plugin context is frozen")

// ContextConfig holds the application services a Context hands to plugins.
type ContextConfig struct {
	Client     *rest.Client
	Bus        *events.Bus
	Extensions *extend.Registry
	Router     *router.Router
	Logger     *slog.Logger
}

// Context is the explicit registry passed to every plugin's Init. It owns
// the plugin namespaces and config routes and gives access to the
// application's client, bus, extension points and router. After Freeze it
// is read-only.
type Context struct {
	Client     *rest.Client
	Bus        *events.Bus
	Extensions *extend.Registry
	Router     *router.Router
	Logger     *slog.Logger

	mu           sync.RWMutex
	namespaces   map[string]map[string]any
	configRoutes map[string]string
	frozen       bool
}

// NewContext creates a Context. Missing services are created empty.
func NewContext(cfg ContextConfig) *Context {
	c := &Context{
		Client:       cfg.Client,
		Bus:          cfg.Bus,
		Extensions:   cfg.Extensions,
		Router:       cfg.Router,
		Logger:       cfg.Logger,
		namespaces:   make(map[string]map[string]any),
		configRoutes: make(map[string]string),
	}
	if c.Bus == nil {
		c.Bus = events.New()
	}
	if c.Extensions == nil {
		c.Extensions = extend.NewRegistry()
	}
	if c.Router == nil {
		c.Router = router.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// RegisterNamespace stores symbols under name. A second registration of the
// same name replaces the first; the two are not merged.
func (c *Context) RegisterNamespace(name string, symbols map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("register namespace %q: %w", name, ErrFrozen)
	}
	c.namespaces[name] = maps.Clone(symbols)
	return nil
}

// Namespace returns the symbols registered under name.
func (c *Context) Namespace(name string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.namespaces[name]
	return maps.Clone(ns), ok
}

// Namespaces returns the registered namespace names, sorted.
func (c *Context) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.namespaces))
	for name := range c.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExposeConfig records route as the configuration page of plugin name.
// Each plugin has one config route; the last call wins.
func (c *Context) ExposeConfig(name, route string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("expose config for %q: %w", name, ErrFrozen)
	}
	c.configRoutes[name] = route
	return nil
}

// ConfigRoute returns the config route exposed by plugin name.
func (c *Context) ConfigRoute(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.configRoutes[name]
	return r, ok
}

// Route registers an application route on behalf of a plugin.
func (c *Context) Route(pattern string, h router.Handler) error {
	c.mu.RLock()
	frozen := c.frozen
	c.mu.RUnlock()
	if frozen {
		return fmt.Errorf("route %q: %w", pattern, ErrFrozen)
	}
	return c.Router.Handle(pattern, h)
}

// Freeze ends the load phase. Namespaces, config routes, routes and
// extension points reject further changes.
func (c *Context) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
	c.Extensions.Freeze()
}

// Frozen reports whether Freeze has been called.
func (c *Context) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}
