package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Info describes a registered plugin for listings.
type Info struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Dependencies []Dependency `json:"dependencies"`
	Loaded       bool         `json:"loaded"`
	Disabled     bool         `json:"disabled"`
	ConfigRoute  string       `json:"config_route,omitempty"`
}

// Manager registers plugins, resolves their load order and runs their Init
// functions.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string // registration order
	loaded  map[string]bool
	failed  map[string]error
	state   *StateStore
	logger  *slog.Logger
	pctx    *Context
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStateStore persists local enable/disable choices in s.
func WithStateStore(s *StateStore) ManagerOption {
	return func(m *Manager) { m.state = s }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		plugins: make(map[string]Plugin),
		loaded:  make(map[string]bool),
		failed:  make(map[string]error),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a plugin to the known set. It does not load the plugin.
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("plugin %q is already registered", name)
	}
	m.plugins[name] = p
	m.order = append(m.order, name)
	m.logger.Debug("Plugin registered", "plugin", name, "version", p.Version())
	return nil
}

// Get returns the plugin registered under name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// Names returns the registered plugin names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// IsLoaded reports whether name was initialized successfully.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded[name]
}

// Failed returns the Init error of name, if it failed.
func (m *Manager) Failed(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed[name]
}

// LoadOrder returns the order in which to load names: every plugin after its
// dependencies, otherwise in the order given. Dependencies not listed are
// pulled in when registered.
func (m *Manager) LoadOrder(names []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(n string) error
	visit = func(n string) error {
		if visited[n] {
			return nil
		}
		if inStack[n] {
			return fmt.Errorf("circular dependency detected involving %q", n)
		}
		p, ok := m.plugins[n]
		if !ok {
			return fmt.Errorf("plugin %q is not registered", n)
		}
		inStack[n] = true
		for _, dep := range p.Dependencies() {
			depPlugin, ok := m.plugins[dep.Name]
			if !ok {
				return fmt.Errorf("plugin %q: dependency %q is not registered", n, dep.Name)
			}
			if dep.Constraint != "" {
				ok, err := CheckVersion(depPlugin.Version(), dep.Constraint)
				if err != nil {
					return fmt.Errorf("plugin %q: check version for dep %q: %w", n, dep.Name, err)
				}
				if !ok {
					return fmt.Errorf("plugin %q: dependency %q version %s does not satisfy %s",
						n, dep.Name, depPlugin.Version(), dep.Constraint)
				}
			}
			if err := visit(dep.Name); err != nil {
				return err
			}
		}
		inStack[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Load initializes the plugins in enabled, and their dependencies, in load
// order with pctx. Plugins disabled in the state store are skipped, as are
// plugins whose dependencies were skipped or failed. A failing Init does not
// stop the others; the failures are returned joined.
func (m *Manager) Load(ctx context.Context, pctx *Context, enabled []string) ([]string, error) {
	order, err := m.LoadOrder(enabled)
	if err != nil {
		return nil, err
	}

	disabled := map[string]bool{}
	if m.state != nil {
		names, err := m.state.Disabled(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			disabled[n] = true
		}
	}

	m.mu.Lock()
	m.pctx = pctx
	m.mu.Unlock()

	var loaded []string
	var errs []error
	skipped := map[string]bool{}
	for _, name := range order {
		p, _ := m.Get(name)
		if disabled[name] {
			m.logger.Info("Plugin disabled locally, skipping", "plugin", name)
			skipped[name] = true
			continue
		}
		if dep := firstSkipped(p, skipped); dep != "" {
			m.logger.Warn("Plugin dependency not loaded, skipping", "plugin", name, "dependency", dep)
			skipped[name] = true
			continue
		}
		if err := safeInit(ctx, p, pctx); err != nil {
			m.logger.Error("Plugin failed to load", "plugin", name, "error", err)
			m.mu.Lock()
			m.failed[name] = err
			m.mu.Unlock()
			skipped[name] = true
			errs = append(errs, fmt.Errorf("plugin %q: %w", name, err))
			continue
		}
		m.mu.Lock()
		m.loaded[name] = true
		m.mu.Unlock()
		loaded = append(loaded, name)
		m.logger.Info("Plugin loaded", "plugin", name, "version", p.Version())
	}
	return loaded, errors.Join(errs...)
}

func firstSkipped(p Plugin, skipped map[string]bool) string {
	for _, dep := range p.Dependencies() {
		if skipped[dep.Name] {
			return dep.Name
		}
	}
	return ""
}

// safeInit runs Init, converting a panic into an error.
func safeInit(ctx context.Context, p Plugin, pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panicked: %v", r)
		}
	}()
	return p.Init(ctx, pctx)
}

// SetEnabled switches a plugin on or off locally. The choice applies from
// the next Load.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	p, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("plugin %q is not registered", name)
	}
	if m.state == nil {
		return fmt.Errorf("no plugin state store configured")
	}
	return m.state.SetEnabled(ctx, name, p.Version(), enabled)
}

// Infos describes every registered plugin in registration order.
func (m *Manager) Infos(ctx context.Context) ([]Info, error) {
	disabled := map[string]bool{}
	if m.state != nil {
		names, err := m.state.Disabled(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			disabled[n] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		p := m.plugins[name]
		deps := p.Dependencies()
		if deps == nil {
			deps = []Dependency{}
		}
		info := Info{
			Name:         name,
			Version:      p.Version(),
			Dependencies: deps,
			Loaded:       m.loaded[name],
			Disabled:     disabled[name],
		}
		if m.pctx != nil {
			info.ConfigRoute, _ = m.pctx.ConfigRoute(name)
		}
		out = append(out, info)
	}
	return out, nil
}
