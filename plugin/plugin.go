// Package plugin loads client plugins in dependency order and hands each one
// an explicit Context to register namespaces, config routes, routes and
// extension-point decorators during the load phase.
package plugin

import "context"

// Plugin is a separately packaged client extension.
type Plugin interface {
	Name() string
	Version() string
	Dependencies() []Dependency
	// Init runs once during the load phase. Everything a plugin registers
	// goes through pctx.
	Init(ctx context.Context, pctx *Context) error
}

// BasePlugin provides the metadata methods of Plugin; embed it and implement
// Init.
type BasePlugin struct {
	PluginName    string
	PluginVersion string
	Deps          []Dependency
}

// Name returns the plugin name.
func (b *BasePlugin) Name() string { return b.PluginName }

// Version returns the plugin version.
func (b *BasePlugin) Version() string { return b.PluginVersion }

// Dependencies returns the plugins this one must load after.
func (b *BasePlugin) Dependencies() []Dependency { return b.Deps }

// Func adapts an init function into a Plugin.
type Func struct {
	BasePlugin
	InitFunc func(ctx context.Context, pctx *Context) error
}

// Init calls InitFunc.
func (f *Func) Init(ctx context.Context, pctx *Context) error {
	if f.InitFunc == nil {
		return nil
	}
	return f.InitFunc(ctx, pctx)
}
