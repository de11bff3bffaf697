// Package shelf assembles the client core: the REST client, event bus,
// extension registry, views, router and plugins, and starts them through
// an ordered pipeline of stages.
//
//	cfg, _ := config.Load("shelf.yaml")
//	app, err := shelf.New(cfg, shelf.WithPlugins(homepage.New()))
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//	if err := app.Start(ctx); err != nil {
//	    return err
//	}
//	out, err := app.Open(ctx, "folder/5f0c...")
package shelf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/shelf/cache"
	"github.com/GoCodeAlone/shelf/config"
	"github.com/GoCodeAlone/shelf/dynamic"
	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/extend"
	"github.com/GoCodeAlone/shelf/plugin"
	"github.com/GoCodeAlone/shelf/resource"
	"github.com/GoCodeAlone/shelf/rest"
	"github.com/GoCodeAlone/shelf/router"
	"github.com/GoCodeAlone/shelf/view"
)

// Startup stage names.
const (
	StageClient          = "client"
	StageSession         = "session"
	StagePluginsDiscover = "plugins.discover"
	StagePluginsLoad     = "plugins.load"
	StagePluginsFreeze   = "plugins.freeze"
	StageReady           = "ready"
)

// Application events triggered on the bus.
const (
	EventAppLoadBefore = "g:appload.before"
	EventAppLoadAfter  = "g:appload.after"
	EventLogin         = "g:login"
	EventRequestError  = "g:request.error"
)

// Version is the client version reported by the CLI.
const Version = "0.4.0"

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithPlugins registers compiled-in plugins.
func WithPlugins(ps ...plugin.Plugin) Option {
	return func(a *App) { a.builtin = append(a.builtin, ps...) }
}

// WithHTTPClient sets the HTTP client used by the REST client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

// WithMetrics records REST metrics on m.
func WithMetrics(m *rest.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTracerProvider enables tracing of REST calls.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) {
		a.tracing = true
		a.tracerProvider = tp
	}
}

// WithCacheStore overrides the cache backend selected by the config.
func WithCacheStore(s cache.Store) Option {
	return func(a *App) { a.cache = s }
}

// WithConfigFile watches path and applies API and static root changes
// while the app runs.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithStages adds stages to the startup pipeline.
func WithStages(stages ...Stage) Option {
	return func(a *App) { a.extraStages = append(a.extraStages, stages...) }
}

// App is the assembled client.
type App struct {
	Config        *config.Config
	Client        *rest.Client
	Bus           *events.Bus
	Extensions    *extend.Registry
	Views         *view.Views
	Router        *router.Router
	Plugins       *plugin.Manager
	PluginContext *plugin.Context

	logger         *slog.Logger
	httpClient     *http.Client
	metrics        *rest.Metrics
	tracing        bool
	tracerProvider trace.TracerProvider
	cache          cache.Store
	state          *plugin.StateStore
	loader         *dynamic.Loader
	builtin        []plugin.Plugin
	configPath     string
	watcher        *config.Watcher
	extraStages    []Stage
	pipeline       *Pipeline
	closers        []io.Closer

	mu            sync.RWMutex
	scriptsLoaded bool
	user          *resource.User
	enabled       []string
	server        *plugin.ServerPlugins
}

// New assembles an App from cfg. Nothing is fetched until Start.
func New(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	// Anything opened before a failure is closed again.
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.cache == nil {
		store, closer, err := openCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		a.cache = store
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	a.Client = rest.New(cfg.APIRoot, a.clientOptions()...)
	a.Bus = events.New()
	a.Extensions = extend.NewRegistry()
	a.Router = router.New()

	views, err := view.New(a.Extensions)
	if err != nil {
		return nil, err
	}
	a.Views = views

	managerOpts := []plugin.ManagerOption{plugin.WithManagerLogger(a.logger)}
	if cfg.Plugins.StatePath != "" {
		state, err := plugin.OpenStateStore(cfg.Plugins.StatePath)
		if err != nil {
			return nil, err
		}
		a.state = state
		a.closers = append(a.closers, state)
		managerOpts = append(managerOpts, plugin.WithStateStore(state))
	}
	a.Plugins = plugin.NewManager(managerOpts...)
	for _, p := range a.builtin {
		if err := a.Plugins.Register(p); err != nil {
			return nil, err
		}
	}
	a.loader = dynamic.NewLoader(dynamic.WithLogger(a.logger))

	a.PluginContext = plugin.NewContext(plugin.ContextConfig{
		Client:     a.Client,
		Bus:        a.Bus,
		Extensions: a.Extensions,
		Router:     a.Router,
		Logger:     a.logger,
	})

	if err := a.registerCoreRoutes(); err != nil {
		return nil, err
	}

	a.pipeline = NewPipeline(a.logger)
	a.pipeline.Add(a.coreStages()...)
	a.pipeline.Add(a.extraStages...)
	return a, nil
}

func (a *App) clientOptions() []rest.Option {
	opts := ClientOptions(a.Config, a.logger)
	opts = append(opts, rest.WithErrorHandler(func(err *rest.RequestError) {
		a.Bus.Trigger(EventRequestError, err)
	}))
	// A caller-supplied HTTP client keeps its own timeout.
	if a.httpClient != nil {
		opts = append(opts, rest.WithHTTPClient(a.httpClient))
	}
	if a.cache != nil {
		opts = append(opts, rest.WithCache(a.cache, a.Config.Cache.TTL))
	}
	if a.metrics != nil {
		opts = append(opts, rest.WithMetrics(a.metrics))
	}
	if a.tracing {
		opts = append(opts, rest.WithTracing(a.tracerProvider))
	}
	return opts
}

// ClientOptions returns the REST client options derived from cfg: logger,
// timeout, roots, token and rate limit. Caching, metrics and tracing are
// added by the App.
func ClientOptions(cfg *config.Config, logger *slog.Logger) []rest.Option {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []rest.Option{rest.WithLogger(logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, rest.WithTimeout(cfg.Timeout))
	}
	if cfg.StaticRoot != "" {
		opts = append(opts, rest.WithStaticRoot(cfg.StaticRoot))
	}
	if cfg.Origin != "" {
		opts = append(opts, rest.WithOrigin(cfg.Origin))
	}
	if cfg.Token != "" {
		opts = append(opts, rest.WithToken(cfg.Token))
	}
	if cfg.TokenHeader != "" {
		opts = append(opts, rest.WithTokenHeader(cfg.TokenHeader))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, rest.WithRateLimit(rate.Limit(cfg.RateLimit), burst))
	}
	return opts
}

func openCache(cfg config.CacheConfig) (cache.Store, io.Closer, error) {
	switch cfg.Backend {
	case "":
		// No backend: every GET goes to the server.
		return nil, nil, nil
	case "memory":
		mc := cache.DefaultMemoryConfig()
		if cfg.TTL > 0 {
			mc.DefaultTTL = cfg.TTL
		}
		return cache.NewMemory(mc), nil, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := cache.NewRedis(ctx, cache.RedisConfig{Address: cfg.RedisAddr, Prefix: "shelf:", DefaultTTL: cfg.TTL})
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case "sqlite":
		s, err := cache.OpenSQLite(cfg.SQLitePath, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

func (a *App) coreStages() []Stage {
	return []Stage{
		{Name: StageClient, Run: a.startClient},
		{Name: StageSession, After: []string{StageClient}, Run: a.startSession},
		{Name: StagePluginsDiscover, After: []string{StageClient}, Run: a.discoverPlugins},
		{Name: StagePluginsLoad, After: []string{StageSession, StagePluginsDiscover}, Run: a.loadPlugins},
		{Name: StagePluginsFreeze, After: []string{StagePluginsLoad}, Run: a.freezePlugins},
		{Name: StageReady, After: []string{StagePluginsFreeze}, Run: a.ready},
	}
}

// Pipeline returns the startup pipeline, so callers can inspect its order.
func (a *App) Pipeline() *Pipeline { return a.pipeline }

// Start runs the startup pipeline. g:appload.before and g:appload.after
// are triggered around it.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.pipeline.Order(); err != nil {
		return err
	}
	a.Bus.Trigger(EventAppLoadBefore, a)
	if err := a.pipeline.Run(ctx); err != nil {
		return err
	}
	a.Bus.Trigger(EventAppLoadAfter, a)
	return nil
}

func (a *App) startClient(context.Context) error {
	a.logger.Debug("REST client configured", "api_root", a.Client.APIRoot(), "static_root", a.Client.StaticRoot())
	if a.configPath == "" {
		return nil
	}
	a.watcher = config.NewWatcher(a.configPath, a.applyConfig, config.WithWatchLogger(a.logger))
	return a.watcher.Start()
}

// applyConfig applies a reloaded configuration's roots to the client.
func (a *App) applyConfig(evt config.ChangeEvent) {
	cfg := evt.Config
	if cfg.APIRoot != a.Client.APIRoot() {
		a.Client.SetAPIRoot(cfg.APIRoot)
		a.logger.Info("API root changed", "api_root", cfg.APIRoot)
	}
	if cfg.StaticRoot != a.Client.StaticRoot() {
		a.Client.SetStaticRoot(cfg.StaticRoot)
		a.logger.Info("Static root changed", "static_root", cfg.StaticRoot)
	}
}

func (a *App) startSession(ctx context.Context) error {
	if a.Client.Token() == "" {
		return nil
	}
	user, err := resource.Me(ctx, a.Client)
	if err != nil {
		if rerr, ok := rest.AsRequestError(err); ok && !rerr.Transport() {
			a.logger.Warn("Session token rejected", "status", rerr.StatusCode)
			a.Client.SetToken("")
			return nil
		}
		return err
	}
	if user == nil {
		a.Client.SetToken("")
		return nil
	}
	a.mu.Lock()
	a.user = user
	a.mu.Unlock()
	a.logger.Info("Logged in", "user", user.Login())
	a.Bus.Trigger(EventLogin, user)
	return nil
}

// LoadScripts compiles the plugin scripts in the configured directory and
// registers them. Later calls do nothing.
func (a *App) LoadScripts(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	dir := a.Config.Plugins.Dir
	if a.scriptsLoaded || dir == "" {
		return nil
	}
	scripts, err := a.loader.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if err := a.Plugins.Register(s); err != nil {
			return err
		}
	}
	a.scriptsLoaded = true
	return nil
}

func (a *App) discoverPlugins(ctx context.Context) error {
	if err := a.LoadScripts(ctx); err != nil {
		return err
	}

	if enabled := a.Config.Plugins.Enabled; len(enabled) > 0 {
		a.setEnabled(slices.Clone(enabled), nil)
		return nil
	}
	server, err := plugin.FetchServerPlugins(ctx, a.Client)
	if err != nil {
		return err
	}
	// The server may enable plugins this client does not have.
	var enabled []string
	for _, name := range server.Enabled {
		if _, ok := a.Plugins.Get(name); ok {
			enabled = append(enabled, name)
		} else {
			a.logger.Debug("Enabled plugin not available in client", "plugin", name)
		}
	}
	a.setEnabled(enabled, server)
	return nil
}

func (a *App) setEnabled(enabled []string, server *plugin.ServerPlugins) {
	a.mu.Lock()
	a.enabled = enabled
	a.server = server
	a.mu.Unlock()
}

func (a *App) loadPlugins(ctx context.Context) error {
	enabled := a.Enabled()
	if _, err := a.Plugins.LoadOrder(enabled); err != nil {
		return err
	}
	loaded, err := a.Plugins.Load(ctx, a.PluginContext, enabled)
	if err != nil {
		a.logger.Warn("Some plugins failed to load", "error", err)
	}
	a.logger.Info("Plugins loaded", "count", len(loaded))
	return nil
}

func (a *App) freezePlugins(context.Context) error {
	a.PluginContext.Freeze()
	return nil
}

func (a *App) ready(context.Context) error {
	a.logger.Info("Application ready", "api_root", a.Client.APIRoot())
	return nil
}

// User returns the logged-in user, nil when anonymous.
func (a *App) User() *resource.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// Enabled returns the plugin names selected during discovery.
func (a *App) Enabled() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.enabled)
}

// Login authenticates with username and password and stores the token.
func (a *App) Login(ctx context.Context, username, password string) (*resource.User, error) {
	user, err := resource.Login(ctx, a.Client, username, password)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.user = user
	a.mu.Unlock()
	a.Bus.Trigger(EventLogin, user)
	return user, nil
}

// Open renders the route at path.
func (a *App) Open(ctx context.Context, path string) (string, error) {
	return a.Router.Dispatch(ctx, path)
}

// Navigate cancels outstanding requests, as leaving a page does, then
// opens path.
func (a *App) Navigate(ctx context.Context, path string) (string, error) {
	a.Client.CancelOutstanding()
	return a.Open(ctx, path)
}

// Close stops the config watcher and releases the cache and plugin state.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
