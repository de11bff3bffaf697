// Package router maps application routes such as "folder/{id}" to handlers.
//
// Patterns use the net/http ServeMux syntax without a method or host:
// literal segments, "{name}" wildcards and a trailing "{name...}". When
// several patterns match, the most specific one wins. Registering a pattern
// again replaces its handler, which is how plugins override core routes.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no route matches a path.
var ErrNotFound = errors.New("route not found")

// Params holds the wildcard values and query parameters of a resolved route.
type Params map[string]string

// Handler handles a resolved route and returns its text output.
type Handler func(ctx context.Context, params Params) (string, error)

type route struct {
	pattern   string
	wildcards []string
	handler   Handler
}

// Router resolves route paths.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route
	order  []string
	mux    *http.ServeMux
}

// New creates an empty router.
func New() *Router {
	return &Router{routes: make(map[string]*route), mux: http.NewServeMux()}
}

// Handle registers h for pattern, replacing any handler already registered
// for the same pattern.
func (r *Router) Handle(pattern string, h Handler) error {
	pattern = normalize(pattern)
	if h == nil {
		return fmt.Errorf("route %s: nil handler", pattern)
	}
	rt := &route{pattern: pattern, wildcards: wildcards(pattern), handler: h}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.routes[pattern]
	next := make(map[string]*route, len(r.routes)+1)
	for k, v := range r.routes {
		next[k] = v
	}
	next[pattern] = rt
	order := r.order
	if !exists {
		order = append(append([]string(nil), r.order...), pattern)
	}
	mux, err := buildMux(next, order)
	if err != nil {
		return err
	}
	r.routes, r.order, r.mux = next, order, mux
	return nil
}

// Patterns returns the registered patterns, sorted.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

type matchKey struct{}

type match struct {
	route  *route
	params Params
}

// Resolve finds the handler for path. Query parameters are merged into the
// params without overriding wildcard values.
func (r *Router) Resolve(path string) (Handler, Params, error) {
	p, query, _ := strings.Cut(strings.TrimPrefix(path, "/"), "?")

	r.mu.RLock()
	mux := r.mux
	r.mu.RUnlock()

	m := &match{}
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Path: "/" + p},
		Host:   "route",
		Header: http.Header{},
	}
	req = req.WithContext(context.WithValue(context.Background(), matchKey{}, m))
	mux.ServeHTTP(discard{}, req)
	if m.route == nil {
		return nil, nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, nil, fmt.Errorf("route %s: %w", path, err)
		}
		for k, vs := range values {
			if _, ok := m.params[k]; !ok && len(vs) > 0 {
				m.params[k] = vs[0]
			}
		}
	}
	return m.route.handler, m.params, nil
}

// Dispatch resolves path and runs its handler.
func (r *Router) Dispatch(ctx context.Context, path string) (string, error) {
	h, params, err := r.Resolve(path)
	if err != nil {
		return "", err
	}
	return h(ctx, params)
}

func buildMux(routes map[string]*route, order []string) (mux *http.ServeMux, err error) {
	mux = http.NewServeMux()
	defer func() {
		// ServeMux panics on conflicting patterns.
		if rec := recover(); rec != nil {
			mux, err = nil, fmt.Errorf("route conflict: %v", rec)
		}
	}()
	for _, pattern := range order {
		rt := routes[pattern]
		mux.HandleFunc("/"+pattern, func(_ http.ResponseWriter, req *http.Request) {
			m, _ := req.Context().Value(matchKey{}).(*match)
			if m == nil {
				return
			}
			m.route = rt
			m.params = make(Params, len(rt.wildcards))
			for _, name := range rt.wildcards {
				m.params[name] = req.PathValue(name)
			}
		})
	}
	return mux, nil
}

func normalize(pattern string) string {
	return strings.TrimPrefix(strings.TrimSpace(pattern), "/")
}

func wildcards(pattern string) []string {
	var names []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.Trim(seg, "{}"), "...")
			if name != "$" && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// discard is a ResponseWriter that drops everything.
type discard struct{}

func (discard) Header() http.Header         { return http.Header{} }
func (discard) Write(b []byte) (int, error) { return len(b), nil }
func (discard) WriteHeader(int)             {}
