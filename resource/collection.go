package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/rest"
	"github.com/expr-lang/expr"
)

// Sort directions.
const (
	SortAscending  = 1
	SortDescending = -1
)

// DefaultPageLimit is the page size of collections that do not set one.
const DefaultPageLimit = 50

// ErrSuperseded is returned by a collection fetch whose response arrived
// after a newer fetch of the same collection was started. The response is
// dropped.
var ErrSuperseded = errors.New("resource: collection fetch superseded by a newer fetch")

// Resource is a model a Collection can hold.
type Resource interface {
	ID() string
	Attributes() map[string]any
	load(map[string]any) error
}

// Factory creates an empty model for a collection to load a list element into.
type Factory[M Resource] func(client *rest.Client) M

// CollectionConfig describes a collection's endpoint, paging and sort order.
type CollectionConfig struct {
	// Resource is the model type name; the list endpoint is Resource unless
	// AltURL is set.
	Resource string
	AltURL   string

	PageLimit          int
	SortField          string
	SecondarySortField string
	SortDir            int
	// Append accumulates pages instead of replacing the models on each page.
	Append bool
}

// Collection is an ordered, paginated list of models of one type.
type Collection[M Resource] struct {
	*events.Bus

	client  *rest.Client
	factory Factory[M]
	cfg     CollectionConfig

	mu      sync.Mutex
	params  url.Values
	offset  int
	models  []M
	hasNext bool
	fetched bool
	seq     uint64
}

// NewCollection creates an empty collection.
func NewCollection[M Resource](client *rest.Client, factory Factory[M], cfg CollectionConfig) *Collection[M] {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.SortField == "" {
		cfg.SortField = "name"
	}
	if cfg.SortDir == 0 {
		cfg.SortDir = SortAscending
	}
	return &Collection[M]{
		Bus:     events.New(),
		client:  client,
		factory: factory,
		cfg:     cfg,
	}
}

// Config returns the collection's configuration.
func (c *Collection[M]) Config() CollectionConfig { return c.cfg }

// PageLimit returns the page size.
func (c *Collection[M]) PageLimit() int { return c.cfg.PageLimit }

// SetAltURL changes the list endpoint. Takes effect on the next fetch.
func (c *Collection[M]) SetAltURL(u string) {
	c.mu.Lock()
	c.cfg.AltURL = u
	c.mu.Unlock()
}

// SetSort changes the sort order. Takes effect on the next fetch.
func (c *Collection[M]) SetSort(field string, dir int) {
	c.mu.Lock()
	c.cfg.SortField = field
	c.cfg.SortDir = dir
	c.mu.Unlock()
}

// Models returns the current models.
func (c *Collection[M]) Models() []M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]M, len(c.models))
	copy(out, c.models)
	return out
}

// Len returns the number of models held.
func (c *Collection[M]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.models)
}

// Offset returns the offset of the last page fetched.
func (c *Collection[M]) Offset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Page returns the zero-based index of the last page fetched.
func (c *Collection[M]) Page() int {
	return c.Offset() / c.cfg.PageLimit
}

// HasNextPage reports whether the last page fetched was full.
func (c *Collection[M]) HasNextPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasNext
}

// HasPreviousPage reports whether the last page fetched was not the first.
func (c *Collection[M]) HasPreviousPage() bool {
	return c.Offset() > 0
}

// Fetch loads the first page with params, which are kept for later pages.
// A nil params reuses the previous ones.
func (c *Collection[M]) Fetch(ctx context.Context, params url.Values) error {
	c.mu.Lock()
	if params != nil {
		c.params = cloneValues(params)
	}
	c.mu.Unlock()
	return c.fetch(ctx, 0, false)
}

// FetchNextPage loads the page after the current one. It does nothing when
// the current page was not full.
func (c *Collection[M]) FetchNextPage(ctx context.Context) error {
	c.mu.Lock()
	if !c.fetched || !c.hasNext {
		c.mu.Unlock()
		return nil
	}
	next := c.offset + c.cfg.PageLimit
	appendPage := c.cfg.Append
	c.mu.Unlock()
	return c.fetch(ctx, next, appendPage)
}

// FetchPreviousPage loads the page before the current one. It does nothing
// on the first page. The previous page always replaces the models.
func (c *Collection[M]) FetchPreviousPage(ctx context.Context) error {
	c.mu.Lock()
	if !c.fetched || c.offset == 0 {
		c.mu.Unlock()
		return nil
	}
	prev := max(c.offset-c.cfg.PageLimit, 0)
	c.mu.Unlock()
	return c.fetch(ctx, prev, false)
}

func (c *Collection[M]) fetch(ctx context.Context, offset int, appendPage bool) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	path := c.cfg.Resource
	if c.cfg.AltURL != "" {
		path = c.cfg.AltURL
	}
	q := c.query(offset)
	c.mu.Unlock()

	var raw []map[string]any
	err := c.client.Get(ctx, path, q, &raw)
	if errors.Is(err, rest.ErrDiscarded) {
		return err
	}
	if err != nil {
		if c.stale(seq) {
			return ErrSuperseded
		}
		c.Trigger(EventError, c, err)
		return err
	}

	page := make([]M, 0, len(raw))
	for _, attrs := range raw {
		m := c.factory(c.client)
		if err := m.load(attrs); err != nil {
			c.Trigger(EventError, c, err)
			return err
		}
		page = append(page, m)
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if appendPage {
		c.models = append(c.models, page...)
	} else {
		c.models = page
	}
	c.offset = offset
	c.hasNext = len(page) == c.cfg.PageLimit
	c.fetched = true
	c.mu.Unlock()

	c.Trigger(EventChanged, c)
	return nil
}

func (c *Collection[M]) stale(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq != c.seq
}

// query builds the list parameters. Callers hold c.mu.
func (c *Collection[M]) query(offset int) url.Values {
	q := cloneValues(c.params)
	if q == nil {
		q = url.Values{}
	}
	q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	q.Set("offset", strconv.Itoa(offset))
	if c.cfg.SecondarySortField != "" {
		sortSpec, _ := json.Marshal([][]any{
			{c.cfg.SortField, c.cfg.SortDir},
			{c.cfg.SecondarySortField, c.cfg.SortDir},
		})
		q.Set("sort", string(sortSpec))
		q.Del("sortdir")
	} else {
		q.Set("sort", c.cfg.SortField)
		q.Set("sortdir", strconv.Itoa(c.cfg.SortDir))
	}
	return q
}

// Filter returns the models for which the boolean expression evaluates to
// true, with the model attributes as variables:
//
//	folders.Filter(`size > 1024 && public`)
func (c *Collection[M]) Filter(expression string) ([]M, error) {
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expression, err)
	}
	var out []M
	for _, m := range c.Models() {
		v, err := expr.Run(program, m.Attributes())
		if err != nil {
			return nil, fmt.Errorf("filter %q on %s: %w", expression, m.ID(), err)
		}
		if ok, _ := v.(bool); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
