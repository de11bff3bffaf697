// Package resource binds server-side resources to in-memory models and
// paginated collections.
//
// A Model holds the attribute map of one resource and knows how to fetch,
// save and destroy it through a rest.Client. Concrete types compose a Model
// with the capabilities they need:
//
//	type Folder struct {
//	    *Model
//	    *AccessControl
//	    *Metadata
//	}
//
// Every model and collection carries its own events.Bus; listeners subscribe
// with On and Bind on the value directly.
package resource

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"reflect"
	"sort"
	"sync"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/rest"
)

// IDAttr is the identity attribute assigned by the server.
const IDAttr = "_id"

// Event names emitted by models and collections.
const (
	EventFetched         = "g:fetched"
	EventSaved           = "g:saved"
	EventDeleted         = "g:deleted"
	EventError           = "g:error"
	EventAccessFetched   = "g:accessFetched"
	EventAccessUpdated   = "g:accessUpdated"
	EventMetadataChanged = "g:metadataChanged"
	EventChange          = "change"
	EventChanged         = "g:changed"
)

var (
	// ErrImmutableID is returned when changing the id of a model that has one.
	ErrImmutableID = errors.New("resource: _id cannot be changed once assigned")
	// ErrNoID is returned for operations that need a server-assigned id.
	ErrNoID = errors.New("resource: model has no _id")
)

// Codec converts attributes between their in-memory and wire forms.
// Encode receives a copy and may modify it.
type Codec interface {
	Encode(attrs map[string]any) (map[string]any, error)
	Decode(attrs map[string]any) (map[string]any, error)
}

type identityCodec struct{}

func (identityCodec) Encode(attrs map[string]any) (map[string]any, error) { return attrs, nil }
func (identityCodec) Decode(attrs map[string]any) (map[string]any, error) { return attrs, nil }

// Model is a single server resource.
type Model struct {
	*events.Bus

	client   *rest.Client
	resource string
	codec    Codec

	mu    sync.RWMutex
	attrs map[string]any
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithCodec sets the wire codec used by Save.
func WithCodec(c Codec) ModelOption {
	return func(m *Model) { m.codec = c }
}

// NewModel creates a model of the given resource type with initial attributes.
func NewModel(client *rest.Client, resource string, attrs map[string]any, opts ...ModelOption) *Model {
	m := &Model{
		Bus:      events.New(),
		client:   client,
		resource: resource,
		codec:    identityCodec{},
		attrs:    make(map[string]any, len(attrs)),
	}
	maps.Copy(m.attrs, attrs)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resource returns the resource type name, e.g. "folder".
func (m *Model) Resource() string { return m.resource }

// Client returns the client the model talks through.
func (m *Model) Client() *rest.Client { return m.client }

// ID returns the server-assigned id, or "" for an unsaved model.
func (m *Model) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, _ := m.attrs[IDAttr].(string)
	return id
}

// Path returns "{resource}/{id}".
func (m *Model) Path() string {
	return m.resource + "/" + m.ID()
}

// Get returns an attribute value.
func (m *Model) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attrs[key]
}

// GetString returns a string attribute, or "".
func (m *Model) GetString(key string) string {
	s, _ := m.Get(key).(string)
	return s
}

// Has reports whether key is set.
func (m *Model) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.attrs[key]
	return ok
}

// Attributes returns a shallow copy of the attributes.
func (m *Model) Attributes() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.attrs)
}

// Set assigns one attribute. Setting _id on a model that already has a
// different id returns ErrImmutableID.
func (m *Model) Set(key string, value any) error {
	return m.SetAll(map[string]any{key: value})
}

// SetAll assigns several attributes, emitting change:<attr> for each changed
// key followed by a single change.
func (m *Model) SetAll(attrs map[string]any) error {
	if v, ok := attrs[IDAttr]; ok {
		if id := m.ID(); id != "" && v != id {
			return ErrImmutableID
		}
	}
	m.apply(attrs)
	return nil
}

// Unset removes an attribute. The id cannot be unset once assigned.
func (m *Model) Unset(key string) error {
	if key == IDAttr && m.ID() != "" {
		return ErrImmutableID
	}
	m.mu.Lock()
	_, ok := m.attrs[key]
	delete(m.attrs, key)
	m.mu.Unlock()
	if ok {
		m.Trigger(EventChange+":"+key, m, nil)
		m.Trigger(EventChange, m)
	}
	return nil
}

// apply merges attrs and emits change events for the keys whose values
// differ.
func (m *Model) apply(attrs map[string]any) {
	m.mu.Lock()
	var changed []string
	for k, v := range attrs {
		if old, ok := m.attrs[k]; !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
		m.attrs[k] = v
	}
	m.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	for _, k := range changed {
		m.Trigger(EventChange+":"+k, m, m.Get(k))
	}
	m.Trigger(EventChange, m)
}

// load decodes server attributes and merges them into the model.
func (m *Model) load(serverAttrs map[string]any) error {
	decoded, err := m.codec.Decode(maps.Clone(serverAttrs))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", m.resource, err)
	}
	m.apply(decoded)
	return nil
}

// fail emits g:error for a failed request. Discarded requests are silent.
func (m *Model) fail(err error) error {
	if errors.Is(err, rest.ErrDiscarded) {
		return err
	}
	m.Trigger(EventError, m, err)
	return err
}

// Fetch loads the resource from the server and emits g:fetched.
func (m *Model) Fetch(ctx context.Context) error {
	if m.ID() == "" {
		return ErrNoID
	}
	var resp map[string]any
	if err := m.client.Get(ctx, m.Path(), nil, &resp); err != nil {
		return m.fail(err)
	}
	if err := m.load(resp); err != nil {
		return m.fail(err)
	}
	m.Trigger(EventFetched, m)
	return nil
}

// Save creates the resource (POST) when it has no id, or updates it (PUT).
// Attributes go through the model's codec on a copy; the in-memory form is
// never replaced by the wire form.
func (m *Model) Save(ctx context.Context) error {
	body, err := m.codec.Encode(m.Attributes())
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.resource, err)
	}
	method, path := http.MethodPost, m.resource
	if m.ID() != "" {
		method, path = http.MethodPut, m.Path()
	}
	delete(body, IDAttr)

	var resp map[string]any
	if err := m.client.Do(ctx, rest.Request{Method: method, Path: path, Body: body}, &resp); err != nil {
		return m.fail(err)
	}
	if err := m.load(resp); err != nil {
		return m.fail(err)
	}
	m.Trigger(EventSaved, m)
	return nil
}

// Destroy deletes the resource on the server and emits g:deleted.
func (m *Model) Destroy(ctx context.Context) error {
	if m.ID() == "" {
		return ErrNoID
	}
	if err := m.client.Delete(ctx, m.Path(), nil, nil); err != nil {
		return m.fail(err)
	}
	m.Trigger(EventDeleted, m)
	return nil
}

// call performs a request against a sub-path of the model and loads the
// response into the model when it is an object.
func (m *Model) call(ctx context.Context, req rest.Request) (map[string]any, error) {
	if m.ID() == "" {
		return nil, ErrNoID
	}
	var resp map[string]any
	if err := m.client.Do(ctx, req, &resp); err != nil {
		return nil, m.fail(err)
	}
	if resp != nil {
		if err := m.load(resp); err != nil {
			return nil, m.fail(err)
		}
	}
	return resp, nil
}
