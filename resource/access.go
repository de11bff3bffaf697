package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/GoCodeAlone/shelf/rest"
	"golang.org/x/sync/errgroup"
)

// Access levels.
const (
	AccessRead  = 0
	AccessWrite = 1
	AccessAdmin = 2
	AccessNone  = -1
)

// AccessEntry grants a user or group a level on a resource.
type AccessEntry struct {
	ID    string   `json:"id"`
	Level int      `json:"level"`
	Name  string   `json:"name,omitempty"`
	Login string   `json:"login,omitempty"`
	Flags []string `json:"flags,omitempty"`
}

// AccessList is the access control list of a resource.
type AccessList struct {
	Users  []AccessEntry `json:"users"`
	Groups []AccessEntry `json:"groups"`
}

// AccessControl adds access-list operations to a model.
type AccessControl struct {
	model *Model

	mu   sync.RWMutex
	list *AccessList
}

// NewAccessControl attaches access-list operations to m.
func NewAccessControl(m *Model) *AccessControl {
	return &AccessControl{model: m}
}

// Access returns the access list and true once it has been fetched.
func (a *AccessControl) Access() (*AccessList, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.list, a.list != nil
}

// FetchAccess loads the access list and emits g:accessFetched. Concurrent
// calls each issue their own request.
func (a *AccessControl) FetchAccess(ctx context.Context) (*AccessList, error) {
	m := a.model
	if m.ID() == "" {
		return nil, ErrNoID
	}
	var list AccessList
	if err := m.client.Get(ctx, m.Path()+"/access", nil, &list); err != nil {
		return nil, m.fail(err)
	}
	a.mu.Lock()
	a.list = &list
	a.mu.Unlock()
	m.Trigger(EventAccessFetched, m, &list)
	return &list, nil
}

// UpdateAccess replaces the access list and the public flag on the server
// and emits g:accessUpdated.
func (a *AccessControl) UpdateAccess(ctx context.Context, list AccessList, public bool) error {
	m := a.model
	if m.ID() == "" {
		return ErrNoID
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding access list: %w", err)
	}
	body := map[string]any{
		"access": string(encoded),
		"public": public,
	}
	if err := m.client.Do(ctx, rest.Request{Method: http.MethodPut, Path: m.Path() + "/access", Body: body}, nil); err != nil {
		return m.fail(err)
	}
	a.mu.Lock()
	a.list = &list
	a.mu.Unlock()
	if err := m.SetAll(map[string]any{"public": public}); err != nil {
		return err
	}
	m.Trigger(EventAccessUpdated, m, &list)
	return nil
}

// AccessFetcher is anything whose access list can be fetched.
type AccessFetcher interface {
	FetchAccess(ctx context.Context) (*AccessList, error)
}

// FetchAccessAll fetches the access lists of all models concurrently, at most
// limit at a time (no limit when limit <= 0). It returns the first error.
func FetchAccessAll(ctx context.Context, limit int, models ...AccessFetcher) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, m := range models {
		g.Go(func() error {
			_, err := m.FetchAccess(ctx)
			return err
		})
	}
	return g.Wait()
}
