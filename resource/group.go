package resource

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/GoCodeAlone/shelf/rest"
)

// Group is a set of users granted access together.
type Group struct {
	*Model
	*AccessControl
}

// NewGroup creates a group model.
func NewGroup(client *rest.Client, attrs map[string]any) *Group {
	m := NewModel(client, "group", attrs)
	return &Group{Model: m, AccessControl: NewAccessControl(m)}
}

// Name returns the group name.
func (g *Group) Name() string { return g.GetString("name") }

// Invite invites userID at the given access level. With force, an
// administrator adds the user directly.
func (g *Group) Invite(ctx context.Context, userID string, level int, force bool) error {
	q := url.Values{
		"userId": {userID},
		"level":  {strconv.Itoa(level)},
		"quiet":  {"false"},
		"force":  {strconv.FormatBool(force)},
	}
	if _, err := g.call(ctx, rest.Request{Method: http.MethodPost, Path: g.Path() + "/invitation", Query: q}); err != nil {
		return err
	}
	g.Trigger("g:invited", g, userID)
	return nil
}

// Join accepts an invitation for the current user.
func (g *Group) Join(ctx context.Context) error {
	if _, err := g.call(ctx, rest.Request{Method: http.MethodPost, Path: g.Path() + "/member"}); err != nil {
		return err
	}
	g.Trigger("g:joined", g)
	return nil
}

// RemoveMember removes userID from the group.
func (g *Group) RemoveMember(ctx context.Context, userID string) error {
	q := url.Values{"userId": {userID}}
	if _, err := g.call(ctx, rest.Request{Method: http.MethodDelete, Path: g.Path() + "/member", Query: q}); err != nil {
		return err
	}
	g.Trigger("g:removed", g, userID)
	return nil
}

// NewGroups creates a group collection.
func NewGroups(client *rest.Client) *Collection[*Group] {
	return NewCollection(client, func(c *rest.Client) *Group { return NewGroup(c, nil) }, CollectionConfig{
		Resource: "group",
	})
}
