package resource

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/shelf/rest"
)

// User is a platform account.
type User struct {
	*Model
	*AccessControl
}

// NewUser creates a user model.
func NewUser(client *rest.Client, attrs map[string]any) *User {
	m := NewModel(client, "user", attrs)
	return &User{Model: m, AccessControl: NewAccessControl(m)}
}

// Login returns the login name.
func (u *User) Login() string { return u.GetString("login") }

// Name returns "First Last".
func (u *User) Name() string {
	return strings.TrimSpace(u.GetString("firstName") + " " + u.GetString("lastName"))
}

// IsAdmin reports whether the user is a site administrator.
func (u *User) IsAdmin() bool {
	admin, _ := u.Get("admin").(bool)
	return admin
}

// Details returns the user's resource counts.
func (u *User) Details(ctx context.Context) (map[string]any, error) {
	if u.ID() == "" {
		return nil, ErrNoID
	}
	var details map[string]any
	if err := u.client.Get(ctx, u.Path()+"/details", nil, &details); err != nil {
		return nil, u.fail(err)
	}
	return details, nil
}

// Me returns the user the client's token belongs to, or nil when anonymous.
func Me(ctx context.Context, client *rest.Client) (*User, error) {
	var attrs map[string]any
	if err := client.Get(ctx, "user/me", nil, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, nil
	}
	u := NewUser(client, nil)
	if err := u.load(attrs); err != nil {
		return nil, err
	}
	return u, nil
}

type authResponse struct {
	User      map[string]any `json:"user"`
	AuthToken struct {
		Token   string `json:"token"`
		Expires string `json:"expires"`
	} `json:"authToken"`
}

// Login authenticates with basic credentials and stores the session token
// on the client.
func Login(ctx context.Context, client *rest.Client, username, password string) (*User, error) {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	req := rest.Request{
		Method:               http.MethodGet,
		Path:                 "user/authentication",
		Header:               http.Header{"Authorization": {"Basic " + creds}},
		SuppressErrorHandler: true,
		NoCache:              true,
	}
	var resp authResponse
	if err := client.Do(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	if resp.AuthToken.Token == "" {
		return nil, fmt.Errorf("login %s: server returned no token", username)
	}
	client.SetToken(resp.AuthToken.Token)
	u := NewUser(client, nil)
	if err := u.load(resp.User); err != nil {
		return nil, err
	}
	return u, nil
}

// Logout ends the session on the server and clears the client token.
func Logout(ctx context.Context, client *rest.Client) error {
	err := client.Delete(ctx, "user/authentication", nil, nil)
	client.SetToken("")
	return err
}

// NewUsers creates a user collection sorted by last then first name.
func NewUsers(client *rest.Client) *Collection[*User] {
	return NewCollection(client, func(c *rest.Client) *User { return NewUser(c, nil) }, CollectionConfig{
		Resource:           "user",
		SortField:          "lastName",
		SecondarySortField: "firstName",
	})
}
