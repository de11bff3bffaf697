package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/GoCodeAlone/shelf/rest"
)

// ServerPlugin is one entry of the server's plugin listing.
type ServerPlugin struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ServerPlugins is the response of GET system/plugins.
type ServerPlugins struct {
	All     map[string]ServerPlugin `json:"all"`
	Enabled []string                `json:"enabled"`
}

// FetchServerPlugins asks the server which plugins it has and which are
// enabled.
func FetchServerPlugins(ctx context.Context, client *rest.Client) (*ServerPlugins, error) {
	var resp ServerPlugins
	if err := client.Get(ctx, "system/plugins", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch enabled plugins: %w", err)
	}
	return &resp, nil
}

// FetchEnabled returns the names of the plugins the server has enabled, in
// the order the server lists them.
func FetchEnabled(ctx context.Context, client *rest.Client) ([]string, error) {
	resp, err := FetchServerPlugins(ctx, client)
	if err != nil {
		return nil, err
	}
	return resp.Enabled, nil
}

// Available returns the plugin names the server knows about, sorted.
func (s *ServerPlugins) Available() []string {
	names := make([]string, 0, len(s.All))
	for name := range s.All {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
