package resource

import (
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/shelf/rest"
)

// ApiKey is a long-lived credential with an optional list of scopes.
type ApiKey struct {
	*Model
}

// NewApiKey creates an API key model.
func NewApiKey(client *rest.Client, attrs map[string]any) *ApiKey {
	return &ApiKey{Model: NewModel(client, "api_key", attrs, WithCodec(scopeCodec{}))}
}

// Scope returns the key's scope as decoded from JSON, usually a list of
// scope names. Nil means unrestricted.
func (k *ApiKey) Scope() any {
	return k.Get("scope")
}

// scopeCodec sends scope as a JSON-encoded string and decodes it back.
type scopeCodec struct{}

func (scopeCodec) Encode(attrs map[string]any) (map[string]any, error) {
	if scope, ok := attrs["scope"]; ok && scope != nil {
		data, err := json.Marshal(scope)
		if err != nil {
			return nil, fmt.Errorf("encoding scope: %w", err)
		}
		attrs["scope"] = string(data)
	}
	return attrs, nil
}

func (scopeCodec) Decode(attrs map[string]any) (map[string]any, error) {
	if s, ok := attrs["scope"].(string); ok {
		var scope any
		if err := json.Unmarshal([]byte(s), &scope); err != nil {
			return nil, fmt.Errorf("decoding scope: %w", err)
		}
		attrs["scope"] = scope
	}
	return attrs, nil
}

// NewApiKeys creates an API key collection.
func NewApiKeys(client *rest.Client) *Collection[*ApiKey] {
	return NewCollection(client, func(c *rest.Client) *ApiKey { return NewApiKey(c, nil) }, CollectionConfig{
		Resource: "api_key",
	})
}
