package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/GoCodeAlone/shelf/rest"
	"github.com/itchyny/gojq"
)

// MetaAttr is the attribute holding user metadata.
const MetaAttr = "meta"

// Metadata adds free-form metadata operations to a model.
type Metadata struct {
	model *Model
}

// NewMetadata attaches metadata operations to m.
func NewMetadata(m *Model) *Metadata {
	return &Metadata{model: m}
}

// Meta returns the metadata map, or nil.
func (md *Metadata) Meta() map[string]any {
	meta, _ := md.model.Get(MetaAttr).(map[string]any)
	return meta
}

// AddMetadata sets one metadata key.
func (md *Metadata) AddMetadata(ctx context.Context, key string, value any) error {
	return md.send(ctx, http.MethodPut, nil, map[string]any{key: value})
}

// EditMetadata sets newKey to value. When the key is renamed the old key is
// removed in the same request.
func (md *Metadata) EditMetadata(ctx context.Context, newKey, oldKey string, value any) error {
	if newKey == oldKey || oldKey == "" {
		return md.AddMetadata(ctx, newKey, value)
	}
	q := url.Values{"allowNull": {"true"}}
	return md.send(ctx, http.MethodPut, q, map[string]any{oldKey: nil, newKey: value})
}

// RemoveMetadata deletes one metadata key.
func (md *Metadata) RemoveMetadata(ctx context.Context, key string) error {
	return md.send(ctx, http.MethodDelete, nil, []string{key})
}

func (md *Metadata) send(ctx context.Context, method string, q url.Values, body any) error {
	m := md.model
	_, err := m.call(ctx, rest.Request{Method: method, Path: m.Path() + "/metadata", Query: q, Body: body})
	if err != nil {
		return err
	}
	m.Trigger(EventMetadataChanged, m)
	return nil
}

// QueryMetadata runs a jq query against the metadata and returns every value
// it produces.
func (md *Metadata) QueryMetadata(query string) ([]any, error) {
	return RunJQ(query, md.Meta())
}

// RunJQ compiles query and runs it over input after normalizing input to
// JSON-compatible values.
func RunJQ(query string, input any) ([]any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid jq query %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compiling jq query %q: %w", query, err)
	}
	if input == nil {
		input = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("normalizing jq input: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalizing jq input: %w", err)
	}

	var results []any
	iter := code.Run(normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq query %q: %w", query, err)
		}
		results = append(results, v)
	}
	return results, nil
}
