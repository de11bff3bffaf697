package resource

import (
	"context"
	"net/http"
	"net/url"

	"github.com/GoCodeAlone/shelf/rest"
)

// Item is a leaf of the folder hierarchy holding files.
type Item struct {
	*Model
	*Metadata
}

// NewItem creates an item model.
func NewItem(client *rest.Client, attrs map[string]any) *Item {
	m := NewModel(client, "item", attrs)
	return &Item{Model: m, Metadata: NewMetadata(m)}
}

// Name returns the item name.
func (i *Item) Name() string { return i.GetString("name") }

// FolderID returns the id of the containing folder.
func (i *Item) FolderID() string { return i.GetString("folderId") }

// Files returns a collection of the item's files.
func (i *Item) Files() *Collection[*File] {
	c := NewFiles(i.client)
	c.cfg.AltURL = i.Path() + "/files"
	return c
}

// Copy copies the item into folderID (its own folder when empty) and
// returns the new item.
func (i *Item) Copy(ctx context.Context, folderID string) (*Item, error) {
	if i.ID() == "" {
		return nil, ErrNoID
	}
	var q url.Values
	if folderID != "" {
		q = url.Values{"folderId": {folderID}}
	}
	var resp map[string]any
	if err := i.client.Do(ctx, rest.Request{Method: http.MethodPost, Path: i.Path() + "/copy", Query: q}, &resp); err != nil {
		return nil, i.fail(err)
	}
	cp := NewItem(i.client, nil)
	if err := cp.load(resp); err != nil {
		return nil, err
	}
	return cp, nil
}

// RootPath returns the ancestors of the item from the root down.
func (i *Item) RootPath(ctx context.Context) ([]PathEntry, error) {
	return rootPath(ctx, i.Model)
}

// NewItems creates an item collection.
func NewItems(client *rest.Client) *Collection[*Item] {
	return NewCollection(client, func(c *rest.Client) *Item { return NewItem(c, nil) }, CollectionConfig{
		Resource:  "item",
		PageLimit: ItemPageLimit,
	})
}
