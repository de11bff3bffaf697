package resource

import (
	"context"
	"net/http"
	"net/url"

	"github.com/GoCodeAlone/shelf/rest"
)

// Page limits of the typed collections.
const (
	FolderPageLimit = 100
	ItemPageLimit   = 100
	FilePageLimit   = 1000
)

// PathEntry is one ancestor returned by a rootpath lookup.
type PathEntry struct {
	Type   string         `json:"type"`
	Object map[string]any `json:"object"`
}

// Folder is a container of folders and items.
type Folder struct {
	*Model
	*AccessControl
	*Metadata
}

// NewFolder creates a folder model.
func NewFolder(client *rest.Client, attrs map[string]any) *Folder {
	m := NewModel(client, "folder", attrs)
	return &Folder{Model: m, AccessControl: NewAccessControl(m), Metadata: NewMetadata(m)}
}

// Name returns the folder name.
func (f *Folder) Name() string { return f.GetString("name") }

// ParentID returns the id of the parent folder, collection or user.
func (f *Folder) ParentID() string { return f.GetString("parentId") }

// ParentType returns "folder", "collection" or "user".
func (f *Folder) ParentType() string { return f.GetString("parentCollection") }

// RemoveContents deletes every child folder and item, leaving the folder.
func (f *Folder) RemoveContents(ctx context.Context) error {
	if f.ID() == "" {
		return ErrNoID
	}
	if err := f.client.Delete(ctx, f.Path()+"/contents", nil, nil); err != nil {
		return f.fail(err)
	}
	f.Trigger("g:contentsRemoved", f)
	return nil
}

// RootPath returns the ancestors of the folder from the root down.
func (f *Folder) RootPath(ctx context.Context) ([]PathEntry, error) {
	return rootPath(ctx, f.Model)
}

// Subfolders returns a collection of the folder's child folders.
func (f *Folder) Subfolders() *Collection[*Folder] {
	c := NewFolders(f.client)
	c.params = url.Values{"parentType": {"folder"}, "parentId": {f.ID()}}
	return c
}

// Items returns a collection of the folder's items.
func (f *Folder) Items() *Collection[*Item] {
	c := NewItems(f.client)
	c.params = url.Values{"folderId": {f.ID()}}
	return c
}

func rootPath(ctx context.Context, m *Model) ([]PathEntry, error) {
	if m.ID() == "" {
		return nil, ErrNoID
	}
	var path []PathEntry
	if err := m.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: m.Path() + "/rootpath"}, &path); err != nil {
		return nil, m.fail(err)
	}
	return path, nil
}

// NewFolders creates a folder collection.
func NewFolders(client *rest.Client) *Collection[*Folder] {
	return NewCollection(client, func(c *rest.Client) *Folder { return NewFolder(c, nil) }, CollectionConfig{
		Resource:  "folder",
		PageLimit: FolderPageLimit,
	})
}
