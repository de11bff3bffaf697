package resource

import (
	"github.com/GoCodeAlone/shelf/rest"
)

// CollectionModel is a top-level "collection" resource, the root of a folder
// hierarchy. It is distinct from Collection, the paginated list type.
type CollectionModel struct {
	*Model
	*AccessControl
	*Metadata
}

// NewCollectionModel creates a collection resource model.
func NewCollectionModel(client *rest.Client, attrs map[string]any) *CollectionModel {
	m := NewModel(client, "collection", attrs)
	return &CollectionModel{Model: m, AccessControl: NewAccessControl(m), Metadata: NewMetadata(m)}
}

// Name returns the collection name.
func (c *CollectionModel) Name() string { return c.GetString("name") }

// Folders returns a collection of the top-level folders.
func (c *CollectionModel) Folders() *Collection[*Folder] {
	f := NewFolders(c.client)
	f.params = map[string][]string{"parentType": {"collection"}, "parentId": {c.ID()}}
	return f
}

// NewCollections creates a list of collection resources.
func NewCollections(client *rest.Client) *Collection[*CollectionModel] {
	return NewCollection(client, func(c *rest.Client) *CollectionModel { return NewCollectionModel(c, nil) }, CollectionConfig{
		Resource: "collection",
	})
}
