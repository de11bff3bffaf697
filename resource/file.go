package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/GoCodeAlone/shelf/rest"
)

// DefaultChunkSize is the upload chunk size used when none is given.
const DefaultChunkSize = 64 << 20

// Upload events.
const (
	EventUploadChunk    = "g:upload.chunkSent"
	EventUploadComplete = "g:upload.complete"
)

// File is a stored file belonging to an item.
type File struct {
	*Model
}

// NewFile creates a file model.
func NewFile(client *rest.Client, attrs map[string]any) *File {
	return &File{Model: NewModel(client, "file", attrs)}
}

// Name returns the file name.
func (f *File) Name() string { return f.GetString("name") }

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	switch v := f.Get("size").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// DownloadURL returns the download URL resolved against the API root at the
// time of the call.
func (f *File) DownloadURL() string {
	return f.client.URL(f.Path() + "/download")
}

// UploadParams describes a new upload.
type UploadParams struct {
	ParentType string // "item" or "folder"
	ParentID   string
	Name       string
	Size       int64
	MimeType   string
	ChunkSize  int
}

// Upload streams r to the server in chunks. The first request creates the
// upload; each chunk is posted with its offset. The final response is the
// stored file, loaded into f.
func (f *File) Upload(ctx context.Context, p UploadParams, r io.Reader) error {
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	q := url.Values{
		"parentType": {p.ParentType},
		"parentId":   {p.ParentID},
		"name":       {p.Name},
		"size":       {strconv.FormatInt(p.Size, 10)},
	}
	if p.MimeType != "" {
		q.Set("mimeType", p.MimeType)
	}
	var upload map[string]any
	if err := f.client.Do(ctx, rest.Request{Method: http.MethodPost, Path: "file", Query: q}, &upload); err != nil {
		return f.fail(err)
	}
	if p.Size == 0 {
		return f.completeUpload(upload)
	}
	uploadID, _ := upload[IDAttr].(string)
	if uploadID == "" {
		return fmt.Errorf("upload of %s: server returned no upload id", p.Name)
	}

	buf := make([]byte, p.ChunkSize)
	var offset int64
	var last map[string]any
	for offset < p.Size {
		n, err := io.ReadFull(r, buf)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("upload of %s at offset %d: %w", p.Name, offset, err)
		}
		last = nil
		req := rest.Request{
			Method: http.MethodPost,
			Path:   "file/chunk",
			Query:  url.Values{"uploadId": {uploadID}, "offset": {strconv.FormatInt(offset, 10)}},
			Body:   buf[:n],
		}
		if err := f.client.Do(ctx, req, &last); err != nil {
			return f.fail(err)
		}
		offset += int64(n)
		f.Trigger(EventUploadChunk, f, offset, p.Size)
	}
	return f.completeUpload(last)
}

func (f *File) completeUpload(resp map[string]any) error {
	if resp != nil {
		if err := f.load(resp); err != nil {
			return err
		}
	}
	f.Trigger(EventUploadComplete, f)
	return nil
}

// NewFiles creates a file collection.
func NewFiles(client *rest.Client) *Collection[*File] {
	return NewCollection(client, func(c *rest.Client) *File { return NewFile(c, nil) }, CollectionConfig{
		Resource:  "file",
		PageLimit: FilePageLimit,
	})
}
