package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"testing"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/rest"
)

// itemServer serves a folder of total items from GET /api/v1/item honoring
// limit and offset, and records every query it receives.
type itemServer struct {
	total int

	mu      sync.Mutex
	queries []url.Values
}

func (s *itemServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	var page []map[string]any
	for i := offset; i < s.total && i < offset+limit; i++ {
		page = append(page, map[string]any{IDAttr: fmt.Sprintf("item-%03d", i), "name": fmt.Sprintf("Item %d", i), "size": i})
	}
	if page == nil {
		page = []map[string]any{}
	}
	writeJSON(w, page)
}

func (s *itemServer) last() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

func newItemServer(t *testing.T, total int) (*itemServer, *rest.Client) {
	t.Helper()
	s := &itemServer{total: total}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/item", s.handle)
	mux.HandleFunc("GET /api/v1/file", s.handle)
	mux.HandleFunc("GET /api/v1/item/{id}/files", s.handle)
	return s, newTestClient(t, mux)
}

func TestItemCollectionAppendPaging(t *testing.T) {
	_, client := newItemServer(t, 150)
	ctx := context.Background()

	items := NewItems(client)
	items.cfg.Append = true
	if items.PageLimit() != 100 {
		t.Fatalf("item page limit = %d, want 100", items.PageLimit())
	}

	if err := items.Fetch(ctx, url.Values{"folderId": {"f1"}}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if items.Len() != 100 || !items.HasNextPage() {
		t.Fatalf("after first page: len=%d hasNext=%v", items.Len(), items.HasNextPage())
	}
	if err := items.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage: %v", err)
	}
	if items.Len() != 150 {
		t.Errorf("expected 150 items after two pages, got %d", items.Len())
	}
	if items.HasNextPage() {
		t.Error("HasNextPage should be false after the 50-item page")
	}
	models := items.Models()
	if models[0].ID() != "item-000" || models[149].ID() != "item-149" {
		t.Errorf("unexpected order: first=%s last=%s", models[0].ID(), models[149].ID())
	}

	// No next page: no request, no change.
	if err := items.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage at end: %v", err)
	}
	if items.Len() != 150 {
		t.Errorf("no-op next page changed the collection to %d", items.Len())
	}
}

func TestHasNextPageIffFullPage(t *testing.T) {
	cases := []struct {
		total int
		want  bool
	}{
		{total: 0, want: false},
		{total: 49, want: false},
		{total: 50, want: true},
		{total: 51, want: true},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.total), func(t *testing.T) {
			_, client := newItemServer(t, tc.total)
			c := NewCollection(client, func(c *rest.Client) *Item { return NewItem(c, nil) }, CollectionConfig{Resource: "item"})
			if c.PageLimit() != DefaultPageLimit {
				t.Fatalf("default page limit = %d", c.PageLimit())
			}
			if err := c.Fetch(context.Background(), nil); err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if got := c.HasNextPage(); got != tc.want {
				t.Errorf("HasNextPage() = %v, want %v (page had %d items)", got, tc.want, c.Len())
			}
		})
	}
}

func TestNextThenPreviousRestoresOffset(t *testing.T) {
	srv, client := newItemServer(t, 250)
	ctx := context.Background()

	items := NewItems(client)
	if err := items.Fetch(ctx, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := items.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage: %v", err)
	}
	start := items.Offset()
	if start != 100 {
		t.Fatalf("offset after next = %d, want 100", start)
	}

	if err := items.FetchNextPage(ctx); err != nil {
		t.Fatalf("FetchNextPage: %v", err)
	}
	if err := items.FetchPreviousPage(ctx); err != nil {
		t.Fatalf("FetchPreviousPage: %v", err)
	}
	if items.Offset() != start {
		t.Errorf("offset = %d, want %d", items.Offset(), start)
	}
	if got := srv.last().Get("offset"); got != "100" {
		t.Errorf("last request offset = %s", got)
	}
	if items.Models()[0].ID() != "item-100" {
		t.Errorf("previous page should replace models, first = %s", items.Models()[0].ID())
	}
}

func TestPreviousPageClampsAtFirstPage(t *testing.T) {
	srv, client := newItemServer(t, 10)
	ctx := context.Background()

	items := NewItems(client)
	if err := items.Fetch(ctx, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := items.FetchPreviousPage(ctx); err != nil {
		t.Fatalf("FetchPreviousPage: %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.queries) != 1 {
		t.Errorf("previous page on page 0 should not request, got %d requests", len(srv.queries))
	}
	if items.HasPreviousPage() {
		t.Error("HasPreviousPage on page 0")
	}
}

func TestCollectionQueryParameters(t *testing.T) {
	srv, client := newItemServer(t, 3)
	ctx := context.Background()

	files := NewFiles(client)
	if err := files.Fetch(ctx, url.Values{"text": {"scan"}}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	q := srv.last()
	if q.Get("limit") != "1000" || q.Get("offset") != "0" {
		t.Errorf("paging params = %v", q)
	}
	if q.Get("sort") != "name" || q.Get("sortdir") != "1" {
		t.Errorf("sort params = %v", q)
	}
	if q.Get("text") != "scan" {
		t.Errorf("custom param lost: %v", q)
	}
}

func TestSecondarySortIsJSONArray(t *testing.T) {
	var mu sync.Mutex
	var got url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/user", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.URL.Query()
		mu.Unlock()
		writeJSON(w, []map[string]any{})
	})
	client := newTestClient(t, mux)

	users := NewUsers(client)
	if err := users.Fetch(context.Background(), nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	var spec [][]any
	if err := json.Unmarshal([]byte(got.Get("sort")), &spec); err != nil {
		t.Fatalf("sort should be JSON: %v (%q)", err, got.Get("sort"))
	}
	if len(spec) != 2 || spec[0][0] != "lastName" || spec[1][0] != "firstName" || spec[0][1] != float64(1) {
		t.Errorf("sort spec = %v", spec)
	}
	if got.Has("sortdir") {
		t.Error("sortdir must not be sent with a compound sort")
	}
}

func TestItemFilesUsesAltURL(t *testing.T) {
	srv, client := newItemServer(t, 2)
	it := NewItem(client, map[string]any{IDAttr: "i1"})
	files := it.Files()
	if err := files.Fetch(context.Background(), nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if files.Len() != 2 {
		t.Errorf("files = %d", files.Len())
	}
	if srv.last().Get("limit") != "1000" {
		t.Errorf("file collection page limit not used: %v", srv.last())
	}
}

func TestCollectionEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/folder", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Invalid parentType.","type":"validation","field":"parentType"}`)
	})
	mux.HandleFunc("GET /api/v1/group", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{{IDAttr: "g1", "name": "lab"}})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	folders := NewFolders(client)
	var failure error
	folders.On(EventError, func(e events.Event) { failure, _ = e.Arg(1).(error) })
	err := folders.Fetch(ctx, url.Values{"parentType": {"nope"}})
	if err == nil || failure != err {
		t.Fatalf("expected g:error with the returned error, got %v / %v", err, failure)
	}
	if re, _ := rest.AsRequestError(err); re == nil || re.Field() != "parentType" {
		t.Errorf("expected validation error on parentType, got %v", err)
	}

	groups := NewGroups(client)
	changed := 0
	groups.On(EventChanged, func(events.Event) { changed++ })
	if err := groups.Fetch(ctx, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected one g:changed, got %d", changed)
	}
	if groups.Models()[0].Name() != "lab" {
		t.Errorf("group model not loaded: %v", groups.Models()[0].Attributes())
	}
}

func TestSupersededFetchIsDropped(t *testing.T) {
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/collection", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "slow" {
			close(slowStarted)
			<-slowRelease
			writeJSON(w, []map[string]any{{IDAttr: "stale"}})
			return
		}
		writeJSON(w, []map[string]any{{IDAttr: "fresh"}})
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	cols := NewCollections(client)
	done := make(chan error, 1)
	go func() { done <- cols.Fetch(ctx, url.Values{"text": {"slow"}}) }()
	<-slowStarted

	if err := cols.Fetch(ctx, url.Values{"text": {"fast"}}); err != nil {
		t.Fatalf("fast Fetch: %v", err)
	}
	close(slowRelease)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("slow fetch: expected ErrSuperseded, got %v", err)
	}
	if models := cols.Models(); len(models) != 1 || models[0].ID() != "fresh" {
		t.Errorf("superseded response replaced the collection: %v", models)
	}
}

func TestCollectionFilter(t *testing.T) {
	_, client := newItemServer(t, 20)
	items := NewItems(client)
	if err := items.Fetch(context.Background(), nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	big, err := items.Filter("size >= 15")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(big) != 5 {
		t.Errorf("expected 5 items with size >= 15, got %d", len(big))
	}

	named, err := items.Filter(`name == "Item 3"`)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(named) != 1 || named[0].ID() != "item-003" {
		t.Errorf("name filter = %v", named)
	}

	if _, err := items.Filter("size >"); err == nil {
		t.Error("expected a compile error")
	}
}

func TestApiKeyCollectionDecodesScope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/api_key", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{IDAttr: "k1", "scope": `["a"]`},
			{IDAttr: "k2", "scope": []any{"b"}},
			{IDAttr: "k3"},
		})
	})
	client := newTestClient(t, mux)

	keys := NewApiKeys(client)
	if err := keys.Fetch(context.Background(), nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	m := keys.Models()
	if !reflect.DeepEqual(m[0].Scope(), []any{"a"}) || !reflect.DeepEqual(m[1].Scope(), []any{"b"}) || m[2].Scope() != nil {
		t.Errorf("scopes = %v %v %v", m[0].Scope(), m[1].Scope(), m[2].Scope())
	}
}
