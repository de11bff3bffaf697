package view

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GoCodeAlone/shelf/extend"
	"github.com/GoCodeAlone/shelf/resource"
)

func newViews(t *testing.T) (*Views, *extend.Registry) {
	t.Helper()
	reg := extend.NewRegistry()
	vs, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return vs, reg
}

func TestCoreViewsDeclarePoints(t *testing.T) {
	vs, reg := newViews(t)
	for _, name := range []string{FolderList, ItemDetail, UserList, PluginList, Breadcrumb} {
		if !reg.Has(RenderPoint(name)) {
			t.Errorf("missing extension point %s", RenderPoint(name))
		}
	}
	if got := len(vs.Names()); got != 5 {
		t.Errorf("expected 5 core views, got %d", got)
	}
}

func TestWrapRenderCallsDecoratorAndBaseOnce(t *testing.T) {
	reg := extend.NewRegistry()
	vs := &Views{ext: reg, bases: map[string]RenderFunc{}}

	baseCalls := 0
	if err := vs.Register("widget", func(context.Context, *View) (string, error) {
		baseCalls++
		return "base", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	decoratorCalls := 0
	err := extend.Wrap(reg, RenderPoint("widget"), func(next RenderFunc) RenderFunc {
		return func(ctx context.Context, v *View) (string, error) {
			decoratorCalls++
			out, err := next(ctx, v)
			return "[" + out + "]", err
		}
	})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	out, err := vs.Render(context.Background(), "widget", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "[base]" {
		t.Errorf("output = %q", out)
	}
	if decoratorCalls != 1 || baseCalls != 1 {
		t.Errorf("decorator=%d base=%d, want 1 and 1", decoratorCalls, baseCalls)
	}
}

func TestViewBuiltBeforeWrapKeepsOriginalChain(t *testing.T) {
	vs, reg := newViews(t)
	early, err := vs.Build(Breadcrumb, []resource.PathEntry{{Type: "collection", Object: map[string]any{"name": "Data"}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_ = extend.Wrap(reg, RenderPoint(Breadcrumb), func(next RenderFunc) RenderFunc {
		return func(ctx context.Context, v *View) (string, error) { return "wrapped", nil }
	})

	out, err := early.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Data" {
		t.Errorf("early view output = %q, want Data", out)
	}
	late, _ := vs.Build(Breadcrumb, nil)
	if out, _ := late.Render(context.Background()); out != "wrapped" {
		t.Errorf("late view output = %q, want wrapped", out)
	}
}

func TestFolderListTemplate(t *testing.T) {
	vs, _ := newViews(t)
	data := FolderListData{
		Folder:  resource.NewFolder(nil, map[string]any{"_id": "f0", "name": "Projects"}),
		Folders: []*resource.Folder{resource.NewFolder(nil, map[string]any{"_id": "f1", "name": "raw"})},
		Items:   []*resource.Item{resource.NewItem(nil, map[string]any{"_id": "i1", "name": "scan.tif"})},
	}
	out, err := vs.Render(context.Background(), FolderList, data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"Projects/", "raw/", "f1", "scan.tif", "i1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	empty, _ := vs.Render(context.Background(), FolderList, FolderListData{})
	if !strings.Contains(empty, "(empty)") {
		t.Errorf("empty folder output = %q", empty)
	}
}

func TestItemDetailTemplate(t *testing.T) {
	vs, _ := newViews(t)
	item := resource.NewItem(nil, map[string]any{
		"_id":  "i1",
		"name": "scan.tif",
		"meta": map[string]any{"species": "mouse"},
	})
	files := []*resource.File{resource.NewFile(nil, map[string]any{"_id": "x", "name": "scan.tif", "size": float64(2500000)})}
	out, err := vs.Render(context.Background(), ItemDetail, ItemDetailData{Item: item, Files: files})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"scan.tif (i1)", "species: mouse", "2.5 MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestUserAndPluginListTemplates(t *testing.T) {
	vs, _ := newViews(t)
	users := []*resource.User{
		resource.NewUser(nil, map[string]any{"login": "ada", "firstName": "Ada", "lastName": "Lovelace", "admin": true}),
	}
	out, err := vs.Render(context.Background(), UserList, users)
	if err != nil {
		t.Fatalf("Render users: %v", err)
	}
	if !strings.Contains(out, "Ada Lovelace [admin]") {
		t.Errorf("user list = %q", out)
	}

	rows := []PluginRow{{Name: "quota", Version: "v1.2.0", Enabled: true, ConfigRoute: "plugins/quota/config"}, {Name: "jobs", Version: "v0.1.0"}}
	out, err = vs.Render(context.Background(), PluginList, rows)
	if err != nil {
		t.Fatalf("Render plugins: %v", err)
	}
	if !strings.Contains(out, "enabled  config: plugins/quota/config") || !strings.Contains(out, "disabled") {
		t.Errorf("plugin list = %q", out)
	}
}

func TestBuildUnknownView(t *testing.T) {
	vs, _ := newViews(t)
	if _, err := vs.Build("nope", nil); err == nil {
		t.Error("expected an error for an unknown view")
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	vs, _ := newViews(t)
	err := vs.Register(FolderList, func(context.Context, *View) (string, error) { return "", nil })
	if !errors.Is(err, extend.ErrDuplicatePoint) {
		t.Errorf("expected ErrDuplicatePoint, got %v", err)
	}
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	vs, _ := newViews(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := vs.Render(ctx, UserList, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[any]string{
		512:          "512 B",
		float64(1e3): "1.0 kB",
		int64(3e9):   "3.0 GB",
		"x":          "-",
	}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%v) = %q, want %q", in, got, want)
		}
	}
}
