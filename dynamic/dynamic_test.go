package dynamic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/shelf/plugin"
	"github.com/GoCodeAlone/shelf/view"
)

// A script that defines every optional function.
const fullScriptSource = `package script

import "strings"

func Name() string { return "shouty" }

func Version() string { return "1.2.0" }

func Dependencies() []string { return []string{"jobs >=1.0.0", "homepage"} }

func Namespace() map[string]interface{} {
	return map[string]interface{}{"greeting": "hi"}
}

func ConfigRoute() string { return "plugins/shouty/config" }

func Decorate(view, rendered string) string {
	if view != "greeting" {
		return rendered
	}
	return strings.ToUpper(rendered) + "!"
}
`

const minimalScriptSource = `package script

func Decorate(view, rendered string) string { return rendered }
`

const panickyScriptSource = `package script

func Decorate(view, rendered string) string { panic("boom") }
`

const slowScriptSource = `package script

import "time"

func Decorate(view, rendered string) string {
	time.Sleep(2 * time.Second)
	return rendered
}
`

// newViews returns a registry-backed view set with a "greeting" view that
// renders "hello".
func newViews(t *testing.T, pctx *plugin.Context) *view.Views {
	t.Helper()
	vs, err := view.New(pctx.Extensions)
	if err != nil {
		t.Fatalf("view.New: %v", err)
	}
	err = vs.Register("greeting", func(context.Context, *view.View) (string, error) {
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return vs
}

func TestValidateSource(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{"allowed", fullScriptSource, ""},
		{"blocked import", "package script\n\nimport \"os/exec\"\n", `import "os/exec" is not allowed`},
		{"unlisted import", "package script\n\nimport \"database/sql\"\n", `import "database/sql" is not allowed`},
		{"wrong package", "package main\n", `package must be "script"`},
		{"syntax error", "package script\n\nimport (", "syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSource("x.go", tt.source)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBlockedPackagesWinOverAllowList(t *testing.T) {
	t.Parallel()
	l := NewLoader(WithAllowedPackages(map[string]bool{"os": true, "fmt": true}))
	_, err := l.LoadSource("bad", "package script\n\nimport \"os\"\n\nfunc Name() string { return os.Args[0] }\n")
	if err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("expected blocked import error, got %v", err)
	}
}

func TestScriptMetadata(t *testing.T) {
	t.Parallel()
	s, err := NewLoader().LoadSource("full", fullScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if s.Name() != "shouty" || s.Version() != "1.2.0" {
		t.Errorf("Name/Version = %q/%q", s.Name(), s.Version())
	}
	want := []plugin.Dependency{{Name: "jobs", Constraint: ">=1.0.0"}, {Name: "homepage"}}
	if got := s.Dependencies(); !reflect.DeepEqual(got, want) {
		t.Errorf("Dependencies = %+v, want %+v", got, want)
	}
	if !s.Decorates() {
		t.Error("expected Decorate to be bound")
	}
}

func TestScriptDefaults(t *testing.T) {
	t.Parallel()
	s, err := NewLoader().LoadSource("minimal", minimalScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if s.Name() != "minimal" {
		t.Errorf("Name = %q, want id fallback", s.Name())
	}
	if s.Version() != "0.0.0" {
		t.Errorf("Version = %q", s.Version())
	}
	if len(s.Dependencies()) != 0 {
		t.Errorf("Dependencies = %v", s.Dependencies())
	}
}

func TestScriptInitRegistersAndDecorates(t *testing.T) {
	t.Parallel()
	pctx := plugin.NewContext(plugin.ContextConfig{})
	vs := newViews(t, pctx)

	s, err := NewLoader().LoadSource("full", fullScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if err := s.Init(context.Background(), pctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ns, ok := pctx.Namespace("shouty")
	if !ok || ns["greeting"] != "hi" {
		t.Errorf("namespace = %v, %v", ns, ok)
	}
	if route, _ := pctx.ConfigRoute("shouty"); route != "plugins/shouty/config" {
		t.Errorf("ConfigRoute = %q", route)
	}

	out, err := vs.Render(context.Background(), "greeting", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "HELLO!" {
		t.Errorf("rendered %q, want HELLO!", out)
	}
}

func TestDecoratePanicBecomesError(t *testing.T) {
	t.Parallel()
	pctx := plugin.NewContext(plugin.ContextConfig{})
	vs := newViews(t, pctx)

	s, err := NewLoader().LoadSource("panicky", panickyScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if err := s.Init(context.Background(), pctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err = vs.Render(context.Background(), "greeting", nil)
	if err == nil || !strings.Contains(err.Error(), "panic in Decorate") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestDecorateTimeout(t *testing.T) {
	t.Parallel()
	pctx := plugin.NewContext(plugin.ContextConfig{})
	vs := newViews(t, pctx)

	l := NewLoader(WithLimits(Limits{MaxDecorateTime: 50 * time.Millisecond}))
	s, err := l.LoadSource("slow", slowScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if err := s.Init(context.Background(), pctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err = vs.Render(context.Background(), "greeting", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestDecorateOutputLimit(t *testing.T) {
	t.Parallel()
	pctx := plugin.NewContext(plugin.ContextConfig{})
	vs := newViews(t, pctx)

	l := NewLoader(WithLimits(Limits{MaxOutputSize: 3}))
	s, err := l.LoadSource("full", fullScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if err := s.Init(context.Background(), pctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err = vs.Render(context.Background(), "greeting", nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected output limit error, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_minimal.go"), minimalScriptSource)
	writeFile(t, filepath.Join(dir, "ignored_test.go"), "package script\n")
	writeFile(t, filepath.Join(dir, "README.md"), "not a script")

	pluginDir := filepath.Join(dir, "b-thumbs")
	if err := os.Mkdir(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(pluginDir, ManifestFile), "name: thumbs\nversion: 2.0.0\ndependencies:\n  - name: jobs\nsource:\n  - main.go\n")
	writeFile(t, filepath.Join(pluginDir, "main.go"), fullScriptSource)

	scripts, err := NewLoader(WithConcurrency(2)).LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("loaded %d scripts, want 2", len(scripts))
	}
	if scripts[0].Name() != "a_minimal" {
		t.Errorf("scripts[0] = %q", scripts[0].Name())
	}
	thumbs := scripts[1]
	if thumbs.Name() != "thumbs" || thumbs.Version() != "2.0.0" {
		t.Errorf("manifest should win: %q %q", thumbs.Name(), thumbs.Version())
	}
	if deps := thumbs.Dependencies(); len(deps) != 1 || deps[0].Name != "jobs" {
		t.Errorf("Dependencies = %+v", deps)
	}
	if thumbs.Path() != pluginDir {
		t.Errorf("Path = %q", thumbs.Path())
	}
}

func TestLoadDirFailsOnBadScript(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.go"), minimalScriptSource)
	writeFile(t, filepath.Join(dir, "bad.go"), "package script\n\nimport \"os/exec\"\n")

	_, err := NewLoader().LoadDir(context.Background(), dir)
	if err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScriptsLoadThroughManager(t *testing.T) {
	t.Parallel()
	l := NewLoader()
	jobs, err := l.LoadSource("jobs", "package script\n\nfunc Version() string { return \"1.5.0\" }\n")
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	home, err := l.LoadSource("homepage", minimalScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	full, err := l.LoadSource("full", fullScriptSource)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}

	m := plugin.NewManager()
	for _, s := range []*Script{full, jobs, home} {
		if err := m.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	pctx := plugin.NewContext(plugin.ContextConfig{})
	newViews(t, pctx)
	loaded, err := m.Load(context.Background(), pctx, []string{"shouty"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"jobs", "homepage", "shouty"}
	if !reflect.DeepEqual(loaded, want) {
		t.Errorf("loaded = %v, want %v", loaded, want)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
