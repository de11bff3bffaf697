package view

import (
	"fmt"
	"text/template"

	"github.com/GoCodeAlone/shelf/resource"
)

// FolderListData is the data of the folder.list view.
type FolderListData struct {
	Folder  *resource.Folder
	Folders []*resource.Folder
	Items   []*resource.Item
}

// ItemDetailData is the data of the item.detail view.
type ItemDetailData struct {
	Item  *resource.Item
	Files []*resource.File
}

// PluginRow is one line of the plugin.list view.
type PluginRow struct {
	Name        string
	Version     string
	Enabled     bool
	ConfigRoute string
}

var coreSources = map[string]string{
	FolderList: `{{if .Folder}}{{.Folder.Name}}/
{{end}}{{range .Folders}}  {{pad 40 (printf "%s/" .Name)}} {{.ID}}
{{end}}{{range .Items}}  {{pad 40 .Name}} {{.ID}}
{{end}}{{if and (not .Folders) (not .Items)}}  (empty)
{{end}}`,

	ItemDetail: `{{.Item.Name}} ({{.Item.ID}})
{{with .Item.Get "description"}}{{.}}
{{end}}{{with .Item.Meta}}metadata:
{{range $k, $v := .}}  {{$k}}: {{$v}}
{{end}}{{end}}files:
{{range .Files}}  {{pad 40 .Name}} {{size (.Get "size")}}
{{else}}  (none)
{{end}}`,

	UserList: `{{range .}}{{pad 20 .Login}} {{.Name}}{{if .IsAdmin}} [admin]{{end}}
{{end}}`,

	PluginList: `{{range .}}{{pad 24 .Name}} {{pad 10 .Version}} {{if .Enabled}}enabled{{else}}disabled{{end}}{{with .ConfigRoute}}  config: {{.}}{{end}}
{{end}}`,

	Breadcrumb: `{{range $i, $e := .}}{{if $i}} / {{end}}{{index $e.Object "name"}}{{end}}`,
}

func coreTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(coreSources))
	for name, src := range coreSources {
		t, err := template.New(name).Funcs(Funcs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
