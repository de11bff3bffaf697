package shelf

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/shelf/resource"
	"github.com/GoCodeAlone/shelf/router"
	"github.com/GoCodeAlone/shelf/view"
)

// Core route patterns.
const (
	RouteFolder       = "folder/{id}"
	RouteItem         = "item/{id}"
	RoutePlugins      = "plugins"
	RoutePluginConfig = "plugins/{name}/config"
)

func (a *App) registerCoreRoutes() error {
	routes := []struct {
		pattern string
		handler router.Handler
	}{
		{RouteFolder, a.folderRoute},
		{RouteItem, a.itemRoute},
		{RoutePlugins, a.pluginsRoute},
		{RoutePluginConfig, a.pluginConfigRoute},
	}
	for _, r := range routes {
		if err := a.Router.Handle(r.pattern, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) folderRoute(ctx context.Context, params router.Params) (string, error) {
	folder := resource.NewFolder(a.Client, map[string]any{resource.IDAttr: params["id"]})
	if err := folder.Fetch(ctx); err != nil {
		return "", err
	}
	folders := folder.Subfolders()
	if err := folders.Fetch(ctx, nil); err != nil {
		return "", err
	}
	items := folder.Items()
	if err := items.Fetch(ctx, nil); err != nil {
		return "", err
	}
	return a.Views.Render(ctx, view.FolderList, view.FolderListData{
		Folder:  folder,
		Folders: folders.Models(),
		Items:   items.Models(),
	})
}

func (a *App) itemRoute(ctx context.Context, params router.Params) (string, error) {
	item := resource.NewItem(a.Client, map[string]any{resource.IDAttr: params["id"]})
	if err := item.Fetch(ctx); err != nil {
		return "", err
	}
	files := item.Files()
	if err := files.Fetch(ctx, nil); err != nil {
		return "", err
	}
	return a.Views.Render(ctx, view.ItemDetail, view.ItemDetailData{Item: item, Files: files.Models()})
}

func (a *App) pluginsRoute(ctx context.Context, _ router.Params) (string, error) {
	infos, err := a.Plugins.Infos(ctx)
	if err != nil {
		return "", err
	}
	rows := make([]view.PluginRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, view.PluginRow{
			Name:        info.Name,
			Version:     info.Version,
			Enabled:     info.Loaded && !info.Disabled,
			ConfigRoute: info.ConfigRoute,
		})
	}
	return a.Views.Render(ctx, view.PluginList, rows)
}

func (a *App) pluginConfigRoute(ctx context.Context, params router.Params) (string, error) {
	name := params["name"]
	route, ok := a.PluginContext.ConfigRoute(name)
	if !ok {
		return "", fmt.Errorf("plugin %q has no config page: %w", name, router.ErrNotFound)
	}
	if route == RoutePluginConfig || route == "plugins/"+name+"/config" {
		return "", fmt.Errorf("plugin %q config route points at itself: %w", name, router.ErrNotFound)
	}
	return a.Router.Dispatch(ctx, route)
}
