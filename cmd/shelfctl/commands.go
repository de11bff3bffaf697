package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/shelf/events"
	"github.com/GoCodeAlone/shelf/extend"
	"github.com/GoCodeAlone/shelf/notification"
	"github.com/GoCodeAlone/shelf/resource"
	"github.com/GoCodeAlone/shelf/view"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	g := addGlobalFlags(fs)
	where := fs.String("where", "", "Filter expression over attributes, e.g. 'size > 1024'")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shelfctl ls [options] <folder-id>\n\nList the folders and items of a folder.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("folder id is required")
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	client := newClient(cfg, newLogger(cfg.Log))

	folder := resource.NewFolder(client, map[string]any{resource.IDAttr: fs.Arg(0)})
	if err := folder.Fetch(ctx); err != nil {
		return err
	}
	subfolders := folder.Subfolders()
	if err := subfolders.Fetch(ctx, nil); err != nil {
		return err
	}
	items := folder.Items()
	if err := items.Fetch(ctx, nil); err != nil {
		return err
	}

	data := view.FolderListData{Folder: folder, Folders: subfolders.Models(), Items: items.Models()}
	if *where != "" {
		if data.Folders, err = subfolders.Filter(*where); err != nil {
			return err
		}
		if data.Items, err = items.Filter(*where); err != nil {
			return err
		}
	}
	views, err := view.New(extend.NewRegistry())
	if err != nil {
		return err
	}
	out, err := views.Render(ctx, view.FolderList, data)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	g := addGlobalFlags(fs)
	query := fs.String("jq", "", "jq query applied to the resource")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shelfctl get [options] <resource> <id>\n\nFetch a resource (folder, item, file, user, group, collection) and print it.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return fmt.Errorf("resource and id are required")
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	client := newClient(cfg, newLogger(cfg.Log))

	m := resource.NewModel(client, fs.Arg(0), map[string]any{resource.IDAttr: fs.Arg(1)})
	if err := m.Fetch(ctx); err != nil {
		return err
	}
	if *query == "" {
		return printJSON(m.Attributes())
	}
	results, err := resource.RunJQ(*query, m.Attributes())
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := printJSON(r); err != nil {
			return err
		}
	}
	return nil
}

func runWhoami(args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	user, err := resource.Me(ctx, newClient(cfg, newLogger(cfg.Log)))
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Fprintln(stdout, "anonymous")
		return nil
	}
	fmt.Fprintf(stdout, "%s (%s)", user.Login(), user.ID())
	if user.IsAdmin() {
		fmt.Fprint(stdout, " [admin]")
	}
	fmt.Fprintln(stdout)
	return nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	g := addGlobalFlags(fs)
	username := fs.String("user", "", "Login name")
	password := fs.String("password", "", "Password (default: SHELF_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--user is required")
	}
	if *password == "" {
		*password = os.Getenv("SHELF_PASSWORD")
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	client := newClient(cfg, newLogger(cfg.Log))
	if _, err := resource.Login(ctx, client, *username, *password); err != nil {
		return err
	}
	fmt.Fprintln(stdout, client.Token())
	return nil
}

func runPlugins(args []string) error {
	fs := flag.NewFlagSet("plugins", flag.ExitOnError)
	g := addGlobalFlags(fs)
	enable := fs.String("enable", "", "Re-enable a locally disabled plugin")
	disable := fs.String("disable", "", "Disable a plugin locally")
	asJSON := fs.Bool("json", false, "Print plugin details as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if *enable != "" || *disable != "" {
		return setPluginState(ctx, g, *enable, *disable)
	}

	app, err := startApp(ctx, g)
	if err != nil {
		return err
	}
	defer app.Close()
	if *asJSON {
		infos, err := app.Plugins.Infos(ctx)
		if err != nil {
			return err
		}
		return printJSON(infos)
	}
	out, err := app.Open(ctx, "plugins")
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)
	return nil
}

func setPluginState(ctx context.Context, g *globalFlags, enable, disable string) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Plugins.StatePath == "" {
		return fmt.Errorf("plugins.state_path must be configured to change plugin state")
	}
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Scripts must be registered before their state can change.
	if err := app.LoadScripts(ctx); err != nil {
		return err
	}
	changes := []struct {
		name    string
		enabled bool
	}{{enable, true}, {disable, false}}
	for _, c := range changes {
		if c.name == "" {
			continue
		}
		if err := app.Plugins.SetEnabled(ctx, c.name, c.enabled); err != nil {
			return err
		}
		state := "disabled"
		if c.enabled {
			state = "enabled"
		}
		fmt.Fprintf(stdout, "%s %s\n", c.name, state)
	}
	return nil
}

func runOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shelfctl open [options] <route>\n\nStart the client with its plugins and render a route.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("route is required")
	}
	ctx, cancel := signalContext()
	defer cancel()

	app, err := startApp(ctx, g)
	if err != nil {
		return err
	}
	defer app.Close()
	out, err := app.Navigate(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)
	return nil
}

func runNotify(args []string) error {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	g := addGlobalFlags(fs)
	timeout := fs.Duration("timeout", 0, "Server-side stream timeout per connection")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger(cfg.Log)
	bus := events.New()
	bus.On(notification.EventNotification, func(e events.Event) {
		n, ok := e.Arg(0).(notification.Notification)
		if !ok {
			return
		}
		data, _ := json.Marshal(n.Data)
		fmt.Fprintf(stdout, "%s %s %s\n", n.Time.Format(time.RFC3339), n.Type, data)
	})
	stream := notification.NewStream(newClient(cfg, logger),
		notification.WithTimeout(*timeout), notification.WithLogger(logger))
	if err := stream.Forward(ctx, bus); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Token != "" {
		cfg.Token = "<redacted>"
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
