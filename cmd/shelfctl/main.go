package main

import (
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/shelf"
)

var version = shelf.Version

// stdout is where command output goes; tests replace it.
var stdout io.Writer = os.Stdout

var commands = map[string]func([]string) error{
	"ls":      runList,
	"get":     runGet,
	"whoami":  runWhoami,
	"login":   runLogin,
	"plugins": runPlugins,
	"open":    runOpen,
	"notify":  runNotify,
	"config":  runConfig,
}

func usage() {
	fmt.Fprintf(os.Stderr, `shelfctl - data management client (version %s)

Usage:
  shelfctl <command> [options]

Commands:
  ls         List the folders and items of a folder (--where filters them)
  get        Fetch one resource and print it as JSON (--jq queries it)
  whoami     Show the user the token belongs to
  login      Authenticate and print a session token
  plugins    List client plugins (--enable / --disable change local state)
  open       Start the client and render a route, e.g. folder/<id>
  notify     Stream server notifications until interrupted
  config     Print the effective configuration

Common options:
  --config <file>     YAML configuration file
  --api-root <url>    API root (overrides config and SHELF_API_ROOT)
  --token <token>     Session token (overrides config and SHELF_TOKEN)
  --log-level <lvl>   debug, info, warn or error

Run 'shelfctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
