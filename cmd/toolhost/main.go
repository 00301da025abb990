// Package main is the entry point for the toolhost plugin host.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dshills/toolhost/internal/config"
	"github.com/dshills/toolhost/internal/logging"
	"github.com/dshills/toolhost/internal/plugin"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "list":
		return cmdList(args[1:])
	case "info":
		return cmdInfo(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "create":
		return cmdCreate(args[1:])
	case "call":
		return cmdCall(args[1:])
	case "version", "-v", "--version":
		fmt.Printf("toolhost %s (%s)\n", version, commit)
		return 0
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `toolhost - sandboxed Lua plugin host

Usage:
  toolhost run      [-config FILE]              run the host daemon
  toolhost list     [-config FILE]              list known plugins
  toolhost info     [-config FILE] ID           show one plugin's details
  toolhost validate PATH                        validate a plugin manifest
  toolhost create   [-config FILE] ID           scaffold a new plugin
  toolhost call     [-config FILE] TOOL [JSON]  load, enable, and call one tool
  toolhost version                              print version
`)
}

// loadConfig reads the host config, defaulting to toolhost.toml in the
// working directory.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultFileName
	}
	return config.Load(path)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sys, err := plugin.NewSystem(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sys.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	<-ctx.Done()
	if err := sys.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		return 1
	}
	return 0
}

func cmdList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sys, err := plugin.NewSystem(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	list := sys.Manager().List()
	if len(list) == 0 {
		fmt.Println("no plugins found")
		return 0
	}
	fmt.Printf("%-20s %-10s %-10s %s\n", "ID", "VERSION", "STATE", "NAME")
	for _, s := range list {
		line := fmt.Sprintf("%-20s %-10s %-10s %s", s.ID, s.Version, s.State, s.Name)
		if s.Error != "" {
			line += "  [" + s.Error + "]"
		}
		fmt.Println(line)
	}
	return 0
}

func cmdInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: toolhost info [-config FILE] ID")
		return 2
	}
	id := fs.Arg(0)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	loader := plugin.NewLoader(cfg.PluginDir, logging.Null)
	info, err := loader.Find(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if info.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", info.Err)
		return 1
	}

	out := map[string]any{
		"path":     info.Path,
		"manifest": info.Manifest,
	}
	if reg, err := plugin.OpenRegistry(cfg.Registry()); err == nil {
		if entry, ok := reg.Get(id); ok {
			out["history"] = entry
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: toolhost validate PATH")
		return 2
	}
	path := fs.Arg(0)

	var m *plugin.Manifest
	var err error
	fi, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		err = statErr
	case fi.IsDir():
		m, err = plugin.LoadManifestFromDir(path)
	case strings.HasSuffix(path, ".lua"):
		m, err = plugin.ParseHeader(path)
	default:
		m, err = plugin.LoadManifest(path)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return 1
	}
	fmt.Printf("valid: %s %s (%s)\n", m.ID, m.Version, m.Name)
	return 0
}

func cmdCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: toolhost create [-config FILE] ID")
		return 2
	}
	id := fs.Arg(0)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	dir := filepath.Join(cfg.PluginDir, id)
	if _, err := os.Stat(dir); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", dir)
		return 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	manifest := fmt.Sprintf(`{
  "id": %q,
  "name": %q,
  "version": "0.1.0",
  "author": "",
  "description": "",
  "main": "init.lua",
  "permissions": ["tools:register"]
}
`, id, id)
	script := fmt.Sprintf(`-- %s plugin

local host = require("host")

function on_load(ctx)
	host.log.info("%s loaded")
end

function on_enable() end
function on_disable() end
function on_unload() end

function tools()
	return {
		{
			name = "hello",
			description = "says hello",
			params = {
				required = {},
				properties = {},
			},
			execute = function(p)
				return "hello from %s"
			end,
		},
	}
end
`, id, id, id)

	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifest), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte(script), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("created %s\n", dir)
	return 0
}

func cmdCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: toolhost call [-config FILE] PLUGIN.TOOL [JSON]")
		return 2
	}
	qualified := fs.Arg(0)

	pluginID, _, ok := splitQualified(qualified)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: tool name must be PLUGIN.TOOL, got %q\n", qualified)
		return 2
	}

	params := map[string]any{}
	if fs.NArg() > 1 {
		if err := json.Unmarshal([]byte(fs.Arg(1)), &params); err != nil {
			fmt.Fprintf(os.Stderr, "Error: parsing params: %v\n", err)
			return 2
		}
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	sys, err := plugin.NewSystem(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := sys.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = sys.Stop(context.Background()) }()

	mgr := sys.Manager()
	if err := mgr.Load(ctx, pluginID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := mgr.Enable(ctx, pluginID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out, err := mgr.ExecuteTool(ctx, qualified, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func splitQualified(s string) (pluginID, toolName string, ok bool) {
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
