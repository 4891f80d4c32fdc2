package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sdqctl/sdqctl/pkg/plugin"
)

// cmdPlugin inspects a plugin manifest (spec §6 `plugin {list,validate
// <path>}`).
func cmdPlugin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl plugin {list|validate <path>}")
	}
	switch args[0] {
	case "list":
		return cmdPluginList(args[1:])
	case "validate":
		return cmdPluginValidate(args[1:])
	default:
		return fmt.Errorf("unknown plugin subcommand %q", args[0])
	}
}

// cmdPluginList prints every directive the workspace manifest (or an
// explicit --manifest path) declares, along with its handler type and
// granted capabilities.
func cmdPluginList(args []string) error {
	path := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--manifest" && i+1 < len(args) {
			i++
			path = args[i]
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		workspace, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getwd: %w", err)
		}
		path = cfg.Plugin.ManifestPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
	}

	m, ok, err := plugin.LoadManifest(path)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("no manifest at %s\n", path)
		return nil
	}

	names := make([]string, 0, len(m.Directives))
	for name := range m.Directives {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("manifest: %s (version %d)\n", path, m.Version)
	for _, name := range names {
		d := m.Directives[name]
		caps := make([]string, len(d.Capabilities))
		for i, c := range d.Capabilities {
			caps[i] = string(c)
		}
		fmt.Printf("  %-20s %-10s %s\n", name, d.Handler.Type, strings.Join(caps, ","))
		if d.Description != "" {
			fmt.Printf("      %s\n", d.Description)
		}
	}
	return nil
}

// cmdPluginValidate parses and validates a manifest file, reporting
// success or the first error encountered.
func cmdPluginValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sdqctl plugin validate <path>")
	}
	path := args[0]
	m, ok, err := plugin.LoadManifest(path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: no such manifest", path)
	}
	fmt.Printf("%s: ok (%d directives declared)\n", path, len(m.Directives))
	return nil
}
