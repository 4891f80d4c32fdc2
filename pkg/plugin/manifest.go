// Package plugin implements the plugin handler contract (spec §4.8,
// §6): a workspace-local manifest maps custom directive names onto
// subprocess or MCP handlers, each carrying declared capabilities that
// are enforced (not merely advertised) at dispatch time.
package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestVersion is the only directives.yaml version this build
// understands. A manifest that declares a different version is
// rejected outright rather than guessed at.
const ManifestVersion = 1

// Capability is one permission a directive handler may be granted.
// Handlers run with none of these by default; the manifest must
// declare each one it needs.
type Capability string

const (
	CapReadFiles   Capability = "read-files"
	CapWriteFiles  Capability = "write-files"
	CapRunCommands Capability = "run-commands"
	CapNetwork     Capability = "network"
)

func (c Capability) valid() bool {
	switch c {
	case CapReadFiles, CapWriteFiles, CapRunCommands, CapNetwork:
		return true
	}
	return false
}

// HandlerSpec describes how to reach the process or server that
// implements a directive.
type HandlerSpec struct {
	// Type is "subprocess" or "mcp".
	Type string `yaml:"type"`

	// Command is the executable to run. For subprocess handlers this is
	// the directive handler itself; for mcp handlers it launches the
	// MCP server over stdio.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Tool names the MCP tool to call; only meaningful when Type is
	// "mcp". A manifest with Type mcp and no Tool is rejected.
	Tool string `yaml:"tool"`
}

// DirectiveSpec is one manifest entry: a directive name, its handler,
// and the capabilities the handler is granted.
type DirectiveSpec struct {
	Description  string       `yaml:"description"`
	Handler      HandlerSpec  `yaml:"handler"`
	Capabilities []Capability `yaml:"capabilities"`
}

// Manifest is the parsed form of <workspace>/.sdqctl/directives.yaml.
type Manifest struct {
	Version    int                      `yaml:"version"`
	Directives map[string]DirectiveSpec `yaml:"directives"`
}

// LoadManifest reads and validates the manifest at path. A missing
// file is not an error: it is reported via the returned bool so
// callers can distinguish "no plugins configured" from a malformed
// manifest.
func LoadManifest(path string) (*Manifest, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("plugin: read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("plugin: parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, false, fmt.Errorf("plugin: manifest %s: %w", path, err)
	}
	return &m, true, nil
}

func (m *Manifest) validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d (want %d)", m.Version, ManifestVersion)
	}
	for name, d := range m.Directives {
		switch d.Handler.Type {
		case "subprocess":
			if d.Handler.Command == "" {
				return fmt.Errorf("directive %q: subprocess handler requires command", name)
			}
		case "mcp":
			if d.Handler.Command == "" {
				return fmt.Errorf("directive %q: mcp handler requires command", name)
			}
			if d.Handler.Tool == "" {
				return fmt.Errorf("directive %q: mcp handler requires tool", name)
			}
		default:
			return fmt.Errorf("directive %q: unknown handler type %q", name, d.Handler.Type)
		}
		for _, c := range d.Capabilities {
			if !c.valid() {
				return fmt.Errorf("directive %q: unknown capability %q", name, c)
			}
		}
	}
	return nil
}
