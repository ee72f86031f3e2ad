// Package manifest reads the list of modules a node compiles at startup.
// YAML, TOML and JSON (with comments) are accepted, chosen by extension.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"fabric-node/pkg/module"
)

// Candidates are the file names Discover looks for, in order.
var Candidates = []string{"fabric.yaml", "fabric.yml", "fabric.toml", "fabric.json", "fabric.jsonc"}

var ErrNoManifest = errors.New("no manifest found")

// Entry is one module to compile.
type Entry struct {
	ID      string         `yaml:"id" toml:"id" json:"id"`
	Module  string         `yaml:"module" toml:"module" json:"module"`
	Wrapper string         `yaml:"wrapper,omitempty" toml:"wrapper" json:"wrapper,omitempty"`
	Custom  bool           `yaml:"custom,omitempty" toml:"custom" json:"custom,omitempty"`
	Config  map[string]any `yaml:"config,omitempty" toml:"config" json:"config,omitempty"`
}

// ModuleConfig converts the entry for the builder.
func (e Entry) ModuleConfig() module.ModuleConfig {
	return module.ModuleConfig{ID: e.ID, Wrapper: e.Wrapper, Settings: e.Config}
}

// Manifest is an ordered module list.
type Manifest struct {
	Modules []Entry `yaml:"modules" toml:"modules" json:"modules"`
}

// Load reads and validates the manifest at p.
func Load(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, strings.TrimPrefix(filepath.Ext(p), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}

// Discover finds the first candidate manifest in dir.
func Discover(dir string) (string, error) {
	for _, name := range Candidates {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

// Parse decodes data in the given format (yaml, yml, toml, json, jsonc).
func Parse(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case "json", "jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate requires a module on every entry, defaults ids to the module's
// base name, and rejects duplicate ids.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Modules))
	for i := range m.Modules {
		e := &m.Modules[i]
		e.Module = strings.TrimSpace(e.Module)
		if e.Module == "" {
			return fmt.Errorf("modules[%d]: module is required", i)
		}
		if e.ID == "" {
			e.ID = strings.TrimSuffix(path.Base(e.Module), path.Ext(e.Module))
		}
		if seen[e.ID] {
			return fmt.Errorf("modules[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}
