// Package preset loads named dice expressions from YAML so that callers can
// evaluate "@fireball" instead of "8d6".
package preset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/diceengine/internal/dice"
)

// Prefix marks a preset reference in an expression.
const Prefix = "@"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ErrUnknownPreset is returned when a reference names no registered preset.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named expression loaded from YAML.
type Preset struct {
	Name        string   `yaml:"name" json:"name"`
	Expression  string   `yaml:"expression" json:"expression"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
}

// Registry holds presets keyed by name. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]Preset
	cfg     dice.TokenizerConfig
}

// NewRegistry creates an empty Registry that validates expressions with cfg.
func NewRegistry(cfg dice.TokenizerConfig) *Registry {
	return &Registry{presets: make(map[string]Preset), cfg: cfg}
}

// Register adds p, replacing any preset with the same name.
//
// Precondition: p.Name matches [a-z0-9][a-z0-9_-]*.
// Postcondition: p is registered only if its expression tokenizes and parses.
func (r *Registry) Register(p Preset) error {
	if !namePattern.MatchString(p.Name) {
		return fmt.Errorf("preset name %q must match %s", p.Name, namePattern)
	}
	if _, err := dice.ParseString(p.Expression, r.cfg); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
	return nil
}

// Get returns the preset for name, or (Preset{}, false) if not found.
func (r *Registry) Get(name string) (Preset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	return p, ok
}

// All returns every preset sorted by name.
func (r *Registry) All() []Preset {
	r.mu.RLock()
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Preset) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len returns the number of registered presets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presets)
}

// Resolve expands a whole-expression preset reference. Text without the
// "@" prefix is returned unchanged with ok=false.
func (r *Registry) Resolve(text string) (expr string, ok bool, err error) {
	name := Name(text)
	if name == "" {
		return text, false, nil
	}
	p, found := r.Get(name)
	if !found {
		return "", false, fmt.Errorf("%w %q", ErrUnknownPreset, name)
	}
	return p.Expression, true, nil
}

// Name returns the preset name referenced by text, or "" if text is not a
// reference.
func Name(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, Prefix) {
		return ""
	}
	return strings.TrimPrefix(trimmed, Prefix)
}

// LoadDirectory reads every *.yaml file in dir. A file may hold several
// presets as separate YAML documents.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a populated Registry, or an error naming the first
// file that fails to read, parse or validate.
func LoadDirectory(dir string, cfg dice.TokenizerConfig) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset dir %q: %w", dir, err)
	}
	reg := NewRegistry(cfg)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		if err := reg.load(data); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
	}
	return reg, nil
}

func (r *Registry) load(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	for {
		var p Preset
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.Register(p); err != nil {
			return err
		}
	}
}
