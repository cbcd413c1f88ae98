// Package orchestrator loads the named scrape-filter presets that the
// orchestrator screen can trigger as runs.
package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scrapetok/internal/models"
)

type Preset struct {
	Name        string                `yaml:"name" json:"name"`
	Description string                `yaml:"description" json:"description,omitempty"`
	Filters     models.ApifyFilterSet `yaml:"filters" json:"filters"`
}

type Presets struct {
	byName map[string]Preset
	order  []Preset
}

// Load reads the presets file. An empty path yields an empty, usable set.
func Load(path string) (*Presets, error) {
	p := &Presets{byName: map[string]Preset{}}
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var file struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for _, preset := range file.Presets {
		name := strings.TrimSpace(preset.Name)
		if name == "" {
			return nil, fmt.Errorf("preset with empty name")
		}
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", name)
		}
		preset.Name = name
		p.byName[name] = preset
		p.order = append(p.order, preset)
	}
	return p, nil
}

func (p *Presets) List() []Preset {
	out := make([]Preset, len(p.order))
	copy(out, p.order)
	return out
}

func (p *Presets) Get(name string) (Preset, bool) {
	preset, ok := p.byName[strings.TrimSpace(name)]
	return preset, ok
}
