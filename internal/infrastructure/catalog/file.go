package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/storyquest/progression-engine/internal/domain/achievement"
)

// File is the on-disk catalog format:
//
//	achievements:
//	  - id: first_story
//	    name: First Draft
//	    category: writing
//	    points_reward: 50
//	    sort_order: 10
type File struct {
	Achievements []fileEntry `yaml:"achievements"`
}

// fileEntry mirrors achievement.Definition; is_active defaults to true.
type fileEntry struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	Category     string         `yaml:"category"`
	PointsReward int64          `yaml:"points_reward"`
	SortOrder    int            `yaml:"sort_order"`
	IsActive     *bool          `yaml:"is_active,omitempty"`
	Criteria     map[string]any `yaml:"criteria,omitempty"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) ([]achievement.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML with strict field checking.
func Parse(data []byte) ([]achievement.Definition, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	defs := make([]achievement.Definition, 0, len(f.Achievements))
	for _, e := range f.Achievements {
		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		def := achievement.Definition{
			ID:           e.ID,
			Name:         e.Name,
			Description:  e.Description,
			Category:     achievement.Category(e.Category),
			PointsReward: e.PointsReward,
			SortOrder:    e.SortOrder,
			IsActive:     active,
			Criteria:     e.Criteria,
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid catalog entry: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadStatic builds a Static catalog from a file, or the built-in catalog
// when path is empty.
func LoadStatic(path string) (*Static, error) {
	if path == "" {
		return Default(), nil
	}
	defs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(defs)
}
