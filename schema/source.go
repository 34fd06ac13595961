package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelSource supplies the version history for a single table, ordered by
// version. Implementations decide where definitions live: embedded
// constants, YAML files, a registry.
type ModelSource interface {
	List(ctx context.Context) ([]TableModel, error)
}

// StaticSource is a ModelSource over an in-code model list.
type StaticSource []TableModel

func (s StaticSource) List(ctx context.Context) ([]TableModel, error) {
	models := append([]TableModel(nil), s...)
	if err := validateHistory(models); err != nil {
		return nil, err
	}
	return models, nil
}

// DirSource loads one model per YAML file from files matching a glob
// pattern, e.g. "models/orders/*.yaml".
type DirSource struct {
	Pattern string
}

func (d DirSource) List(ctx context.Context) ([]TableModel, error) {
	matches, err := filepath.Glob(d.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob pattern error: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no model files found matching: %s", d.Pattern)
	}

	var models []TableModel
	for _, path := range matches {
		m, err := loadModelFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		models = append(models, m)
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].Version < models[j].Version
	})
	if err := validateHistory(models); err != nil {
		return nil, err
	}
	return models, nil
}

func loadModelFile(path string) (TableModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TableModel{}, err
	}
	var m TableModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return TableModel{}, err
	}
	if err := m.Validate(); err != nil {
		return TableModel{}, err
	}
	return m, nil
}

// validateHistory checks that the sequence describes one table with
// strictly increasing versions.
func validateHistory(models []TableModel) error {
	for i, m := range models {
		if err := m.Validate(); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		if m.Name != models[0].Name {
			return fmt.Errorf("model history mixes tables %s and %s", models[0].Name, m.Name)
		}
		if m.Version <= models[i-1].Version {
			return fmt.Errorf("table %s: version %d does not supersede %d", m.Name, m.Version, models[i-1].Version)
		}
	}
	return nil
}
