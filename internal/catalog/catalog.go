// Package catalog loads technique and scenario packs from YAML files into
// storage at startup.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/breachline/breachline/internal/model"
)

// Store is the slice of the storage surface the loader writes through.
type Store interface {
	UpsertTechnique(ctx context.Context, t model.Technique) error
	UpsertScenario(ctx context.Context, s model.Scenario) error
}

// packFile is one YAML document. A file may carry techniques, scenarios, or
// both.
type packFile struct {
	Techniques []model.Technique `yaml:"techniques"`
	Scenarios  []model.Scenario  `yaml:"scenarios"`
}

// Stats summarizes one load pass.
type Stats struct {
	Files      int
	Techniques int
	Scenarios  int
}

// Load reads every *.yaml/*.yml file directly under dir and upserts its
// contents. A missing or empty dir is not an error; a malformed file is,
// since a half-loaded catalog silently skews every plan built from it.
func Load(ctx context.Context, store Store, dir string, logger *slog.Logger) (Stats, error) {
	var stats Stats
	if dir == "" {
		return stats, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("catalog directory does not exist, starting with empty catalog", "dir", dir)
			return stats, nil
		}
		return stats, fmt.Errorf("catalog: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := loadFile(ctx, store, path, &stats); err != nil {
			return stats, err
		}
		stats.Files++
	}

	logger.Info("catalog loaded",
		"dir", dir,
		"files", stats.Files,
		"techniques", stats.Techniques,
		"scenarios", stats.Scenarios,
	)
	return stats, nil
}

func loadFile(ctx context.Context, store Store, path string, stats *Stats) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var pack packFile
	if err := yaml.Unmarshal(raw, &pack); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	for _, technique := range pack.Techniques {
		if err := validateTechnique(technique); err != nil {
			return fmt.Errorf("catalog: %s: %w", path, err)
		}
		if err := store.UpsertTechnique(ctx, technique); err != nil {
			return fmt.Errorf("catalog: upsert technique %s: %w", technique.ID, err)
		}
		stats.Techniques++
	}
	for _, scenario := range pack.Scenarios {
		if err := validateScenario(scenario); err != nil {
			return fmt.Errorf("catalog: %s: %w", path, err)
		}
		if err := store.UpsertScenario(ctx, scenario); err != nil {
			return fmt.Errorf("catalog: upsert scenario %s: %w", scenario.ID, err)
		}
		stats.Scenarios++
	}
	return nil
}

func validateTechnique(t model.Technique) error {
	if t.ID == "" {
		return fmt.Errorf("technique with empty id")
	}
	if t.Name == "" {
		return fmt.Errorf("technique %s: empty name", t.ID)
	}
	if len(t.Executors) == 0 {
		return fmt.Errorf("technique %s: no executors", t.ID)
	}
	for i, executor := range t.Executors {
		if executor.Type == "" {
			return fmt.Errorf("technique %s: executor %d has no type", t.ID, i)
		}
		if executor.Command == "" {
			return fmt.Errorf("technique %s: executor %d has no command", t.ID, i)
		}
	}
	return nil
}

func validateScenario(s model.Scenario) error {
	if s.ID == "" {
		return fmt.Errorf("scenario with empty id")
	}
	if s.Name == "" {
		return fmt.Errorf("scenario %s: empty name", s.ID)
	}
	for _, phase := range s.Phases {
		if len(phase.Techniques) == 0 {
			return fmt.Errorf("scenario %s: phase %q has no techniques", s.ID, phase.Name)
		}
		for _, sel := range phase.Techniques {
			if sel.TechniqueID == "" {
				return fmt.Errorf("scenario %s: phase %q selects an empty technique id", s.ID, phase.Name)
			}
		}
	}
	return nil
}
