/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/models"
)

// SpaceSeed describes a space created on first start.
type SpaceSeed struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Windows     []models.TimeWindow `yaml:"time_constraints"`
}

// DefaultSpaceSeeds are used when no seed file is configured.
func DefaultSpaceSeeds() []SpaceSeed {
	work := make([]models.TimeWindow, 0, 5)
	for day := 0; day < 5; day++ {
		work = append(work, models.TimeWindow{Day: day, Start: "09:00", End: "17:00"})
	}
	return []SpaceSeed{
		{Name: "work", Description: "Office hours, Monday to Friday", Windows: work},
		{Name: "study", Description: "Learning and reading, any time"},
		{Name: "association", Description: "Association meetings", Windows: []models.TimeWindow{
			{Day: 2, Start: "18:00", End: "22:00"},
		}},
	}
}

type seedFile struct {
	Spaces []SpaceSeed `yaml:"spaces"`
}

// LoadSpaceSeeds reads seeds from a YAML file with a top-level "spaces" list.
func LoadSpaceSeeds(path string) ([]SpaceSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for _, s := range f.Spaces {
		if s.Name == "" {
			return nil, fmt.Errorf("seed file %s: space without name", path)
		}
		for i, w := range s.Windows {
			if _, err := w.Window(); err != nil {
				return nil, fmt.Errorf("seed file %s: space %q window %d: %w", path, s.Name, i, err)
			}
		}
	}
	return f.Spaces, nil
}

// SeedSpaces creates the given spaces when the spaces table is empty.
// It returns the number of spaces created.
func SeedSpaces(database *gorm.DB, seeds []SpaceSeed) (int, error) {
	var count int64
	if err := database.Model(&models.Space{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count spaces: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	err := database.Transaction(func(tx *gorm.DB) error {
		for _, s := range seeds {
			if err := tx.Create(models.NewSpace(s.Name, s.Description, s.Windows)).Error; err != nil {
				return fmt.Errorf("create space %q: %w", s.Name, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
