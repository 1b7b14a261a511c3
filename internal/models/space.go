/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/taskplanner/internal/availability"
)

// TimeWindow is the stored form of a weekly availability window.
type TimeWindow struct {
	Day   int    `json:"day" yaml:"day"`     // 0=Monday, 6=Sunday
	Start string `json:"start" yaml:"start"` // HH:MM format
	End   string `json:"end" yaml:"end"`     // HH:MM format
}

// Window parses the stored strings.
func (w TimeWindow) Window() (availability.Window, error) {
	start, err := availability.ParseClock(w.Start)
	if err != nil {
		return availability.Window{}, err
	}
	end, err := availability.ParseClock(w.End)
	if err != nil {
		return availability.Window{}, err
	}
	win := availability.Window{Day: w.Day, Start: start, End: end}
	if err := win.Validate(); err != nil {
		return availability.Window{}, err
	}
	return win, nil
}

// Space is a named task category with optional weekly windows.
type Space struct {
	ID              string       `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string       `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description     string       `gorm:"type:text" json:"description"`
	TimeConstraints []TimeWindow `gorm:"type:text;serializer:json" json:"time_constraints"` // Empty = always available
	CreatedAt       time.Time    `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Space) TableName() string {
	return "spaces"
}

// NewSpace creates a space with a fresh ID.
func NewSpace(name, description string, windows []TimeWindow) *Space {
	if windows == nil {
		windows = []TimeWindow{}
	}
	return &Space{
		ID:              uuid.NewString(),
		Name:            name,
		Description:     description,
		TimeConstraints: windows,
	}
}

// Windows parses every stored window.
func (s *Space) Windows() ([]availability.Window, error) {
	out := make([]availability.Window, 0, len(s.TimeConstraints))
	for i, tw := range s.TimeConstraints {
		w, err := tw.Window()
		if err != nil {
			return nil, fmt.Errorf("space %q window %d: %w", s.Name, i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

// BuildConstraints assembles the engine constraint table from stored spaces.
// Spaces with malformed windows are returned in invalid and left out of the table.
func BuildConstraints(spaces []Space) (constraints availability.Constraints, invalid map[string]error) {
	constraints = make(availability.Constraints, len(spaces))
	for i := range spaces {
		windows, err := spaces[i].Windows()
		if err != nil {
			if invalid == nil {
				invalid = make(map[string]error)
			}
			invalid[spaces[i].Name] = err
			continue
		}
		constraints[spaces[i].Name] = windows
	}
	return constraints, invalid
}
