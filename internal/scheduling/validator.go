/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/availability"
)

// ErrInvalidTask marks tasks the engine must not be given.
var ErrInvalidTask = errors.New("invalid task")

// Violation describes a rejected input or a detected conflict.
type Violation struct {
	TaskID      string
	Message     string
	AffectedIDs []string
	StartsAt    time.Time
	EndsAt      time.Time
}

// Validator screens engine inputs and outputs.
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a new schedule validator.
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "scheduling_validator").Logger(),
	}
}

// ValidateTask checks a single task against the engine's input contract.
func ValidateTask(t Task, now time.Time) error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if t.EstimatedDuration < 0 {
		return fmt.Errorf("%w: task %s has negative duration %s", ErrInvalidTask, t.ID, t.EstimatedDuration)
	}
	if t.Frozen && (t.ScheduledStart == nil) != (t.ScheduledEnd == nil) {
		return fmt.Errorf("%w: frozen task %s has a partial placement", ErrInvalidTask, t.ID)
	}
	if t.Placed() && !t.ScheduledEnd.After(*t.ScheduledStart) {
		return fmt.Errorf("%w: task %s placement ends before it starts", ErrInvalidTask, t.ID)
	}
	if !t.Frozen && t.Deadline != nil && t.Deadline.Before(now) {
		return fmt.Errorf("%w: task %s deadline %s is in the past", ErrInvalidTask, t.ID, t.Deadline.Format(time.RFC3339))
	}
	return nil
}

// FilterTasks drops tasks that fail ValidateTask and reports why.
func (v *Validator) FilterTasks(tasks []Task, now time.Time) ([]Task, []Violation) {
	kept := make([]Task, 0, len(tasks))
	var violations []Violation
	for _, t := range tasks {
		if err := ValidateTask(t, now); err != nil {
			v.logger.Warn().Err(err).Str("task_id", t.ID).Msg("task excluded from scheduling")
			violations = append(violations, Violation{TaskID: t.ID, Message: err.Error()})
			continue
		}
		kept = append(kept, t)
	}
	return kept, violations
}

// ValidateConstraints rejects constraint tables the engine cannot evaluate.
func (v *Validator) ValidateConstraints(constraints availability.Constraints) error {
	if err := constraints.Validate(); err != nil {
		v.logger.Warn().Err(err).Msg("invalid space constraints")
		return err
	}
	return nil
}

// CheckOverlaps detects pairs of intervals that share time.
func (v *Validator) CheckOverlaps(intervals []Interval) []Violation {
	items := make([]Interval, len(intervals))
	copy(items, intervals)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Start.Before(items[j].Start)
	})

	var violations []Violation
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if !items[j].Start.Before(items[i].End) {
				break
			}
			overlapStart := maxTime(items[i].Start, items[j].Start)
			overlapEnd := minTime(items[i].End, items[j].End)
			violations = append(violations, Violation{
				Message: fmt.Sprintf("%s and %s both occupy %s to %s (%d minute overlap)",
					intervalLabel(items[i]), intervalLabel(items[j]),
					overlapStart.Format(time.RFC3339), overlapEnd.Format(time.RFC3339),
					int(overlapEnd.Sub(overlapStart).Minutes())),
				AffectedIDs: []string{items[i].Label, items[j].Label},
				StartsAt:    overlapStart,
				EndsAt:      overlapEnd,
			})
		}
	}
	return violations
}

func intervalLabel(i Interval) string {
	if i.Label != "" {
		return i.Label
	}
	if i.Source != "" {
		return i.Source
	}
	return "interval"
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
