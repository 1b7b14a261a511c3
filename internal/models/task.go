/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/taskplanner/internal/scheduling"
)

// DefaultEstimatedMinutes applies when a task has no estimate.
const DefaultEstimatedMinutes = 60

// Task is a backlog item owned by the planner.
type Task struct {
	ID                string     `gorm:"type:uuid;primaryKey" json:"id"`
	Title             string     `gorm:"type:varchar(500);not null" json:"title"`
	Description       string     `gorm:"type:text" json:"description"`
	SpaceID           *string    `gorm:"type:uuid;index:idx_tasks_space" json:"space_id"`
	Priority          int        `gorm:"not null;default:0;index:idx_tasks_order" json:"priority"` // Higher = more urgent
	Deadline          *time.Time `gorm:"index:idx_tasks_order" json:"deadline"`
	EstimatedDuration int        `gorm:"not null;default:60" json:"estimated_duration"` // Minutes
	ScheduledStart    *time.Time `gorm:"index:idx_tasks_scheduled" json:"scheduled_start"`
	ScheduledEnd      *time.Time `json:"scheduled_end"`
	Completed         bool       `gorm:"not null;default:false;index" json:"completed"`
	Frozen            bool       `gorm:"not null;default:false" json:"frozen"` // Excluded from rescheduling

	// Relationships
	Space *Space `gorm:"foreignKey:SpaceID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Task) TableName() string {
	return "tasks"
}

// NewTask creates a task with a fresh ID and the default estimate.
func NewTask(title string) *Task {
	return &Task{
		ID:                uuid.NewString(),
		Title:             title,
		EstimatedDuration: DefaultEstimatedMinutes,
	}
}

// SpaceName returns the name of the loaded space relation, if any.
func (t *Task) SpaceName() string {
	if t.Space == nil {
		return ""
	}
	return t.Space.Name
}

// ToPlanner converts the record into the engine's task type.
func (t *Task) ToPlanner(spaceName string) scheduling.Task {
	return scheduling.Task{
		ID:                t.ID,
		Title:             t.Title,
		Priority:          t.Priority,
		Deadline:          t.Deadline,
		EstimatedDuration: time.Duration(t.EstimatedDuration) * time.Minute,
		Space:             spaceName,
		Frozen:            t.Frozen,
		ScheduledStart:    t.ScheduledStart,
		ScheduledEnd:      t.ScheduledEnd,
		CreatedAt:         t.CreatedAt,
	}
}

// TaskView is the JSON shape returned to clients.
type TaskView struct {
	Task
	SpaceName *string `json:"space"`
}

// View attaches the space name for API responses.
func (t Task) View() TaskView {
	v := TaskView{Task: t}
	if name := t.SpaceName(); name != "" {
		v.SpaceName = &name
	}
	return v
}
