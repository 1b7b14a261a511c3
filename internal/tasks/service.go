/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tasks implements the planner's backlog, space and calendar source operations.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// Optional carries a partial-update field. Set distinguishes an explicit
// null from an absent key.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UnmarshalJSON marks the field as present.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// CreateInput describes a new task.
type CreateInput struct {
	Title             string
	Description       string
	SpaceID           *string
	Priority          int
	Deadline          *time.Time
	EstimatedDuration int // Minutes; zero means the default
}

// UpdateInput lists the fields to change. Unset fields are left alone.
type UpdateInput struct {
	Title             Optional[string]
	Description       Optional[string]
	SpaceID           Optional[string]
	Priority          Optional[int]
	Deadline          Optional[time.Time]
	EstimatedDuration Optional[int]
	ScheduledStart    Optional[time.Time]
	ScheduledEnd      Optional[time.Time]
	Completed         Optional[bool]
	Frozen            Optional[bool]
}

// FreezeDayResult reports the outcome of FreezeDay.
type FreezeDayResult struct {
	Count  int  `json:"count"`
	Frozen bool `json:"frozen"`
}

// Service manages planner records.
type Service struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
}

// NewService creates a task service. bus may be nil.
func NewService(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "tasks").Logger(),
	}
}

// List returns tasks ordered by priority then deadline.
func (s *Service) List(ctx context.Context, includeCompleted bool) ([]models.Task, error) {
	query := s.db.WithContext(ctx).Preload("Space")
	if !includeCompleted {
		query = query.Where("completed = ?", false)
	}

	var tasks []models.Task
	err := query.
		Order("priority DESC").
		Order("deadline ASC").
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get loads one task with its space.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.load(s.db.WithContext(ctx), id)
}

func (s *Service) load(tx *gorm.DB, id string) (*models.Task, error) {
	var task models.Task
	if err := tx.Preload("Space").First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return &task, nil
}

// Create stores a single task.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	created, err := s.CreateMany(ctx, []CreateInput{in})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateMany stores several tasks in one transaction.
func (s *Service) CreateMany(ctx context.Context, inputs []CreateInput) ([]models.Task, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidInput)
	}

	created := make([]models.Task, 0, len(inputs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range inputs {
			task, err := s.buildTask(tx, in)
			if err != nil {
				return err
			}
			if err := tx.Create(task).Error; err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			loaded, err := s.load(tx, task.ID)
			if err != nil {
				return err
			}
			if err := changelog.Record(tx, models.ChangeActionCreate, models.EntityTask, loaded.ID, nil, snapshot(loaded.View())); err != nil {
				return err
			}
			created = append(created, *loaded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range created {
		s.publish(events.EventTaskCreated, events.Payload{"task_id": created[i].ID, "title": created[i].Title})
	}
	return created, nil
}

func (s *Service) buildTask(tx *gorm.DB, in CreateInput) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.EstimatedDuration < 0 {
		return nil, fmt.Errorf("%w: estimated_duration must be positive", ErrInvalidInput)
	}

	task := models.NewTask(title)
	task.Description = in.Description
	task.Priority = in.Priority
	task.Deadline = in.Deadline
	if in.EstimatedDuration > 0 {
		task.EstimatedDuration = in.EstimatedDuration
	}
	if in.SpaceID != nil && *in.SpaceID != "" {
		if err := s.requireSpace(tx, *in.SpaceID); err != nil {
			return nil, err
		}
		task.SpaceID = in.SpaceID
	}
	return task, nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Task, error) {
	var before map[string]any
	var updated *models.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.load(tx, id)
		if err != nil {
			return err
		}
		before = snapshot(task.View())

		if err := s.apply(tx, task, in); err != nil {
			return err
		}
		// Save would also write the preloaded association.
		if err := tx.Omit("Space").Save(task).Error; err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		updated, err = s.load(tx, id)
		if err != nil {
			return err
		}
		return changelog.Record(tx, models.ChangeActionUpdate, models.EntityTask, id, before, snapshot(updated.View()))
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.EventTaskUpdated, events.Payload{"task_id": id})
	return updated, nil
}

func (s *Service) apply(tx *gorm.DB, task *models.Task, in UpdateInput) error {
	if in.Title.Set {
		if in.Title.Value == nil || strings.TrimSpace(*in.Title.Value) == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		task.Title = strings.TrimSpace(*in.Title.Value)
	}
	if in.Description.Set {
		task.Description = ""
		if in.Description.Value != nil {
			task.Description = *in.Description.Value
		}
	}
	if in.SpaceID.Set {
		if in.SpaceID.Value == nil || *in.SpaceID.Value == "" {
			task.SpaceID = nil
		} else {
			if err := s.requireSpace(tx, *in.SpaceID.Value); err != nil {
				return err
			}
			task.SpaceID = in.SpaceID.Value
		}
		task.Space = nil
	}
	if in.Priority.Set && in.Priority.Value != nil {
		task.Priority = *in.Priority.Value
	}
	if in.Deadline.Set {
		task.Deadline = in.Deadline.Value
	}
	if in.EstimatedDuration.Set {
		minutes := models.DefaultEstimatedMinutes
		if in.EstimatedDuration.Value != nil {
			minutes = *in.EstimatedDuration.Value
		}
		if minutes <= 0 {
			return fmt.Errorf("%w: estimated_duration must be positive", ErrInvalidInput)
		}
		task.EstimatedDuration = minutes
	}
	if in.ScheduledStart.Set {
		task.ScheduledStart = in.ScheduledStart.Value
	}
	if in.ScheduledEnd.Set {
		task.ScheduledEnd = in.ScheduledEnd.Value
	}
	if in.Completed.Set && in.Completed.Value != nil {
		task.Completed = *in.Completed.Value
	}
	if in.Frozen.Set && in.Frozen.Value != nil {
		task.Frozen = *in.Frozen.Value
	}

	if (task.ScheduledStart == nil) != (task.ScheduledEnd == nil) {
		return fmt.Errorf("%w: scheduled_start and scheduled_end must be set together", ErrInvalidInput)
	}
	if task.ScheduledStart != nil && !task.ScheduledStart.Before(*task.ScheduledEnd) {
		return fmt.Errorf("%w: scheduled_start must precede scheduled_end", ErrInvalidInput)
	}
	return nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.Task{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionDelete, models.EntityTask, id, snapshot(task.View()), nil)
	})
	if err != nil {
		return err
	}

	s.publish(events.EventTaskDeleted, events.Payload{"task_id": id})
	return nil
}

// ToggleFreeze flips the frozen flag of one task.
func (s *Service) ToggleFreeze(ctx context.Context, id string) (*models.Task, error) {
	var task *models.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = s.load(tx, id)
		if err != nil {
			return err
		}
		before := snapshot(task.View())
		task.Frozen = !task.Frozen
		if err := tx.Model(&models.Task{}).Where("id = ?", id).Update("frozen", task.Frozen).Error; err != nil {
			return fmt.Errorf("toggle freeze: %w", err)
		}
		return changelog.Record(tx, freezeAction(task.Frozen), models.EntityTask, id, before, snapshot(task.View()))
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.EventTaskFrozen, events.Payload{"task_ids": []string{id}, "frozen": task.Frozen})
	return task, nil
}

// FreezeDay toggles every task scheduled to start on day's date. When all
// of them are already frozen they are unfrozen, otherwise all are frozen.
func (s *Service) FreezeDay(ctx context.Context, day time.Time) (FreezeDayResult, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	var result FreezeDayResult
	var ids []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var onDay []models.Task
		err := tx.Preload("Space").
			Where("scheduled_start >= ? AND scheduled_start < ?", from, to).
			Order("scheduled_start ASC").
			Find(&onDay).Error
		if err != nil {
			return fmt.Errorf("load tasks for day: %w", err)
		}
		if len(onDay) == 0 {
			return nil
		}

		allFrozen := true
		ids = make([]string, 0, len(onDay))
		for i := range onDay {
			if !onDay[i].Frozen {
				allFrozen = false
			}
			ids = append(ids, onDay[i].ID)
		}
		result.Frozen = !allFrozen
		result.Count = len(onDay)

		if err := tx.Model(&models.Task{}).Where("id IN ?", ids).Update("frozen", result.Frozen).Error; err != nil {
			return fmt.Errorf("freeze day: %w", err)
		}
		for i := range onDay {
			before := snapshot(onDay[i].View())
			onDay[i].Frozen = result.Frozen
			if err := changelog.Record(tx, freezeAction(result.Frozen), models.EntityTask, onDay[i].ID, before, snapshot(onDay[i].View())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return FreezeDayResult{}, err
	}

	if len(ids) > 0 {
		s.publish(events.EventTaskFrozen, events.Payload{"task_ids": ids, "frozen": result.Frozen})
	}
	return result, nil
}

// Reorder assigns priorities from an ordered list of IDs: the first ID gets
// the highest priority and the last gets zero. Unknown IDs are skipped.
func (s *Service) Reorder(ctx context.Context, ids []string) (int, error) {
	changed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := len(ids) - 1; i >= 0; i-- {
			priority := len(ids) - 1 - i

			var task models.Task
			if err := tx.Select("id", "priority").First(&task, "id = ?", ids[i]).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return fmt.Errorf("load task: %w", err)
			}
			if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Update("priority", priority).Error; err != nil {
				return fmt.Errorf("reorder task: %w", err)
			}
			err := changelog.Record(tx, models.ChangeActionReorder, models.EntityTask, task.ID,
				map[string]any{"priority": task.Priority}, map[string]any{"priority": priority})
			if err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(events.EventTasksReordered, events.Payload{"count": changed})
	return changed, nil
}

func (s *Service) requireSpace(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&models.Space{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("check space: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: unknown space %s", ErrInvalidInput, id)
	}
	return nil
}

func (s *Service) publish(eventType events.EventType, payload events.Payload) {
	if s.bus != nil {
		s.bus.Publish(eventType, payload)
	}
}

func freezeAction(frozen bool) models.ChangeAction {
	if frozen {
		return models.ChangeActionFreeze
	}
	return models.ChangeActionUnfreeze
}

// snapshot flattens a record into the JSON form stored in the change log.
func snapshot(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
