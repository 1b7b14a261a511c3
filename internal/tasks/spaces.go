/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/models"
)

// SpaceInput describes a new space.
type SpaceInput struct {
	Name            string
	Description     string
	TimeConstraints []models.TimeWindow
}

// SpaceUpdate lists the space fields to change.
type SpaceUpdate struct {
	Name            Optional[string]
	Description     Optional[string]
	TimeConstraints Optional[[]models.TimeWindow]
}

// ListSpaces returns all spaces by name.
func (s *Service) ListSpaces(ctx context.Context) ([]models.Space, error) {
	var spaces []models.Space
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&spaces).Error; err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	return spaces, nil
}

// CreateSpace validates and stores a space.
func (s *Service) CreateSpace(ctx context.Context, in SpaceInput) (*models.Space, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	space := models.NewSpace(name, in.Description, in.TimeConstraints)
	if _, err := space.Windows(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireUniqueName(tx, name, ""); err != nil {
			return err
		}
		if err := tx.Create(space).Error; err != nil {
			return fmt.Errorf("create space: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionCreate, models.EntitySpace, space.ID, nil, snapshot(space))
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.EventSpaceUpdated, events.Payload{"space_id": space.ID, "name": space.Name})
	return space, nil
}

// UpdateSpace applies a partial update to a space.
func (s *Service) UpdateSpace(ctx context.Context, id string, in SpaceUpdate) (*models.Space, error) {
	var space models.Space

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&space, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load space: %w", err)
		}
		before := snapshot(space)

		if in.Name.Set {
			if in.Name.Value == nil || strings.TrimSpace(*in.Name.Value) == "" {
				return fmt.Errorf("%w: name is required", ErrInvalidInput)
			}
			name := strings.TrimSpace(*in.Name.Value)
			if err := s.requireUniqueName(tx, name, id); err != nil {
				return err
			}
			space.Name = name
		}
		if in.Description.Set {
			space.Description = ""
			if in.Description.Value != nil {
				space.Description = *in.Description.Value
			}
		}
		if in.TimeConstraints.Set {
			space.TimeConstraints = []models.TimeWindow{}
			if in.TimeConstraints.Value != nil {
				space.TimeConstraints = *in.TimeConstraints.Value
			}
			if _, err := space.Windows(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
		}

		if err := tx.Save(&space).Error; err != nil {
			return fmt.Errorf("update space: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionUpdate, models.EntitySpace, id, before, snapshot(space))
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.EventSpaceUpdated, events.Payload{"space_id": id, "name": space.Name})
	return &space, nil
}

// DeleteSpace removes a space and detaches its tasks.
func (s *Service) DeleteSpace(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var space models.Space
		if err := tx.First(&space, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load space: %w", err)
		}
		if err := tx.Model(&models.Task{}).Where("space_id = ?", id).Update("space_id", nil).Error; err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		if err := tx.Delete(&models.Space{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete space: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionDelete, models.EntitySpace, id, snapshot(space), nil)
	})
	if err != nil {
		return err
	}

	s.publish(events.EventSpaceUpdated, events.Payload{"space_id": id, "deleted": true})
	return nil
}

func (s *Service) requireUniqueName(tx *gorm.DB, name, exceptID string) error {
	query := tx.Model(&models.Space{}).Where("name = ?", name)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check space name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: space %q already exists", ErrConflict, name)
	}
	return nil
}
