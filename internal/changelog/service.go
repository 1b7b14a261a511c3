/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package changelog persists a history of planner mutations.
package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/models"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// NewEntry builds a change log row.
func NewEntry(action models.ChangeAction, entityType, entityID string, oldValue, newValue map[string]any) *models.ChangeLog {
	return &models.ChangeLog{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Timestamp:  time.Now(),
	}
}

// Record writes a change log row through tx, so the entry commits or rolls
// back together with the change it describes.
func Record(tx *gorm.DB, action models.ChangeAction, entityType, entityID string, oldValue, newValue map[string]any) error {
	entry := NewEntry(action, entityType, entityID, oldValue, newValue)
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("write change log entry: %w", err)
	}
	return nil
}

// Service reads the change log.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates a new change log service.
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "changelog").Logger(),
	}
}

// List returns the most recent entries, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.ChangeLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var entries []models.ChangeLog
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		s.logger.Error().Err(err).Int("limit", limit).Msg("failed to list change log")
		return nil, fmt.Errorf("list change log: %w", err)
	}
	return entries, nil
}
