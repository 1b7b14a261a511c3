/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/models"
)

// ListSources returns every calendar source.
func (s *Service) ListSources(ctx context.Context) ([]models.CalendarSource, error) {
	var sources []models.CalendarSource
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list calendar sources: %w", err)
	}
	return sources, nil
}

// EnabledSources returns the sources consulted by the scheduler.
func (s *Service) EnabledSources(ctx context.Context) ([]models.CalendarSource, error) {
	var sources []models.CalendarSource
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&sources).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled calendar sources: %w", err)
	}
	return sources, nil
}

// CreateSource registers an ICS feed. enabled defaults to true.
func (s *Service) CreateSource(ctx context.Context, name, icsURL string, enabled *bool) (*models.CalendarSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := validateFeedURL(icsURL); err != nil {
		return nil, err
	}

	source := models.NewCalendarSource(name, strings.TrimSpace(icsURL))
	if enabled != nil {
		source.Enabled = *enabled
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Enabled has a database default; Select keeps an explicit false.
		if err := tx.Select("*").Create(source).Error; err != nil {
			return fmt.Errorf("create calendar source: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionCreate, models.EntityCalendarSource, source.ID, nil, snapshot(source))
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// DeleteSource removes a calendar source and returns the deleted row.
func (s *Service) DeleteSource(ctx context.Context, id string) (*models.CalendarSource, error) {
	var source models.CalendarSource
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&source, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load calendar source: %w", err)
		}
		if err := tx.Delete(&models.CalendarSource{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete calendar source: %w", err)
		}
		return changelog.Record(tx, models.ChangeActionDelete, models.EntityCalendarSource, id, snapshot(source), nil)
	})
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: ics_url must be an absolute URL", ErrInvalidInput)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal":
		return nil
	default:
		return fmt.Errorf("%w: unsupported ics_url scheme %q", ErrInvalidInput, u.Scheme)
	}
}
