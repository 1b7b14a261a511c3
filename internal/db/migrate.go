/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/models"
)

// AllModels lists every table owned by the planner, in dependency order.
func AllModels() []any {
	return []any{
		&models.Space{},
		&models.Task{},
		&models.CalendarSource{},
		&models.ChangeLog{},
	}
}

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(AllModels()...); err != nil {
		return err
	}

	if err := backfillEstimatedDuration(database); err != nil {
		return err
	}

	return nil
}

// Reset drops every planner table and recreates the schema.
func Reset(database *gorm.DB) error {
	tables := AllModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := database.Migrator().DropTable(tables[i]); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return Migrate(database)
}

// backfillEstimatedDuration repairs rows written without an estimate.
func backfillEstimatedDuration(database *gorm.DB) error {
	err := database.Model(&models.Task{}).
		Where("estimated_duration IS NULL OR estimated_duration <= 0").
		Update("estimated_duration", models.DefaultEstimatedMinutes).Error
	if err != nil {
		return fmt.Errorf("backfill estimated duration: %w", err)
	}
	return nil
}
