/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ChangeAction defines the type of recorded change.
type ChangeAction string

const (
	ChangeActionCreate     ChangeAction = "create"
	ChangeActionUpdate     ChangeAction = "update"
	ChangeActionDelete     ChangeAction = "delete"
	ChangeActionReorder    ChangeAction = "reorder"
	ChangeActionFreeze     ChangeAction = "freeze"
	ChangeActionUnfreeze   ChangeAction = "unfreeze"
	ChangeActionReschedule ChangeAction = "reschedule"
)

// Entity types recorded in the change log.
const (
	EntityTask           = "task"
	EntitySpace          = "space"
	EntityCalendarSource = "calendar_source"
)

// ChangeLog records a mutation of planner data.
type ChangeLog struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Action     ChangeAction   `gorm:"type:varchar(32);index:idx_change_logs_action;not null" json:"action"`
	EntityType string         `gorm:"type:varchar(50);not null" json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(64);index:idx_change_logs_entity" json:"entity_id"`
	OldValue   map[string]any `gorm:"type:text;serializer:json" json:"old_value"`
	NewValue   map[string]any `gorm:"type:text;serializer:json" json:"new_value"`
	Timestamp  time.Time      `gorm:"index:idx_change_logs_timestamp;not null" json:"timestamp"`
}

// TableName returns the table name for GORM.
func (ChangeLog) TableName() string {
	return "change_logs"
}
