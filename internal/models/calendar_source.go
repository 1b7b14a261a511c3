/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// CalendarSource is an ICS feed whose events block scheduling.
type CalendarSource struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(100);not null" json:"name"`
	ICSURL      string     `gorm:"column:ics_url;type:varchar(500);not null" json:"ics_url"`
	Enabled     bool       `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastFetched *time.Time `json:"last_fetched"`
}

// TableName returns the table name for GORM.
func (CalendarSource) TableName() string {
	return "calendar_sources"
}

// NewCalendarSource creates an enabled source with a fresh ID.
func NewCalendarSource(name, icsURL string) *CalendarSource {
	return &CalendarSource{
		ID:      uuid.NewString(),
		Name:    name,
		ICSURL:  icsURL,
		Enabled: true,
	}
}
