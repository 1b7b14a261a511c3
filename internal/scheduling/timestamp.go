/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Accepted wall-clock layouts, most specific first.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseLocal parses an ISO-8601 timestamp as a naive wall-clock time in loc.
// A trailing "Z" or numeric offset is discarded without converting.
func ParseLocal(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	wall := stripZone(raw)
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, wall, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatLocal renders t without zone information.
func FormatLocal(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

func stripZone(s string) string {
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		return s[:len(s)-1]
	}
	// Offsets only appear after the time part.
	tIdx := strings.IndexAny(s, "T ")
	if tIdx < 0 {
		return s
	}
	if i := strings.LastIndexAny(s, "+-"); i > tIdx {
		return s[:i]
	}
	return s
}
