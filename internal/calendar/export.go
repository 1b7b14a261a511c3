/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"bytes"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/friendsincode/taskplanner/internal/models"
)

// ContentType is the media type of exported calendars.
const ContentType = "text/calendar; charset=utf-8"

// Export renders scheduled tasks as an iCalendar document. Unscheduled tasks
// are skipped. Times are written as floating local times.
func Export(tasks []models.Task, calName string, stamp time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Friends Incode//Task Planner//EN\r\n")
	fmt.Fprintf(&buf, "X-WR-CALNAME:%s\r\n", ics.ToText(calName))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	for _, t := range tasks {
		if t.ScheduledStart == nil || t.ScheduledEnd == nil {
			continue
		}

		buf.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&buf, "UID:%s@taskplanner\r\n", t.ID)
		fmt.Fprintf(&buf, "DTSTAMP:%s\r\n", stamp.UTC().Format("20060102T150405Z"))
		fmt.Fprintf(&buf, "DTSTART:%s\r\n", formatFloating(*t.ScheduledStart))
		fmt.Fprintf(&buf, "DTEND:%s\r\n", formatFloating(*t.ScheduledEnd))
		fmt.Fprintf(&buf, "SUMMARY:%s\r\n", ics.ToText(t.Title))
		if t.Description != "" {
			fmt.Fprintf(&buf, "DESCRIPTION:%s\r\n", ics.ToText(t.Description))
		}
		if name := t.SpaceName(); name != "" {
			fmt.Fprintf(&buf, "CATEGORIES:%s\r\n", ics.ToText(name))
		}
		if t.Frozen {
			buf.WriteString("X-TASKPLANNER-FROZEN:TRUE\r\n")
		}
		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

func formatFloating(t time.Time) string {
	return t.Format("20060102T150405")
}
