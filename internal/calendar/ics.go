/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// VEvent is a parsed VEVENT component before recurrence expansion.
type VEvent struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RRule       string
	ExDates     []time.Time
}

// ParseICS reads VEVENT components from an iCalendar stream.
//
// Times are read as wall-clock values in loc: UTC markers and TZID
// parameters are dropped without conversion. Events missing DTSTART or
// DTEND are skipped.
func ParseICS(r io.Reader, loc *time.Location) ([]VEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	var out []VEvent
	for _, ev := range cal.Events() {
		v := VEvent{
			UID:         propertyValue(ev, ics.ComponentPropertyUniqueId),
			Summary:     propertyValue(ev, ics.ComponentPropertySummary),
			Description: propertyValue(ev, ics.ComponentPropertyDescription),
			RRule:       propertyValue(ev, ics.ComponentPropertyRrule),
		}

		start := ev.GetProperty(ics.ComponentPropertyDtStart)
		end := ev.GetProperty(ics.ComponentPropertyDtEnd)
		if start == nil || end == nil {
			continue
		}
		if v.Start, v.AllDay, err = parseICalTime(start.Value, start.ICalParameters, loc); err != nil {
			return nil, fmt.Errorf("event %q DTSTART: %w", v.UID, err)
		}
		if v.End, _, err = parseICalTime(end.Value, end.ICalParameters, loc); err != nil {
			return nil, fmt.Errorf("event %q DTEND: %w", v.UID, err)
		}

		for _, prop := range ev.GetProperties(ics.ComponentPropertyExdate) {
			for _, raw := range strings.Split(prop.Value, ",") {
				t, _, err := parseICalTime(raw, prop.ICalParameters, loc)
				if err != nil {
					return nil, fmt.Errorf("event %q EXDATE: %w", v.UID, err)
				}
				v.ExDates = append(v.ExDates, t)
			}
		}

		out = append(out, v)
	}
	return out, nil
}

func propertyValue(ev *ics.VEvent, prop ics.ComponentProperty) string {
	if p := ev.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// parseICalTime returns the wall-clock value in loc and whether it was a DATE.
func parseICalTime(s string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")

	isDate := len(s) == len("20060102")
	for _, v := range params[string(ics.ParameterValue)] {
		if strings.EqualFold(v, string(ics.ValueDataTypeDate)) {
			isDate = true
		}
	}
	if isDate {
		t, err := time.ParseInLocation("20060102", s, loc)
		return t, true, err
	}

	for _, layout := range []string{"20060102T150405", "20060102T1504"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized time %q", s)
}
