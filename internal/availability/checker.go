/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package availability evaluates weekly space windows against candidate intervals.
package availability

import "time"

// HorizonDays bounds how far ahead NextLegalStart looks for a window.
const HorizonDays = 90

// Checker evaluates intervals against a constraint table.
//
// FirstMatch makes NextLegalStart return the first configured window on the
// earliest qualifying day instead of the earliest one. It exists for parity
// with schedules produced by older releases.
type Checker struct {
	FirstMatch bool
}

var defaultChecker = Checker{}

// IsLegal reports whether [start, end) fits entirely inside one window of space
// on start's weekday. Unconstrained spaces are always legal.
func IsLegal(start, end time.Time, space string, constraints Constraints) bool {
	return defaultChecker.IsLegal(start, end, space, constraints)
}

// NextLegalStart returns the earliest window start at or after from, scanning
// HorizonDays calendar days. ok is false when no window qualifies.
func NextLegalStart(from time.Time, space string, constraints Constraints) (time.Time, bool) {
	return defaultChecker.NextLegalStart(from, space, constraints)
}

func (c Checker) IsLegal(start, end time.Time, space string, constraints Constraints) bool {
	windows := constraints.Windows(space)
	if len(windows) == 0 {
		return true
	}

	day := Weekday(start)
	for _, w := range windows {
		if w.Day != day {
			continue
		}
		windowStart := w.Start.On(start)
		windowEnd := w.End.On(start)
		if !start.Before(windowStart) && !end.After(windowEnd) {
			return true
		}
	}
	return false
}

func (c Checker) NextLegalStart(from time.Time, space string, constraints Constraints) (time.Time, bool) {
	windows := constraints.Windows(space)
	if len(windows) == 0 {
		return from, true
	}

	for offset := 0; offset < HorizonDays; offset++ {
		day := from.AddDate(0, 0, offset)
		weekday := Weekday(day)

		var best time.Time
		found := false
		for _, w := range windows {
			if w.Day != weekday {
				continue
			}
			candidate := w.Start.On(day)
			if candidate.Before(from) {
				continue
			}
			if c.FirstMatch {
				return candidate, true
			}
			if !found || candidate.Before(best) {
				best = candidate
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return time.Time{}, false
}
