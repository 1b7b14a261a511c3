/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is returned for windows that cannot be evaluated.
var ErrInvalidWindow = errors.New("invalid availability window")

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidWindow, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: hour in %q: %v", ErrInvalidWindow, s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("%w: minute in %q: %v", ErrInvalidWindow, s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("%w: time %q out of range", ErrInvalidWindow, s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// On overlays the clock time onto the calendar date of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// Window is a weekly recurring availability window. Day 0 is Monday.
type Window struct {
	Day   int
	Start ClockTime
	End   ClockTime
}

// Validate rejects out-of-range days and windows whose start is after their end.
func (w Window) Validate() error {
	if w.Day < 0 || w.Day > 6 {
		return fmt.Errorf("%w: day %d not in 0..6", ErrInvalidWindow, w.Day)
	}
	if w.Start.Minutes() > w.End.Minutes() {
		return fmt.Errorf("%w: start %s after end %s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s-%s", DayName(w.Day), w.Start, w.End)
}

// Constraints maps a space name to its weekly windows.
type Constraints map[string][]Window

// Windows returns the configured windows for space, or nil when the space is unconstrained.
func (c Constraints) Windows(space string) []Window {
	if space == "" || c == nil {
		return nil
	}
	return c[space]
}

// Validate checks every window of every space.
func (c Constraints) Validate() error {
	for space, windows := range c {
		for i, w := range windows {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("space %q window %d: %w", space, i, err)
			}
		}
	}
	return nil
}

// Weekday returns the Monday-based day index of t.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

var dayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayName returns the English name of a Monday-based day index.
func DayName(day int) string {
	if day < 0 || day >= len(dayNames) {
		return fmt.Sprintf("day(%d)", day)
	}
	return dayNames[day]
}
