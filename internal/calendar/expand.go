/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/friendsincode/taskplanner/internal/scheduling"
)

// Event is an external busy interval.
type Event struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
}

// Interval converts the event into an engine busy interval.
func (e Event) Interval() scheduling.Interval {
	return scheduling.Interval{Start: e.Start, End: e.End, Source: "external", Label: e.Title}
}

// Intervals converts events into busy intervals.
func Intervals(evts []Event) []scheduling.Interval {
	out := make([]scheduling.Interval, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Interval())
	}
	return out
}

// Expand turns parsed VEVENTs into concrete events overlapping [from, to).
// Recurring events are expanded with their RRULE; EXDATE occurrences are skipped.
func Expand(vevents []VEvent, from, to time.Time, source string) ([]Event, error) {
	var out []Event

	for _, ve := range vevents {
		duration := ve.End.Sub(ve.Start)
		if duration < 0 {
			continue
		}
		title := ve.Summary
		if title == "" {
			title = "Untitled Event"
		}

		starts := []time.Time{ve.Start}
		if ve.RRule != "" {
			rr, err := rrule.StrToRRule(ve.RRule)
			if err != nil {
				return nil, fmt.Errorf("event %q RRULE %q: %w", ve.UID, ve.RRule, err)
			}
			rr.DTStart(ve.Start)
			// Occurrences starting before from may still overlap it.
			starts = rr.Between(from.Add(-duration), to, true)
		}

		for _, start := range starts {
			end := start.Add(duration)
			if !start.Before(to) || !end.After(from) {
				continue
			}
			if excluded(start, ve.ExDates) {
				continue
			}
			out = append(out, Event{
				Start:       start,
				End:         end,
				Title:       title,
				Description: ve.Description,
				Source:      source,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func excluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}
