/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduling places backlog tasks into free, legal time slots.
//
// The engine is greedy: tasks are visited in priority order and each one takes
// the earliest slot that respects its deadline, its space's weekly windows,
// and every interval already committed during the pass.
package scheduling

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/availability"
)

// maxSearchSteps is a hard bound on cursor moves per task.
const maxSearchSteps = HorizonDays * 48 * 4

// Options tune a scheduling pass.
type Options struct {
	// Now is the reference instant. Zero means time.Now().
	Now time.Time
	// FirstMatchWindows restores the legacy window tie-break in NextLegalStart.
	FirstMatchWindows bool
	// Logger receives per-task debug lines. Nil disables logging.
	Logger *zerolog.Logger
}

// Schedule runs one greedy pass and returns placements for the movable tasks
// that found a slot. Tasks that could not be placed are absent from the result.
// The busy slice is not modified.
func Schedule(tasks []Task, busy []Interval, constraints availability.Constraints, opts Options) []Result {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	checker := availability.Checker{FirstMatch: opts.FirstMatchWindows}

	frozen, movable := Partition(tasks)
	SortTasks(movable)

	occupied := make([]Interval, 0, len(busy)+len(frozen)+len(movable))
	occupied = append(occupied, busy...)
	for _, t := range frozen {
		occupied = append(occupied, Interval{Start: *t.ScheduledStart, End: *t.ScheduledEnd, Source: "frozen", Label: t.ID})
	}

	ref := opts.Now
	if ref.IsZero() {
		ref = time.Now()
	}
	now := RoundUp30(ref)

	results := make([]Result, 0, len(movable))
	for _, task := range movable {
		duration := task.Duration()
		ceiling := now.AddDate(0, 0, HorizonDays)
		if task.Deadline != nil {
			ceiling = task.Deadline.Add(-duration)
		}

		start, ok := findSlot(checker, now, duration, occupied, task.Space, constraints, ceiling)
		if !ok {
			logger.Debug().
				Str("task_id", task.ID).
				Str("space", task.Space).
				Time("ceiling", ceiling).
				Msg("no slot within horizon")
			continue
		}

		result := Result{TaskID: task.ID, Start: start, End: start.Add(duration)}
		results = append(results, result)
		occupied = append(occupied, result.Interval())
	}

	return results
}

// Partition splits tasks into frozen tasks with a placement and movable tasks.
// Frozen tasks without a placement are dropped.
func Partition(tasks []Task) (frozen, movable []Task) {
	for _, t := range tasks {
		switch {
		case t.Frozen && t.Placed():
			frozen = append(frozen, t)
		case !t.Frozen:
			movable = append(movable, t)
		}
	}
	return frozen, movable
}

// SortTasks orders tasks by priority descending, deadline ascending with
// missing deadlines last, creation time ascending, then ID.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return less(tasks[i], tasks[j])
	})
}

func less(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	switch {
	case a.Deadline != nil && b.Deadline == nil:
		return true
	case a.Deadline == nil && b.Deadline != nil:
		return false
	case a.Deadline != nil && b.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
		return a.Deadline.Before(*b.Deadline)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// findSlot returns the earliest start in [from, ceiling) where a task of the
// given duration is legal for space and overlaps nothing in busy.
func findSlot(checker availability.Checker, from time.Time, duration time.Duration, busy []Interval, space string, constraints availability.Constraints, ceiling time.Time) (time.Time, bool) {
	cur := from

	for step := 0; step < maxSearchSteps && cur.Before(ceiling); step++ {
		end := cur.Add(duration)

		if !checker.IsLegal(cur, end, space, constraints) {
			next, ok := checker.NextLegalStart(cur, space, constraints)
			if !ok {
				return time.Time{}, false
			}
			if !next.After(cur) {
				// The window starting at cur is too short for this task.
				next, ok = checker.NextLegalStart(cur.Add(time.Minute), space, constraints)
				if !ok {
					return time.Time{}, false
				}
			}
			cur = next
			continue
		}

		conflict := false
		for _, b := range busy {
			if !b.Overlaps(cur, end) {
				continue
			}
			conflict = true
			// Rounding and window checks use the cursor's wall clock.
			next := RoundUp30(b.End.In(cur.Location()))
			if !next.After(cur) {
				next = RoundUp30(cur.Add(SlotStep))
			}
			cur = next
			break
		}

		if !conflict {
			return cur, true
		}
	}

	return time.Time{}, false
}
