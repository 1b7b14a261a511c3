/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/scheduling"
)

// FallbackPriority is assigned to drafts built without the model.
const FallbackPriority = 5

// Draft is a task proposed by the model.
type Draft struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	SpaceID           *string    `json:"space_id"`
	Space             string     `json:"space,omitempty"`
	Priority          int        `json:"priority"`
	Deadline          *time.Time `json:"deadline"`
	EstimatedDuration int        `json:"estimated_duration"`
}

type rawDraft struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	SpaceID           json.RawMessage `json:"space_id"`
	Space             string          `json:"space"`
	Priority          *int            `json:"priority"`
	Deadline          *string         `json:"deadline"`
	EstimatedDuration *int            `json:"estimated_duration"`
}

// Fallback builds a single draft straight from the input text.
func Fallback(text string) Draft {
	title := strings.TrimSpace(text)
	if utf8.RuneCountInString(title) > 100 {
		title = string([]rune(title)[:100])
	}
	return Draft{
		Title:             title,
		Description:       text,
		Priority:          FallbackPriority,
		EstimatedDuration: models.DefaultEstimatedMinutes,
	}
}

// stripFences removes a markdown code fence around the reply.
func stripFences(reply string) string {
	if i := strings.Index(reply, "```json"); i >= 0 {
		rest := reply[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(reply, "```"); i >= 0 {
		rest := reply[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(reply)
}

// decodeDrafts accepts either a single object or an array of objects.
func decodeDrafts(reply string, now time.Time, logger zerolog.Logger) ([]Draft, error) {
	payload := stripFences(reply)

	var raws []rawDraft
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var single rawDraft
		if err := json.Unmarshal([]byte(payload), &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raws = []rawDraft{single}
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: no tasks in reply", ErrMalformed)
	}

	drafts := make([]Draft, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw.Title) == "" {
			return nil, fmt.Errorf("%w: task without title", ErrMalformed)
		}
		d := Draft{
			Title:             strings.TrimSpace(raw.Title),
			Description:       raw.Description,
			SpaceID:           spaceID(raw.SpaceID),
			Space:             raw.Space,
			EstimatedDuration: models.DefaultEstimatedMinutes,
		}
		if raw.Priority != nil {
			d.Priority = *raw.Priority
		}
		if raw.EstimatedDuration != nil && *raw.EstimatedDuration > 0 {
			d.EstimatedDuration = *raw.EstimatedDuration
		}
		if raw.Deadline != nil && strings.TrimSpace(*raw.Deadline) != "" {
			deadline, err := ResolveDeadline(*raw.Deadline, now)
			if err != nil {
				logger.Warn().Err(err).Str("title", d.Title).Msg("ignoring unparseable deadline")
			} else {
				d.Deadline = &deadline
			}
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// spaceID accepts a JSON string or number.
func spaceID(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		id := n.String()
		return &id
	}
	return nil
}

// ResolveDeadline maps relative phrases onto 23:59 of the target day and
// parses anything else as a wall-clock timestamp in now's location.
func ResolveDeadline(value string, now time.Time) (time.Time, error) {
	phrase := strings.ToLower(strings.TrimSpace(value))
	endOfDay := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 23, 59, 0, 0, t.Location())
	}
	weekday := (int(now.Weekday()) + 6) % 7

	switch {
	case strings.Contains(phrase, "tomorrow"):
		return endOfDay(now.AddDate(0, 0, 1)), nil
	case strings.Contains(phrase, "next week"):
		return endOfDay(now.AddDate(0, 0, 7)), nil
	case strings.Contains(phrase, "next") && strings.Contains(phrase, "monday"):
		return endOfDay(now.AddDate(0, 0, 7-weekday)), nil
	case strings.Contains(phrase, "next") && strings.Contains(phrase, "friday"):
		ahead := (4 - weekday + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return endOfDay(now.AddDate(0, 0, ahead)), nil
	}

	t, err := scheduling.ParseLocal(value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q: %w", value, err)
	}
	return t, nil
}
