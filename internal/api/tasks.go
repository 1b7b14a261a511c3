/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/parser"
	"github.com/friendsincode/taskplanner/internal/tasks"
)

type taskCreateRequest struct {
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	SpaceID           *string `json:"space_id"`
	Priority          int     `json:"priority"`
	Deadline          string  `json:"deadline"`
	EstimatedDuration int     `json:"estimated_duration"`
}

type taskUpdateRequest struct {
	Title             tasks.Optional[string] `json:"title"`
	Description       tasks.Optional[string] `json:"description"`
	SpaceID           tasks.Optional[string] `json:"space_id"`
	Priority          tasks.Optional[int]    `json:"priority"`
	Deadline          tasks.Optional[string] `json:"deadline"`
	EstimatedDuration tasks.Optional[int]    `json:"estimated_duration"`
	ScheduledStart    tasks.Optional[string] `json:"scheduled_start"`
	ScheduledEnd      tasks.Optional[string] `json:"scheduled_end"`
	Completed         tasks.Optional[bool]   `json:"completed"`
	Frozen            tasks.Optional[bool]   `json:"frozen"`
}

type taskParseRequest struct {
	Text      string `json:"text"`
	SpaceHint string `json:"space_hint"`
}

type taskReorderRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type freezeDayRequest struct {
	Date string `json:"date"`
}

func (a *API) handleTasksList(w http.ResponseWriter, r *http.Request) {
	includeCompleted, _ := strconv.ParseBool(r.URL.Query().Get("include_completed"))

	list, err := a.tasks.List(r.Context(), includeCompleted)
	if err != nil {
		a.writeServiceError(w, err, "list tasks")
		return
	}
	writeJSON(w, http.StatusOK, views(list))
}

func (a *API) handleTasksCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	deadline, err := a.parseTime(req.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deadline")
		return
	}

	task, err := a.tasks.Create(r.Context(), tasks.CreateInput{
		Title:             req.Title,
		Description:       req.Description,
		SpaceID:           req.SpaceID,
		Priority:          req.Priority,
		Deadline:          deadline,
		EstimatedDuration: req.EstimatedDuration,
	})
	if err != nil {
		a.writeServiceError(w, err, "create task")
		return
	}
	writeJSON(w, http.StatusCreated, task.View())
}

// handleTasksParse turns free text into tasks. When the model is unavailable
// or answers badly, the text itself becomes a single task.
func (a *API) handleTasksParse(w http.ResponseWriter, r *http.Request) {
	var req taskParseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}

	spaces, err := a.tasks.ListSpaces(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list spaces")
		return
	}

	var drafts []parser.Draft
	if a.parser != nil {
		prompt := parser.BuildSystemPrompt(a.systemPrompt, spaces, req.SpaceHint)
		drafts, err = a.parser.Parse(r.Context(), req.Text, prompt)
		if err != nil {
			a.logger.Warn().Err(err).Msg("task parse failed, using raw text")
			drafts = nil
		}
	}
	if len(drafts) == 0 {
		drafts = []parser.Draft{parser.Fallback(req.Text)}
	}

	inputs := make([]tasks.CreateInput, 0, len(drafts))
	for _, d := range drafts {
		inputs = append(inputs, tasks.CreateInput{
			Title:             d.Title,
			Description:       d.Description,
			SpaceID:           resolveSpace(d, spaces, req.SpaceHint),
			Priority:          d.Priority,
			Deadline:          d.Deadline,
			EstimatedDuration: d.EstimatedDuration,
		})
	}

	created, err := a.tasks.CreateMany(r.Context(), inputs)
	if err != nil {
		a.writeServiceError(w, err, "create parsed tasks")
		return
	}

	if len(created) == 1 {
		writeJSON(w, http.StatusCreated, created[0].View())
		return
	}
	writeJSON(w, http.StatusCreated, views(created))
}

func (a *API) handleTasksUpdate(w http.ResponseWriter, r *http.Request) {
	var req taskUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := tasks.UpdateInput{
		Title:             req.Title,
		Description:       req.Description,
		SpaceID:           req.SpaceID,
		Priority:          req.Priority,
		EstimatedDuration: req.EstimatedDuration,
		Completed:         req.Completed,
		Frozen:            req.Frozen,
	}
	var err error
	if in.Deadline, err = a.optionalTime("deadline", req.Deadline); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.ScheduledStart, err = a.optionalTime("scheduled_start", req.ScheduledStart); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.ScheduledEnd, err = a.optionalTime("scheduled_end", req.ScheduledEnd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := a.tasks.Update(r.Context(), chi.URLParam(r, "taskID"), in)
	if err != nil {
		a.writeServiceError(w, err, "update task")
		return
	}
	writeJSON(w, http.StatusOK, task.View())
}

func (a *API) handleTasksDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.tasks.Delete(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		a.writeServiceError(w, err, "delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleTasksToggleFreeze(w http.ResponseWriter, r *http.Request) {
	task, err := a.tasks.ToggleFreeze(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		a.writeServiceError(w, err, "toggle freeze")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "frozen": task.Frozen})
}

func (a *API) handleTasksFreezeDay(w http.ResponseWriter, r *http.Request) {
	var req freezeDayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date == "" {
		writeError(w, http.StatusBadRequest, "No date provided")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, a.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format. Expected YYYY-MM-DD")
		return
	}

	res, err := a.tasks.FreezeDay(r.Context(), day)
	if err != nil {
		a.writeServiceError(w, err, "freeze day")
		return
	}
	if res.Count == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"count":   0,
			"message": "No tasks found on this day",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   res.Count,
		"frozen":  res.Frozen,
	})
}

func (a *API) handleTasksReorder(w http.ResponseWriter, r *http.Request) {
	var req taskReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := a.tasks.Reorder(r.Context(), req.TaskIDs)
	if err != nil {
		a.writeServiceError(w, err, "reorder tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

// resolveSpace maps a draft's space onto a stored space ID. The model may
// answer with an ID, a name, or nothing; the hint is the last resort.
func resolveSpace(d parser.Draft, spaces []models.Space, hint string) *string {
	candidates := []string{}
	if d.SpaceID != nil {
		candidates = append(candidates, *d.SpaceID)
	}
	candidates = append(candidates, d.Space, hint)

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for i := range spaces {
			if spaces[i].ID == c || strings.EqualFold(spaces[i].Name, c) {
				id := spaces[i].ID
				return &id
			}
		}
	}
	return nil
}

func views(list []models.Task) []models.TaskView {
	out := make([]models.TaskView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out
}
