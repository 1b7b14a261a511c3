/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/taskplanner/internal/calendar"
	"github.com/friendsincode/taskplanner/internal/scheduler"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	icalName        = "Task Planner"
)

func (a *API) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	report, err := a.scheduler.Run(r.Context(), scheduler.TriggerManual)
	if err != nil {
		a.logger.Error().Err(err).Msg("schedule run failed")
		writeError(w, http.StatusInternalServerError, "schedule_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"scheduled_tasks": len(report.Scheduled),
		"report":          report,
	})
}

func (a *API) handleScheduleICal(w http.ResponseWriter, r *http.Request) {
	list, err := a.tasks.List(r.Context(), false)
	if err != nil {
		a.writeServiceError(w, err, "list tasks")
		return
	}

	body := calendar.Export(list, icalName, time.Now().In(a.loc))
	w.Header().Set("Content-Type", calendar.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handleScheduleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.scheduler.History().Recent())
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := a.changelog.List(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err, "list change log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
