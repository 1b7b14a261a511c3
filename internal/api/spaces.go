/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/scheduling"
	"github.com/friendsincode/taskplanner/internal/tasks"
)

type spaceCreateRequest struct {
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	TimeConstraints []models.TimeWindow `json:"time_constraints"`
}

type spaceUpdateRequest struct {
	Name            tasks.Optional[string]              `json:"name"`
	Description     tasks.Optional[string]              `json:"description"`
	TimeConstraints tasks.Optional[[]models.TimeWindow] `json:"time_constraints"`
}

type sourceCreateRequest struct {
	Name    string `json:"name"`
	ICSURL  string `json:"ics_url"`
	Enabled *bool  `json:"enabled"`
}

type externalEvent struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

func (a *API) handleSpacesList(w http.ResponseWriter, r *http.Request) {
	spaces, err := a.tasks.ListSpaces(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list spaces")
		return
	}
	writeJSON(w, http.StatusOK, spaces)
}

func (a *API) handleSpacesCreate(w http.ResponseWriter, r *http.Request) {
	var req spaceCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	space, err := a.tasks.CreateSpace(r.Context(), tasks.SpaceInput{
		Name:            req.Name,
		Description:     req.Description,
		TimeConstraints: req.TimeConstraints,
	})
	if err != nil {
		a.writeServiceError(w, err, "create space")
		return
	}
	writeJSON(w, http.StatusCreated, space)
}

func (a *API) handleSpacesUpdate(w http.ResponseWriter, r *http.Request) {
	var req spaceUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	space, err := a.tasks.UpdateSpace(r.Context(), chi.URLParam(r, "spaceID"), tasks.SpaceUpdate{
		Name:            req.Name,
		Description:     req.Description,
		TimeConstraints: req.TimeConstraints,
	})
	if err != nil {
		a.writeServiceError(w, err, "update space")
		return
	}
	writeJSON(w, http.StatusOK, space)
}

func (a *API) handleSpacesDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.tasks.DeleteSpace(r.Context(), chi.URLParam(r, "spaceID")); err != nil {
		a.writeServiceError(w, err, "delete space")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleSourcesList(w http.ResponseWriter, r *http.Request) {
	sources, err := a.tasks.ListSources(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list calendar sources")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (a *API) handleSourcesCreate(w http.ResponseWriter, r *http.Request) {
	var req sourceCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	source, err := a.tasks.CreateSource(r.Context(), req.Name, req.ICSURL, req.Enabled)
	if err != nil {
		a.writeServiceError(w, err, "create calendar source")
		return
	}
	writeJSON(w, http.StatusCreated, source)
}

func (a *API) handleSourcesDelete(w http.ResponseWriter, r *http.Request) {
	source, err := a.tasks.DeleteSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		a.writeServiceError(w, err, "delete calendar source")
		return
	}
	if a.feeds != nil {
		if err := a.feeds.InvalidateFeed(r.Context(), source.ICSURL); err != nil {
			a.logger.Warn().Err(err).Str("source", source.Name).Msg("feed cache invalidation failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleExternalEvents lists busy events from enabled sources. Failing
// sources are skipped, as in a scheduling pass.
func (a *API) handleExternalEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeJSON(w, http.StatusOK, []externalEvent{})
		return
	}

	sources, err := a.tasks.EnabledSources(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list calendar sources")
		return
	}

	evts, _ := a.events.FetchAll(r.Context(), sources)
	sort.SliceStable(evts, func(i, j int) bool { return evts[i].Start.Before(evts[j].Start) })

	out := make([]externalEvent, 0, len(evts))
	for _, e := range evts {
		out = append(out, externalEvent{
			Start:       scheduling.FormatLocal(e.Start.In(a.loc)),
			End:         scheduling.FormatLocal(e.End.In(a.loc)),
			Title:       e.Title,
			Description: e.Description,
			Source:      e.Source,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
