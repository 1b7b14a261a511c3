/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/taskplanner/internal/auth"
	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/parser"
	"github.com/friendsincode/taskplanner/internal/scheduler"
	"github.com/friendsincode/taskplanner/internal/scheduling"
	"github.com/friendsincode/taskplanner/internal/tasks"
	"github.com/friendsincode/taskplanner/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// EventBus is the subscription side of the event bus.
type EventBus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// FeedInvalidator drops cached calendar feeds.
type FeedInvalidator interface {
	InvalidateFeed(ctx context.Context, url string) error
}

// Options wires the API to its services. Parser, Events, Bus and Feeds may be nil.
type Options struct {
	Tasks         *tasks.Service
	Scheduler     *scheduler.Service
	Parser        *parser.Client
	Events        scheduler.EventSource
	ChangeLog     *changelog.Service
	Bus           EventBus
	Feeds         FeedInvalidator
	Password      *auth.PasswordVerifier
	JWTSecret     []byte
	SessionTTL    time.Duration
	SecureCookies bool
	SystemPrompt  string
	Location      *time.Location
	LoginLimiter  *rate.Limiter
}

// API exposes HTTP handlers.
type API struct {
	tasks         *tasks.Service
	scheduler     *scheduler.Service
	parser        *parser.Client
	events        scheduler.EventSource
	changelog     *changelog.Service
	bus           EventBus
	feeds         FeedInvalidator
	password      *auth.PasswordVerifier
	jwtSecret     []byte
	sessionTTL    time.Duration
	secureCookies bool
	systemPrompt  string
	loc           *time.Location
	loginLimiter  *rate.Limiter
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(opts Options, logger zerolog.Logger) *API {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = parser.DefaultSystemPrompt
	}
	if opts.LoginLimiter == nil {
		// Five attempts in a burst, then one every six seconds.
		opts.LoginLimiter = rate.NewLimiter(rate.Every(6*time.Second), 5)
	}
	return &API{
		tasks:         opts.Tasks,
		scheduler:     opts.Scheduler,
		parser:        opts.Parser,
		events:        opts.Events,
		changelog:     opts.ChangeLog,
		bus:           opts.Bus,
		feeds:         opts.Feeds,
		password:      opts.Password,
		jwtSecret:     opts.JWTSecret,
		sessionTTL:    opts.SessionTTL,
		secureCookies: opts.SecureCookies,
		systemPrompt:  opts.SystemPrompt,
		loc:           opts.Location,
		loginLimiter:  opts.LoginLimiter,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/tasks", func(r chi.Router) {
				r.Get("/", a.handleTasksList)
				r.Post("/", a.handleTasksCreate)
				r.Post("/parse", a.handleTasksParse)
				r.Post("/reorder", a.handleTasksReorder)
				r.Post("/freeze-day", a.handleTasksFreezeDay)
				r.Route("/{taskID}", func(r chi.Router) {
					r.Put("/", a.handleTasksUpdate)
					r.Delete("/", a.handleTasksDelete)
					r.Post("/toggle-freeze", a.handleTasksToggleFreeze)
				})
			})

			pr.Route("/schedule", func(r chi.Router) {
				r.Post("/", a.handleScheduleRun)
				r.Get("/ical", a.handleScheduleICal)
				r.Get("/runs", a.handleScheduleRuns)
			})

			pr.Route("/spaces", func(r chi.Router) {
				r.Get("/", a.handleSpacesList)
				r.Post("/", a.handleSpacesCreate)
				r.Put("/{spaceID}", a.handleSpacesUpdate)
				r.Delete("/{spaceID}", a.handleSpacesDelete)
			})

			pr.Route("/calendar-sources", func(r chi.Router) {
				r.Get("/", a.handleSourcesList)
				r.Post("/", a.handleSourcesCreate)
				r.Delete("/{sourceID}", a.handleSourcesDelete)
			})

			pr.Get("/external-events", a.handleExternalEvents)
			pr.Get("/logs", a.handleLogs)
			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Clients never send; CloseRead cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.StreamTypes
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload, ok := <-sub:
					if !ok {
						continue
					}
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

// writeServiceError maps service errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, tasks.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// parseTime reads a client timestamp as naive local time. Empty means unset.
func (a *API) parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := scheduling.ParseLocal(raw, a.loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// optionalTime converts a partial-update timestamp field.
func (a *API) optionalTime(field string, o tasks.Optional[string]) (tasks.Optional[time.Time], error) {
	if !o.Set {
		return tasks.Optional[time.Time]{}, nil
	}
	if o.Value == nil {
		return tasks.Null[time.Time](), nil
	}
	t, err := a.parseTime(*o.Value)
	if err != nil {
		return tasks.Optional[time.Time]{}, errors.New("invalid " + field)
	}
	if t == nil {
		return tasks.Null[time.Time](), nil
	}
	return tasks.Some(*t), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
