/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs scheduling passes against the database and keeps
// them running on a timer.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/calendar"
	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/scheduler/state"
	"github.com/friendsincode/taskplanner/internal/scheduling"
	"github.com/friendsincode/taskplanner/internal/telemetry"
)

// Pass triggers.
const (
	TriggerManual = "manual"
	TriggerCron   = "cron"
	TriggerCLI    = "cli"
)

// EventSource supplies external busy events.
type EventSource interface {
	FetchAll(ctx context.Context, sources []models.CalendarSource) ([]calendar.Event, []calendar.SourceResult)
}

// Config tunes the service.
type Config struct {
	Location          *time.Location
	FirstMatchWindows bool
}

// Report describes the outcome of a pass.
type Report struct {
	Trigger     string                  `json:"trigger"`
	StartedAt   time.Time               `json:"started_at"`
	Considered  int                     `json:"considered"`
	Scheduled   []string                `json:"scheduled"`
	Unscheduled []string                `json:"unscheduled"`
	Excluded    []string                `json:"excluded"`
	Results     []scheduling.Result     `json:"results"`
	Sources     []calendar.SourceResult `json:"sources"`
}

// Service orchestrates one scheduling pass over stored tasks.
type Service struct {
	db        *gorm.DB
	events    EventSource
	bus       events.Publisher
	history   *state.Store
	validator *scheduling.Validator
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// New constructs the scheduler service. source and bus may be nil.
func New(db *gorm.DB, source EventSource, bus events.Publisher, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Service{
		db:        db,
		events:    source,
		bus:       bus,
		history:   state.NewStore(state.DefaultCapacity),
		validator: scheduling.NewValidator(logger),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// History returns recent passes.
func (s *Service) History() *state.Store {
	return s.history
}

// Run executes one pass. Passes on the same instance never overlap.
func (s *Service) Run(ctx context.Context, trigger string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := telemetry.StartSchedulerPass(ctx, trigger)

	started := s.now()
	report, err := s.run(ctx, trigger, started.In(s.cfg.Location))
	elapsed := time.Since(started)

	run := state.Run{Trigger: trigger, StartedAt: started, Duration: elapsed}
	telemetry.SchedulerRunDuration.Observe(elapsed.Seconds())
	if err != nil {
		run.Error = err.Error()
		s.history.Add(run)
		telemetry.SchedulerRunsTotal.WithLabelValues(trigger, "error").Inc()
		telemetry.EndSchedulerPass(span, telemetry.PassOutcome{}, err)
		s.logger.Error().Err(err).Str("trigger", trigger).Msg("scheduling pass failed")
		return nil, err
	}

	run.Considered = report.Considered
	run.Scheduled = len(report.Scheduled)
	run.Unscheduled = len(report.Unscheduled)
	s.history.Add(run)

	telemetry.SchedulerRunsTotal.WithLabelValues(trigger, "ok").Inc()
	telemetry.SchedulerTasksScheduled.Set(float64(run.Scheduled))
	telemetry.SchedulerTasksUnscheduled.Set(float64(run.Unscheduled))
	telemetry.EndSchedulerPass(span, telemetry.PassOutcome{
		Considered:  report.Considered,
		Scheduled:   run.Scheduled,
		Unscheduled: run.Unscheduled,
		Excluded:    len(report.Excluded),
	}, nil)

	s.logger.Info().
		Str("trigger", trigger).
		Int("considered", report.Considered).
		Int("scheduled", run.Scheduled).
		Int("unscheduled", run.Unscheduled).
		Dur("duration", elapsed).
		Msg("scheduling pass complete")

	return report, nil
}

func (s *Service) run(ctx context.Context, trigger string, now time.Time) (*Report, error) {
	report := &Report{
		Trigger:     trigger,
		StartedAt:   now,
		Scheduled:   []string{},
		Unscheduled: []string{},
		Excluded:    []string{},
	}

	var stored []models.Task
	if err := s.db.WithContext(ctx).Preload("Space").Where("completed = ?", false).Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	busy, sourceResults, err := s.externalBusy(ctx)
	if err != nil {
		return nil, err
	}
	report.Sources = sourceResults

	var spaces []models.Space
	if err := s.db.WithContext(ctx).Find(&spaces).Error; err != nil {
		return nil, fmt.Errorf("load spaces: %w", err)
	}
	constraints, invalid := models.BuildConstraints(spaces)
	for name, err := range invalid {
		s.logger.Warn().Err(err).Str("space", name).Msg("space has malformed windows; its movable tasks are skipped")
	}
	if err := s.validator.ValidateConstraints(constraints); err != nil {
		return nil, fmt.Errorf("validate constraints: %w", err)
	}

	byID := make(map[string]*models.Task, len(stored))
	planned := make([]scheduling.Task, 0, len(stored))
	for i := range stored {
		t := &stored[i]
		byID[t.ID] = t
		// Frozen placements stay busy whatever their space; the engine never reads it.
		if _, bad := invalid[t.SpaceName()]; bad && !t.Frozen {
			report.Excluded = append(report.Excluded, t.ID)
			continue
		}
		planned = append(planned, inLocation(t.ToPlanner(t.SpaceName()), s.cfg.Location))
	}

	valid, violations := s.validator.FilterTasks(planned, now)
	for _, v := range violations {
		report.Excluded = append(report.Excluded, v.TaskID)
	}

	_, movable := scheduling.Partition(valid)
	report.Considered = len(movable)

	logger := s.logger
	results := scheduling.Schedule(valid, busy, constraints, scheduling.Options{
		Now:               now,
		FirstMatchWindows: s.cfg.FirstMatchWindows,
		Logger:            &logger,
	})
	report.Results = results

	placed := make(map[string]struct{}, len(results))
	for _, r := range results {
		placed[r.TaskID] = struct{}{}
		report.Scheduled = append(report.Scheduled, r.TaskID)
	}
	for _, t := range movable {
		if _, ok := placed[t.ID]; !ok {
			report.Unscheduled = append(report.Unscheduled, t.ID)
		}
	}

	if err := s.persist(ctx, results, byID); err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(events.EventScheduleUpdate, events.Payload{
			"trigger":     trigger,
			"scheduled":   len(report.Scheduled),
			"unscheduled": len(report.Unscheduled),
		})
	}
	return report, nil
}

// externalBusy fetches enabled calendar sources and stamps LastFetched.
func (s *Service) externalBusy(ctx context.Context) ([]scheduling.Interval, []calendar.SourceResult, error) {
	if s.events == nil {
		return nil, nil, nil
	}

	var sources []models.CalendarSource
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&sources).Error; err != nil {
		return nil, nil, fmt.Errorf("load calendar sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, nil, nil
	}

	evts, results := s.events.FetchAll(ctx, sources)
	telemetry.CalendarEventsImported.Set(float64(len(evts)))

	fetchedAt := s.now()
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}
	if err := s.db.WithContext(ctx).Model(&models.CalendarSource{}).Where("id IN ?", ids).Update("last_fetched", fetchedAt).Error; err != nil {
		return nil, nil, fmt.Errorf("update calendar sources: %w", err)
	}

	for _, res := range results {
		if res.Error != "" && s.bus != nil {
			s.bus.Publish(events.EventCalendarFailed, events.Payload{
				"source_id": res.SourceID,
				"name":      res.Name,
				"error":     res.Error,
			})
		}
	}

	busy := calendar.Intervals(evts)
	for i := range busy {
		busy[i].Start = busy[i].Start.In(s.cfg.Location)
		busy[i].End = busy[i].End.In(s.cfg.Location)
	}
	return busy, results, nil
}

// persist writes every placement and its change log row in one transaction.
func (s *Service) persist(ctx context.Context, results []scheduling.Result, byID map[string]*models.Task) error {
	if len(results) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range results {
			prev := byID[r.TaskID]
			if prev != nil && samePlacement(prev, r) {
				continue
			}

			err := tx.Model(&models.Task{}).Where("id = ?", r.TaskID).Updates(map[string]any{
				"scheduled_start": r.Start,
				"scheduled_end":   r.End,
			}).Error
			if err != nil {
				return fmt.Errorf("persist placement for %s: %w", r.TaskID, err)
			}

			err = changelog.Record(tx, models.ChangeActionReschedule, models.EntityTask, r.TaskID,
				placement(prev), map[string]any{
					"scheduled_start": scheduling.FormatLocal(r.Start),
					"scheduled_end":   scheduling.FormatLocal(r.End),
				})
			if err != nil {
				return fmt.Errorf("record reschedule for %s: %w", r.TaskID, err)
			}
		}
		return nil
	})
}

func samePlacement(t *models.Task, r scheduling.Result) bool {
	return t.ScheduledStart != nil && t.ScheduledEnd != nil &&
		t.ScheduledStart.Equal(r.Start) && t.ScheduledEnd.Equal(r.End)
}

func placement(t *models.Task) map[string]any {
	out := map[string]any{"scheduled_start": nil, "scheduled_end": nil}
	if t == nil {
		return out
	}
	if t.ScheduledStart != nil {
		out["scheduled_start"] = scheduling.FormatLocal(*t.ScheduledStart)
	}
	if t.ScheduledEnd != nil {
		out["scheduled_end"] = scheduling.FormatLocal(*t.ScheduledEnd)
	}
	return out
}

// inLocation moves every instant of t onto loc's wall clock.
func inLocation(t scheduling.Task, loc *time.Location) scheduling.Task {
	conv := func(p *time.Time) *time.Time {
		if p == nil {
			return nil
		}
		v := p.In(loc)
		return &v
	}
	t.Deadline = conv(t.Deadline)
	t.ScheduledStart = conv(t.ScheduledStart)
	t.ScheduledEnd = conv(t.ScheduledEnd)
	t.CreatedAt = t.CreatedAt.In(loc)
	return t
}
