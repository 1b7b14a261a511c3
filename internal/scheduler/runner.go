/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRunTimeout bounds a single cron-triggered pass.
const DefaultRunTimeout = 5 * time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Passer runs a scheduling pass.
type Passer interface {
	Run(ctx context.Context, trigger string) (*Report, error)
}

// Runner triggers scheduling passes on a cron spec.
type Runner struct {
	svc     Passer
	spec    string
	loc     *time.Location
	timeout time.Duration
	logger  zerolog.Logger

	mu sync.Mutex
	c  *cron.Cron
}

// NewRunner validates spec and returns a stopped runner.
func NewRunner(svc Passer, spec string, loc *time.Location, logger zerolog.Logger) (*Runner, error) {
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid autoschedule cron %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Runner{
		svc:     svc,
		spec:    spec,
		loc:     loc,
		timeout: DefaultRunTimeout,
		logger:  logger.With().Str("component", "autoschedule").Logger(),
	}, nil
}

// Start schedules passes until Stop is called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.spec, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("register autoschedule job: %w", err)
	}
	c.Start()
	r.c = c

	r.logger.Info().Str("spec", r.spec).Str("tz", r.loc.String()).Msg("autoschedule started")
	return nil
}

// Stop halts the cron and waits for a running pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info().Msg("autoschedule stopped")
}

// Running reports whether the cron is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c != nil
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.svc.Run(runCtx, TriggerCron); err != nil {
		r.logger.Warn().Err(err).Msg("autoschedule pass failed")
	}
}
