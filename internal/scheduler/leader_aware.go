/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"

	"github.com/rs/zerolog"
)

// Elector reports and announces leadership changes.
type Elector interface {
	Start(ctx context.Context)
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareRunner runs the autoschedule cron only while this instance is the leader.
type LeaderAwareRunner struct {
	runner   *Runner
	election Elector
	logger   zerolog.Logger
	done     chan struct{}
}

// NewLeaderAware wraps runner with leader election.
func NewLeaderAware(runner *Runner, election Elector, logger zerolog.Logger) *LeaderAwareRunner {
	return &LeaderAwareRunner{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins campaigning and follows leadership changes until ctx ends.
func (l *LeaderAwareRunner) Start(ctx context.Context) {
	l.logger.Info().Msg("starting leader-aware autoschedule")
	l.election.Start(ctx)
	go l.monitorLeadership(ctx)
}

// Stop halts the runner and releases leadership.
func (l *LeaderAwareRunner) Stop() error {
	l.logger.Info().Msg("stopping leader-aware autoschedule")
	l.runner.Stop()
	return l.election.Stop()
}

// Done is closed when the monitor loop exits.
func (l *LeaderAwareRunner) Done() <-chan struct{} {
	return l.done
}

func (l *LeaderAwareRunner) monitorLeadership(ctx context.Context) {
	defer close(l.done)
	leaderCh := l.election.LeaderCh()

	if l.election.IsLeader() {
		l.startRunner(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.runner.Stop()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting autoschedule")
				l.startRunner(ctx)
			} else {
				l.logger.Warn().Msg("lost leadership, stopping autoschedule")
				l.runner.Stop()
			}
		}
	}
}

func (l *LeaderAwareRunner) startRunner(ctx context.Context) {
	if l.runner.Running() {
		return
	}
	if err := l.runner.Start(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to start autoschedule")
	}
}

// IsLeader returns whether this instance is the leader.
func (l *LeaderAwareRunner) IsLeader() bool {
	return l.election.IsLeader()
}
