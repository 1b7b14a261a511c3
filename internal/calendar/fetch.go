/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar imports external ICS feeds as busy intervals and exports
// the planned schedule as an iCalendar document.
package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/telemetry"
)

// ErrFetch wraps every failure to retrieve or parse a feed.
var ErrFetch = errors.New("calendar fetch failed")

const maxFeedBytes = 8 << 20

// FeedCache stores raw feed bodies between passes.
type FeedCache interface {
	GetFeed(ctx context.Context, url string, dest any) bool
	SetFeed(ctx context.Context, url string, value any) error
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	DaysAhead int
	Timeout   time.Duration
	Location  *time.Location // Wall-clock zone for feed times; defaults to time.Local
}

// Fetcher downloads and expands ICS feeds.
type Fetcher struct {
	client *http.Client
	cache  FeedCache
	logger zerolog.Logger
	cfg    FetcherConfig
	now    func() time.Time
	limit  int64
}

// NewFetcher creates a fetcher. cache may be nil.
func NewFetcher(cfg FetcherConfig, cache FeedCache, logger zerolog.Logger) *Fetcher {
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger.With().Str("component", "calendar").Logger(),
		cfg:    cfg,
		now:    time.Now,
		limit:  maxFeedBytes,
	}
}

// Window returns the range of events kept by Fetch.
func (f *Fetcher) Window() (time.Time, time.Time) {
	now := f.now().In(f.cfg.Location)
	return now, now.AddDate(0, 0, f.cfg.DaysAhead)
}

// Fetch downloads url and returns its events overlapping the fetch window.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Event, error) {
	body, err := f.body(ctx, url)
	if err != nil {
		telemetry.CalendarFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	vevents, err := ParseICS(bytes.NewReader(body), f.cfg.Location)
	if err != nil {
		telemetry.CalendarFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}

	from, to := f.Window()
	evts, err := Expand(vevents, from, to, "external")
	if err != nil {
		telemetry.CalendarFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}

	telemetry.CalendarFetchTotal.WithLabelValues("ok").Inc()
	return evts, nil
}

func (f *Fetcher) body(ctx context.Context, url string) ([]byte, error) {
	if f.cache != nil {
		var cached []byte
		if f.cache.GetFeed(ctx, url, &cached) {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL(url), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	if int64(len(body)) > f.limit {
		return nil, fmt.Errorf("%w: %s: feed exceeds %d bytes", ErrFetch, url, f.limit)
	}

	if f.cache != nil {
		if err := f.cache.SetFeed(ctx, url, body); err != nil {
			f.logger.Debug().Err(err).Str("url", url).Msg("failed to cache feed")
		}
	}
	return body, nil
}

// httpURL maps webcal:// subscriptions onto https.
func httpURL(url string) string {
	if len(url) > 9 && strings.EqualFold(url[:9], "webcal://") {
		return "https://" + url[9:]
	}
	return url
}

// SourceResult reports the outcome for one calendar source.
type SourceResult struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Events   int    `json:"events"`
	Error    string `json:"error,omitempty"`
}

// FetchAll fetches every enabled source. A failing source is logged and
// skipped; it never aborts the others.
func (f *Fetcher) FetchAll(ctx context.Context, sources []models.CalendarSource) ([]Event, []SourceResult) {
	var all []Event
	results := make([]SourceResult, 0, len(sources))

	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		res := SourceResult{SourceID: src.ID, Name: src.Name}

		fetchCtx, span := telemetry.StartSourceFetch(ctx, src.Name)
		evts, err := f.Fetch(fetchCtx, src.ICSURL)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			f.logger.Warn().Err(err).Str("source", src.Name).Msg("skipping calendar source")
			res.Error = err.Error()
			results = append(results, res)
			continue
		}

		res.Events = len(evts)
		results = append(results, res)
		all = append(all, evts...)
	}

	return all, results
}
