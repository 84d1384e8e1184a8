// Honolytics - Web Analytics SDK and Local Metrics Engine
// Copyright 2026 Honolytics Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/honolytics/honolytics-go

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/honolytics/honolytics-go/internal/collect"
)

// defaultBreakdownLimit caps breakdown lists when the caller passes a
// non-positive limit.
const defaultBreakdownLimit = 10

// aggregator computes all derived metrics over a raw event/session log.
// Every adapter delegates here so the numbers are identical regardless of
// the backing store. Breakdown lists sort descending by their ranking
// metric; buckets with equal metrics keep an unspecified relative order
// (they come out of a map and no secondary key is applied).
type aggregator struct {
	geo GeoLookup
}

// inWindow reports whether an epoch-ms timestamp falls in the inclusive
// [start, end] window.
func inWindow(ts int64, start, end time.Time) bool {
	return ts >= start.UnixMilli() && ts <= end.UnixMilli()
}

// filterEvents returns the events inside the window, preserving order.
func filterEvents(events []Event, start, end time.Time) []Event {
	filtered := make([]Event, 0, len(events))
	for _, e := range events {
		if inWindow(e.Timestamp, start, end) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// timeseries groups events into per-UTC-day points, date ascending.
func (a aggregator) timeseries(events []Event) []TimeseriesPoint {
	type dayAccum struct {
		users     map[string]struct{}
		sessions  map[string]struct{}
		pageviews int
	}

	byDate := make(map[string]*dayAccum)
	for _, e := range events {
		date := time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02")
		day, ok := byDate[date]
		if !ok {
			day = &dayAccum{
				users:    make(map[string]struct{}),
				sessions: make(map[string]struct{}),
			}
			byDate[date] = day
		}
		if e.UserID != "" {
			day.users[e.UserID] = struct{}{}
		}
		day.sessions[e.SessionID] = struct{}{}
		if e.Event == EventTypePageview {
			day.pageviews++
		}
	}

	points := make([]TimeseriesPoint, 0, len(byDate))
	for date, day := range byDate {
		points = append(points, TimeseriesPoint{
			Date:      date,
			Users:     len(day.users),
			Sessions:  len(day.sessions),
			Pageviews: day.pageviews,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// topPages ranks pageview URLs by view count. The duration average covers
// only events carrying a positive duration; a page with none reports 0.
func (a aggregator) topPages(events []Event, limit int) []PageStat {
	type pageAccum struct {
		views         int
		totalDuration int64
		durationCount int
	}

	pages := make(map[string]*pageAccum)
	for _, e := range events {
		if e.Event != EventTypePageview {
			continue
		}
		p, ok := pages[e.URL]
		if !ok {
			p = &pageAccum{}
			pages[e.URL] = p
		}
		p.views++
		if e.Duration > 0 {
			p.totalDuration += e.Duration
			p.durationCount++
		}
	}

	stats := make([]PageStat, 0, len(pages))
	for url, p := range pages {
		avg := 0.0
		if p.durationCount > 0 {
			avg = float64(p.totalDuration) / float64(p.durationCount)
		}
		stats = append(stats, PageStat{URL: url, Views: p.views, AvgDuration: avg})
	}

	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Views > stats[j].Views })
	return truncate(stats, limit)
}

// countries ranks geo buckets by distinct-user count. Without a GeoLookup
// every event lands in "Unknown".
func (a aggregator) countries(events []Event, limit int) []CountryStat {
	buckets := distinctUsersBy(events, func(e Event) (string, bool) {
		return lookupCountry(a.geo, e.IP), true
	})

	stats := make([]CountryStat, 0, len(buckets))
	for country, users := range buckets {
		stats = append(stats, CountryStat{Country: country, Users: len(users)})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Users > stats[j].Users })
	return truncate(stats, limit)
}

// browsers ranks parsed browser names by distinct-user count. Events
// without a user agent are skipped entirely.
func (a aggregator) browsers(events []Event, limit int) []BrowserStat {
	buckets := distinctUsersBy(events, func(e Event) (string, bool) {
		if e.UserAgent == "" {
			return "", false
		}
		return collect.ParseUserAgent(e.UserAgent).Browser, true
	})

	stats := make([]BrowserStat, 0, len(buckets))
	for browser, users := range buckets {
		stats = append(stats, BrowserStat{Browser: browser, Users: len(users)})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Users > stats[j].Users })
	return truncate(stats, limit)
}

// devices ranks parsed device classes by distinct-user count. Events
// without a user agent are skipped entirely.
func (a aggregator) devices(events []Event, limit int) []DeviceStat {
	buckets := distinctUsersBy(events, func(e Event) (string, bool) {
		if e.UserAgent == "" {
			return "", false
		}
		return collect.ParseUserAgent(e.UserAgent).Device, true
	})

	stats := make([]DeviceStat, 0, len(buckets))
	for device, users := range buckets {
		stats = append(stats, DeviceStat{Device: device, Users: len(users)})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Users > stats[j].Users })
	return truncate(stats, limit)
}

// totals computes window-wide counts. Users, sessions and pageviews come
// from the event log; avgDuration comes from session records whose start
// falls in the window, with a missing EndTime contributing 0 seconds. That
// skews the average downward as open sessions accumulate; the behavior is
// inherited and consumers depend on the existing numbers.
func (a aggregator) totals(events []Event, sessions []Session) Totals {
	users := make(map[string]struct{})
	sessionIDs := make(map[string]struct{})
	pageviews := 0

	for _, e := range events {
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		sessionIDs[e.SessionID] = struct{}{}
		if e.Event == EventTypePageview {
			pageviews++
		}
	}

	avg := 0.0
	if len(sessions) > 0 {
		var total float64
		for _, s := range sessions {
			if s.EndTime > s.StartTime {
				total += float64(s.EndTime-s.StartTime) / 1000
			}
		}
		avg = total / float64(len(sessions))
	}

	return Totals{
		Users:       len(users),
		Sessions:    len(sessionIDs),
		Pageviews:   pageviews,
		AvgDuration: avg,
	}
}

// distinctUsersBy buckets events by a derived dimension and collects the
// distinct user ids per bucket. Events the keyFn rejects are skipped;
// events without a user id still create the bucket but add no user.
func distinctUsersBy(events []Event, keyFn func(Event) (string, bool)) map[string]map[string]struct{} {
	buckets := make(map[string]map[string]struct{})
	for _, e := range events {
		key, ok := keyFn(e)
		if !ok {
			continue
		}
		users, ok := buckets[key]
		if !ok {
			users = make(map[string]struct{})
			buckets[key] = users
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	return buckets
}

// truncate caps a breakdown list at limit, defaulting to 10.
func truncate[T any](stats []T, limit int) []T {
	if limit <= 0 {
		limit = defaultBreakdownLimit
	}
	if len(stats) > limit {
		return stats[:limit]
	}
	return stats
}

// queryFullMetrics runs the six aggregate queries concurrently against an
// adapter and assembles one result. The queries have no ordering dependency
// between them.
func queryFullMetrics(ctx context.Context, a Adapter, start, end time.Time) (*FullMetrics, error) {
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		firstErr   error
		totals     Totals
		timeseries []TimeseriesPoint
		topPages   []PageStat
		countries  []CountryStat
		browsers   []BrowserStat
		devices    []DeviceStat
	)

	record := func(err error) {
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}

	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(fn())
		}()
	}

	run(func() (err error) { totals, err = a.QueryTotals(ctx, start, end); return })
	run(func() (err error) { timeseries, err = a.QueryMetrics(ctx, start, end); return })
	run(func() (err error) { topPages, err = a.QueryTopPages(ctx, start, end, defaultBreakdownLimit); return })
	run(func() (err error) { countries, err = a.QueryCountries(ctx, start, end, defaultBreakdownLimit); return })
	run(func() (err error) { browsers, err = a.QueryBrowsers(ctx, start, end, defaultBreakdownLimit); return })
	run(func() (err error) { devices, err = a.QueryDevices(ctx, start, end, defaultBreakdownLimit); return })

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	return &FullMetrics{
		Totals:     totals,
		Timeseries: timeseries,
		Breakdowns: Breakdowns{
			TopPages:  topPages,
			Countries: countries,
			Browsers:  browsers,
			Devices:   devices,
		},
	}, nil
}
