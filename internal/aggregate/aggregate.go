// Package aggregate implements the fan-out/fan-in orchestrator: it runs
// every configured source concurrently, tolerates per-source failure,
// normalizes, deduplicates, windows and sorts the merged result.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agendad/internal/cache"
	"agendad/internal/config"
	applog "agendad/internal/log"
	"agendad/internal/metrics"
	"agendad/internal/model"
	"agendad/internal/normalize"
	"agendad/internal/retry"
	"agendad/internal/source"
)

// Result is the aggregation output served to the presentation layer.
type Result struct {
	Total       int           `json:"total"`
	Events      []model.Event `json:"events"`
	WindowStart time.Time     `json:"windowStart"`
	WindowEnd   time.Time     `json:"windowEnd"`
}

// runner pairs an adapter with its descriptor.
type runner struct {
	src source.Source
	cfg config.SourceConfig
}

// Aggregator owns the configured sources and the shared machinery around
// them. The cache is injected so callers (and tests) control its
// lifecycle; there is no hidden global state.
type Aggregator struct {
	runners      []runner
	cache        *cache.Cache
	norm         *normalize.Normalizer
	policy       retry.Policy
	metrics      *metrics.Metrics
	maxWorkers   int
	fetchTimeout time.Duration
}

// New builds an Aggregator from the configured sources. Unknown source
// kinds are a configuration bug and fail construction.
func New(cfg *config.Config, c *cache.Cache, m *metrics.Metrics) (*Aggregator, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		applog.Error("unknown timezone, using UTC", err, "timezone", cfg.Timezone)
		loc = time.UTC
	}

	client := retry.NewHTTPClient(cfg.Retry.AttemptTimeout)

	runners := make([]runner, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := source.NewFromConfig(sc, client)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runner{src: src, cfg: sc})
	}

	return &Aggregator{
		runners: runners,
		cache:   c,
		norm:    normalize.New(loc),
		policy: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			Backoff:        cfg.Retry.Backoff,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
		},
		metrics:      m,
		maxWorkers:   cfg.MaxConcurrentFetches,
		fetchTimeout: cfg.FetchTimeout,
	}, nil
}

// Fetch runs one aggregation pass over the window [startOfDay(now),
// startOfDay(now)+windowDays) in UTC.
//
// Every source runs concurrently through the bounded worker pool; a source
// that fails after retries contributes zero events and is only logged;
// the pass itself always succeeds ("partial success"). The merged list is
// deduplicated first-seen by id, filtered to the window and stably sorted
// by date, so ties keep source-iteration order.
func (a *Aggregator) Fetch(ctx context.Context, now time.Time, windowDays int) Result {
	if a.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.fetchTimeout)
		defer cancel()
	}

	runID := uuid.NewString()[:8]
	windowStart := startOfDay(now.UTC())
	windowEnd := windowStart.AddDate(0, 0, windowDays)

	applog.Info("aggregation start",
		"run", runID,
		"sources", len(a.runners),
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", windowEnd.Format(time.RFC3339),
	)

	// perSource is indexed by source position so the flatten order (and
	// therefore dedup precedence and sort tie-breaks) is deterministic
	// regardless of goroutine completion order.
	perSource := make([][]model.Event, len(a.runners))

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.maxWorkers)
	for i, r := range a.runners {
		wg.Add(1)
		go func(i int, r runner) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			perSource[i] = a.fetchSource(ctx, runID, r)
		}(i, r)
	}
	wg.Wait()

	seen := make(map[string]bool)
	merged := make([]model.Event, 0)
	for _, events := range perSource {
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			if ev.Date.Before(windowStart) || !ev.Date.Before(windowEnd) {
				continue
			}
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date.Before(merged[j].Date)
	})

	a.metrics.EventsServed.Add(float64(len(merged)))
	applog.Info("aggregation done", "run", runID, "events", len(merged))

	return Result{
		Total:       len(merged),
		Events:      merged,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
}

// fetchSource produces the normalized events of one source, going through
// the TTL cache when the source is configured with one. Failures are
// logged and counted, never propagated.
func (a *Aggregator) fetchSource(ctx context.Context, runID string, r runner) []model.Event {
	start := time.Now()

	var (
		events  []model.Event
		outcome cache.Outcome
		err     error
	)
	if r.cfg.CacheTTL > 0 {
		events, outcome, err = a.cache.GetOrFetch(ctx, r.src.Name(), r.cfg.CacheTTL, func(ctx context.Context) ([]model.Event, error) {
			return a.produce(ctx, r)
		})
		a.metrics.CacheRequests.WithLabelValues(string(outcome)).Inc()
	} else {
		events, err = a.produce(ctx, r)
	}

	a.metrics.FetchDuration.WithLabelValues(r.src.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		a.metrics.SourceFetches.WithLabelValues(r.src.Name(), "error").Inc()
		applog.Error("source failed, skipping", err, "run", runID, "source", r.src.Name(), "kind", r.src.Kind())
		return nil
	}

	a.metrics.SourceFetches.WithLabelValues(r.src.Name(), "ok").Inc()
	applog.Debug("source fetched", "run", runID, "source", r.src.Name(), "events", len(events))
	return events
}

// produce fetches the source under the retry policy and normalizes its raw
// records. Records failing date validation are dropped and counted.
func (a *Aggregator) produce(ctx context.Context, r runner) ([]model.Event, error) {
	var raws []model.RawRecord
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		var ferr error
		raws, ferr = r.src.Fetch(ctx)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		ev, ok := a.norm.Normalize(raw, r.cfg)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	if dropped > 0 {
		a.metrics.RecordsDropped.WithLabelValues(r.src.Name()).Add(float64(dropped))
		applog.Debug("records dropped during normalization", "source", r.src.Name(), "dropped", dropped)
	}
	return events, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
