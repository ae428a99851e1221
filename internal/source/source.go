// Package source contains one adapter per upstream kind. Adapters fetch
// raw data and return loosely-typed records; they never decide retry or
// caching policy, the aggregator does.
package source

import (
	"context"
	"fmt"
	"net/http"

	"agendad/internal/config"
	"agendad/internal/model"
)

// Source is one upstream data provider.
//
// Fetch performs the network I/O and returns whatever records the upstream
// had; missing optional fields are simply absent from the records. Any
// network or parse problem comes back as an error value for the caller to
// retry or skip.
type Source interface {
	Name() string
	Kind() string
	Fetch(ctx context.Context) ([]model.RawRecord, error)
}

// NewFromConfig builds the adapter for one source descriptor. The shared
// HTTP client is injected so all adapters reuse one connection pool.
func NewFromConfig(cfg config.SourceConfig, client *http.Client) (Source, error) {
	switch cfg.Kind {
	case "json-api":
		return NewJSONAPISource(cfg, client), nil
	case "ical":
		return NewICalSource(cfg, client), nil
	case "rss":
		return NewRSSSource(cfg, client), nil
	case "scrape":
		return NewScrapeSource(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %s", cfg.Kind)
	}
}

// get issues a plain GET and fails on non-2xx statuses.
func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "agendad/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}
