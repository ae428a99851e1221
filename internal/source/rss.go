package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"agendad/internal/config"
	"agendad/internal/model"
)

// RSSSource fetches an RSS or Atom feed and maps each item into a raw
// record. Feeds are used by a handful of upstream newsletters that publish
// event announcements.
type RSSSource struct {
	cfg    config.SourceConfig
	parser *gofeed.Parser
}

func NewRSSSource(cfg config.SourceConfig, client *http.Client) *RSSSource {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = "agendad/1.0"
	return &RSSSource{cfg: cfg, parser: p}
}

func (s *RSSSource) Name() string { return s.cfg.Name }
func (s *RSSSource) Kind() string { return "rss" }

func (s *RSSSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	feed, err := s.parser.ParseURLWithContext(s.cfg.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.Name, err)
	}

	records := make([]model.RawRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		rec := model.RawRecord{
			"title": item.Title,
			"url":   item.Link,
		}
		if item.GUID != "" {
			rec["guid"] = item.GUID
		}
		if item.PublishedParsed != nil {
			rec["pubDate"] = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			rec["pubDate"] = *item.UpdatedParsed
		}

		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		if desc != "" {
			rec["description"] = stripHTML(desc)
		}
		if item.Image != nil && item.Image.URL != "" {
			rec["image"] = item.Image.URL
		}
		if len(item.Categories) > 0 {
			rec["category"] = item.Categories[0]
		}
		records = append(records, rec)
	}
	return records, nil
}

// stripHTML drops tags and collapses whitespace; feed descriptions often
// embed markup.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
