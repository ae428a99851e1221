package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"agendad/internal/config"
	applog "agendad/internal/log"
	"agendad/internal/model"
)

// maxEnrichLookups bounds the per-item og:image fetches of one scrape
// pass. Enrichment is best-effort; a partial pass is fine.
const maxEnrichLookups = 20

// ScrapeSource extracts structured event payloads from an HTML page:
// schema.org Event objects embedded in ld+json script blocks. Pages whose
// markup is injected client-side can be fetched through headless Chromium
// (cfg.Render); items without an image can be enriched with the og:image
// of their own listing page (cfg.Enrich).
type ScrapeSource struct {
	cfg    config.SourceConfig
	client *http.Client

	// fetchHTML is swappable in tests; defaults to plain GET or the
	// chromedp-rendered fetch depending on cfg.Render.
	fetchHTML func(ctx context.Context, url string) (string, error)
}

func NewScrapeSource(cfg config.SourceConfig, client *http.Client) *ScrapeSource {
	s := &ScrapeSource{cfg: cfg, client: client}
	if cfg.Render {
		s.fetchHTML = renderHTML
	} else {
		s.fetchHTML = s.plainHTML
	}
	return s
}

func (s *ScrapeSource) Name() string { return s.cfg.Name }
func (s *ScrapeSource) Kind() string { return "scrape" }

func (s *ScrapeSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	html, err := s.fetchHTML(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.Name, err)
	}

	records, err := extractLDEvents(html)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.cfg.Name, err)
	}

	if s.cfg.Enrich {
		s.enrichImages(ctx, records)
	}
	return records, nil
}

func (s *ScrapeSource) plainHTML(ctx context.Context, url string) (string, error) {
	resp, err := get(ctx, s.client, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	return doc.Html()
}

// extractLDEvents scans every ld+json script block for schema.org Event
// payloads. Blocks that fail to parse are skipped; scraped pages routinely
// carry broken JSON next to valid blocks.
func extractLDEvents(html string) ([]model.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	records := make([]model.RawRecord, 0)
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return
		}
		for _, node := range ldNodes(payload) {
			if rec, ok := ldEventRecord(node); ok {
				records = append(records, rec)
			}
		}
	})
	return records, nil
}

// ldNodes flattens an ld+json payload into candidate objects: a single
// object, a top-level array, or an @graph array.
func ldNodes(payload any) []map[string]any {
	switch v := payload.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			return ldNodes(graph)
		}
		return []map[string]any{v}
	default:
		return nil
	}
}

// ldEventRecord maps a schema.org Event object into a raw record. The
// @type check accepts subtypes (MusicEvent, TheaterEvent, Festival...).
func ldEventRecord(obj map[string]any) (model.RawRecord, bool) {
	typ, _ := obj["@type"].(string)
	if !strings.Contains(typ, "Event") && typ != "Festival" {
		return nil, false
	}

	rec := model.RawRecord{}
	if name, ok := obj["name"].(string); ok {
		rec["title"] = name
	}
	if start, ok := obj["startDate"].(string); ok {
		rec["startDate"] = start
	}
	if desc, ok := obj["description"].(string); ok {
		rec["description"] = desc
	}
	if url, ok := obj["url"].(string); ok {
		rec["url"] = url
	}
	if img := ldImage(obj["image"]); img != "" {
		rec["image"] = img
	}

	if place, ok := obj["location"].(map[string]any); ok {
		if name, ok := place["name"].(string); ok {
			rec["location"] = name
		}
		if addr := ldAddress(place["address"]); addr != "" {
			rec["address"] = addr
		}
	}
	return rec, true
}

// ldImage handles the image shapes seen in the wild: a bare URL, an array
// of URLs, or an ImageObject.
func ldImage(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case []any:
		if len(img) > 0 {
			return ldImage(img[0])
		}
	case map[string]any:
		if url, ok := img["url"].(string); ok {
			return url
		}
	}
	return ""
}

// ldAddress renders a PostalAddress (or plain string) into one line.
func ldAddress(v any) string {
	switch addr := v.(type) {
	case string:
		return addr
	case map[string]any:
		parts := make([]string, 0, 3)
		for _, k := range []string{"streetAddress", "postalCode", "addressLocality"} {
			if s, ok := addr[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// enrichImages fills missing images with the og:image of each item's own
// page. These are the expensive secondary calls that put scrape sources
// behind the TTL cache.
func (s *ScrapeSource) enrichImages(ctx context.Context, records []model.RawRecord) {
	lookups := 0
	for _, rec := range records {
		if lookups >= maxEnrichLookups || ctx.Err() != nil {
			return
		}
		if _, ok := rec["image"]; ok {
			continue
		}
		url, ok := rec["url"].(string)
		if !ok || url == "" {
			continue
		}

		lookups++
		img, err := s.ogImage(ctx, url)
		if err != nil {
			applog.Debug("scrape: og:image lookup failed", "source", s.cfg.Name, "url", url, "reason", err)
			continue
		}
		if img != "" {
			rec["image"] = img
		}
	}
}

func (s *ScrapeSource) ogImage(ctx context.Context, url string) (string, error) {
	resp, err := get(ctx, s.client, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	img, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	return img, nil
}
