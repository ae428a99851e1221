package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"agendad/internal/config"
)

const pageWithGraph = `<!DOCTYPE html>
<html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@graph": [
    {
      "@type": "MusicEvent",
      "name": "Festival d'été",
      "startDate": "2025-07-01T20:00:00+02:00",
      "url": "https://example.org/festival",
      "image": ["https://example.org/festival.jpg"],
      "location": {
        "@type": "Place",
        "name": "Esplanade",
        "address": {
          "@type": "PostalAddress",
          "streetAddress": "1 quai des Arts",
          "postalCode": "44000",
          "addressLocality": "Nantes"
        }
      }
    },
    {"@type": "WebSite", "name": "irrelevant"}
  ]
}
</script>
<script type="application/ld+json">not even json</script>
<script type="application/ld+json">
[{"@type": "Event", "name": "Brocante", "startDate": "2025-06-15", "location": {"name": "Halles", "address": "Place des Halles"}}]
</script>
</head><body></body></html>`

func TestExtractLDEvents(t *testing.T) {
	records, err := extractLDEvents(pageWithGraph)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (got %v)", len(records), records)
	}

	fest := records[0]
	if fest["title"] != "Festival d'été" {
		t.Errorf("title = %v", fest["title"])
	}
	if fest["startDate"] != "2025-07-01T20:00:00+02:00" {
		t.Errorf("startDate = %v", fest["startDate"])
	}
	if fest["image"] != "https://example.org/festival.jpg" {
		t.Errorf("image = %v, array form not unwrapped", fest["image"])
	}
	if fest["location"] != "Esplanade" {
		t.Errorf("location = %v", fest["location"])
	}
	if fest["address"] != "1 quai des Arts, 44000, Nantes" {
		t.Errorf("address = %v", fest["address"])
	}

	broc := records[1]
	if broc["address"] != "Place des Halles" {
		t.Errorf("plain string address = %v", broc["address"])
	}
}

func TestScrapeFetchPlainPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pageWithGraph))
	}))
	t.Cleanup(srv.Close)

	s := NewScrapeSource(config.SourceConfig{Name: "agenda", URL: srv.URL}, srv.Client())
	records, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}

func TestScrapeEnrichImages(t *testing.T) {
	itemCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/item", func(w http.ResponseWriter, r *http.Request) {
		itemCalls++
		_, _ = w.Write([]byte(`<html><head><meta property="og:image" content="https://cdn.example.org/og.jpg"></head></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	listing := `<html><head><script type="application/ld+json">
	[
	  {"@type": "Event", "name": "Sans image", "startDate": "2025-06-15", "url": "` + srv.URL + `/item"},
	  {"@type": "Event", "name": "Avec image", "startDate": "2025-06-16", "url": "` + srv.URL + `/item", "image": "https://x/own.jpg"}
	]
	</script></head></html>`

	s := NewScrapeSource(config.SourceConfig{Name: "agenda", URL: srv.URL, Enrich: true}, srv.Client())
	s.fetchHTML = func(ctx context.Context, url string) (string, error) {
		return listing, nil
	}

	records, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0]["image"] != "https://cdn.example.org/og.jpg" {
		t.Errorf("image = %v, og:image enrichment missing", records[0]["image"])
	}
	if records[1]["image"] != "https://x/own.jpg" {
		t.Errorf("image = %v, existing image must not be overwritten", records[1]["image"])
	}
	if itemCalls != 1 {
		t.Errorf("item page fetched %d times, want 1 (only the imageless item)", itemCalls)
	}
}
