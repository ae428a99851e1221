package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"agendad/internal/config"
	applog "agendad/internal/log"
	"agendad/internal/model"
)

const (
	// expandHorizon bounds how far into the future recurring events are
	// expanded. The aggregation window is at most a few weeks, so 120
	// days leaves comfortable slack.
	expandHorizon = 120 * 24 * time.Hour

	// maxOccurrencesPerEvent caps runaway RRULEs.
	maxOccurrencesPerEvent = 500
)

// ICalSource fetches an iCalendar feed and turns each VEVENT occurrence
// into a raw record. Recurring events are expanded within expandHorizon.
type ICalSource struct {
	cfg    config.SourceConfig
	client *http.Client

	// now is swappable in tests to pin the expansion horizon.
	now func() time.Time
}

func NewICalSource(cfg config.SourceConfig, client *http.Client) *ICalSource {
	return &ICalSource{cfg: cfg, client: client, now: time.Now}
}

func (s *ICalSource) Name() string { return s.cfg.Name }
func (s *ICalSource) Kind() string { return "ical" }

func (s *ICalSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	resp, err := get(ctx, s.client, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.Name, err)
	}
	defer resp.Body.Close()

	cal, err := ical.ParseCalendar(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.cfg.Name, err)
	}

	return s.recordsFromCalendar(cal), nil
}

// recordsFromCalendar walks the VEVENTs, dropping duplicates by UID (or by
// summary+start when the feed omits UIDs) and expanding recurrences.
//
// Expansion starts at the beginning of the current day, not at the current
// instant: callers filter to a window that opens at startOfDay, so an
// occurrence earlier today is still served.
func (s *ICalSource) recordsFromCalendar(cal *ical.Calendar) []model.RawRecord {
	from := startOfDay(s.now().UTC())
	records := make([]model.RawRecord, 0)
	seen := make(map[string]bool)

	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			applog.Debug("ical: skipping vevent", "source", s.cfg.Name, "reason", err)
			continue
		}

		key := ev.uid
		if key == "" {
			key = ev.summary + "|" + ev.start.Format(time.RFC3339)
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		if ev.rawRRule == "" {
			records = append(records, ev.record(ev.start, false))
			continue
		}

		for _, start := range expandRRule(ev, from, from.Add(expandHorizon)) {
			records = append(records, ev.record(start, true))
		}
	}

	return records
}

// vevent is the slice of a VEVENT the aggregator cares about.
type vevent struct {
	uid         string
	summary     string
	description string
	location    string
	url         string
	start       time.Time
	rawRRule    string
	exDates     []time.Time
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var ev vevent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.uid = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		ev.url = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rawRRule = p.Value
	}

	// EXDATE can appear multiple times, each carrying a comma-separated
	// list of excluded occurrence starts.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, fmt.Errorf("no usable DTSTART: %w", err)
	}
	ev.start = start

	if ev.uid == "" && ev.summary == "" {
		return ev, fmt.Errorf("vevent has neither UID nor SUMMARY")
	}
	return ev, nil
}

// record builds the raw record for one occurrence. Recurring occurrences
// get the start appended to the uid so each instance keeps its own
// identity.
func (ev vevent) record(start time.Time, recurring bool) model.RawRecord {
	rec := model.RawRecord{
		"title": ev.summary,
		"date":  start,
	}
	if ev.description != "" {
		rec["description"] = ev.description
	}
	if ev.location != "" {
		rec["location"] = ev.location
	}
	if ev.url != "" {
		rec["url"] = ev.url
	}
	if ev.uid != "" {
		uid := ev.uid
		if recurring {
			uid += "/" + start.UTC().Format(time.RFC3339)
		}
		rec["uid"] = uid
	}
	return rec
}

// expandRRule returns the occurrence starts of a recurring event within
// [from, until), capped at maxOccurrencesPerEvent. EXDATE exclusions are
// applied so canceled occurrences never reach the feed.
func expandRRule(ev vevent, from, until time.Time) []time.Time {
	r, err := rrule.StrToRRule(ev.rawRRule)
	if err != nil {
		applog.Debug("ical: unparseable RRULE", "uid", ev.uid, "rrule", ev.rawRRule)
		// Fall back to the base occurrence rather than dropping the event.
		return []time.Time{ev.start}
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	starts := set.Between(from.In(ev.start.Location()), until.In(ev.start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}
	return starts
}

// parseICSTime parses the basic EXDATE value forms: UTC date-times,
// floating date-times (read as UTC, matching how DTSTART floats are
// handled) and bare dates.
func parseICSTime(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
