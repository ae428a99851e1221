// Package normalize converts loosely-typed source records into canonical
// events. Field resolution goes through ordered candidate lists because
// every upstream names things differently (startDate vs date_debut vs
// pubDate).
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"agendad/internal/config"
	"agendad/internal/model"
)

// DefaultImage is the global fallback when neither the record nor the
// source's image table yields anything.
const DefaultImage = "/images/default.jpg"

// Candidate field names, tried in order; the first parseable value wins.
var (
	dateKeys = []string{
		"date", "start", "startDate", "start_date", "date_debut",
		"dateDebut", "dtstart", "pubDate", "published", "date_start",
		"firstDate", "datetime",
	}
	locationKeys = []string{
		"location", "lieu", "venue", "place", "nomLieu", "placename",
		"espace",
	}
	addressKeys = []string{
		"fullAddress", "address", "adresse", "adresse_complete",
		"streetAddress", "lieu_adresse",
	}
	titleKeys = []string{
		"title", "titre", "name", "nom", "summary", "label",
	}
	descriptionKeys = []string{
		"description", "descriptif", "longDescription", "content",
		"texte", "chapo",
	}
	urlKeys = []string{
		"url", "link", "permalink", "lien", "canonicalUrl",
	}
	imageKeys = []string{
		"image", "image_url", "imageUrl", "thumbnail", "photo", "visuel",
	}
	categoryKeys = []string{
		"category", "categorie", "theme", "thematique", "type", "tags",
	}
	idKeys = []string{
		"id", "uid", "identifiant", "recordid", "guid", "slug",
	}
)

// Accepted date layouts, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalizer turns RawRecords into Events. DisplayLocation only affects
// the derived DateFormatted string; Event.Date is always UTC.
type Normalizer struct {
	DisplayLocation *time.Location
}

func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{DisplayLocation: loc}
}

// Normalize converts one raw record from the named source into an Event.
// Records without a parseable date are invalid and return ok=false; this
// is the hard validation gate, every other field degrades to a fallback.
func (n *Normalizer) Normalize(raw model.RawRecord, src config.SourceConfig) (model.Event, bool) {
	date, ok := resolveDate(raw)
	if !ok {
		return model.Event{}, false
	}
	date = date.UTC()

	title, _ := firstString(raw, titleKeys)
	title = strings.TrimSpace(title)

	location, _ := firstString(raw, locationKeys)
	location = strings.TrimSpace(location)
	address, _ := firstString(raw, addressKeys)
	address = strings.TrimSpace(address)
	if location == "" && address != "" {
		location = address
	}
	if location == "" {
		location = model.PlaceholderLocation
	}
	if address == "" {
		address = location
	}

	description, _ := firstString(raw, descriptionKeys)
	url, _ := firstString(raw, urlKeys)

	ev := model.Event{
		Title:         title,
		Description:   strings.TrimSpace(description),
		Date:          date,
		DateFormatted: FormatDateFR(date.In(n.DisplayLocation)),
		Location:      location,
		FullAddress:   address,
		Image:         resolveImage(raw, src, title),
		URL:           strings.TrimSpace(url),
		Source:        src.Name,
	}
	ev.ID = resolveID(raw, ev)
	return ev, true
}

// resolveID prefers the source's native id; otherwise it derives a short
// stable hash from (source, title, date, location) so repeated fetches of
// the same underlying item keep the same id across runs.
func resolveID(raw model.RawRecord, ev model.Event) string {
	if native, ok := firstString(raw, idKeys); ok && strings.TrimSpace(native) != "" {
		return strings.TrimSpace(native)
	}
	return DeriveID(ev.Source, ev.Title, ev.Date, ev.Location)
}

// DeriveID hashes the identity tuple into 16 hex chars. Deterministic:
// identical inputs always produce identical ids.
func DeriveID(source, title string, date time.Time, location string) string {
	h := sha256.Sum256([]byte(source + "|" + title + "|" + date.UTC().Format(time.RFC3339) + "|" + location))
	return hex.EncodeToString(h[:8])
}

func resolveDate(raw model.RawRecord) (time.Time, bool) {
	for _, k := range dateKeys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			if !t.IsZero() {
				return t, true
			}
		case *time.Time:
			if t != nil && !t.IsZero() {
				return *t, true
			}
		case string:
			if parsed, err := ParseDate(t); err == nil {
				return parsed, true
			}
		case float64:
			// JSON numbers arrive as float64; treat as unix seconds.
			if t > 0 {
				return time.Unix(int64(t), 0), true
			}
		case int64:
			if t > 0 {
				return time.Unix(t, 0), true
			}
		}
	}
	return time.Time{}, false
}

// ParseDate tries the accepted layouts in order. Layouts without an
// explicit zone are interpreted as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// resolveImage never fails: native image field, then the source's
// category table, then a keyword match of the table against the title,
// then the source default, then the global placeholder. Keyword matching
// walks the table in sorted key order so the resolution is deterministic
// when several keywords match.
func resolveImage(raw model.RawRecord, src config.SourceConfig, title string) string {
	if img, ok := firstString(raw, imageKeys); ok && strings.TrimSpace(img) != "" {
		return strings.TrimSpace(img)
	}

	if len(src.Images) > 0 {
		keywords := make([]string, 0, len(src.Images))
		for k := range src.Images {
			keywords = append(keywords, k)
		}
		sort.Strings(keywords)

		if cat, ok := firstString(raw, categoryKeys); ok {
			cat = strings.ToLower(strings.TrimSpace(cat))
			if img, ok := src.Images[cat]; ok {
				return img
			}
			for _, keyword := range keywords {
				if keyword != "" && strings.Contains(cat, keyword) {
					return src.Images[keyword]
				}
			}
		}
		lowTitle := strings.ToLower(title)
		for _, keyword := range keywords {
			if keyword != "" && strings.Contains(lowTitle, keyword) {
				return src.Images[keyword]
			}
		}
	}

	if src.DefaultImage != "" {
		return src.DefaultImage
	}
	return DefaultImage
}

// firstString returns the first candidate key whose value renders to a
// non-empty string. Non-string scalars are formatted; lists take their
// first element (common for category arrays).
func firstString(raw model.RawRecord, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s := stringify(v); s != "" {
			return s, true
		}
	}
	return "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return stringify(t[0])
		}
		return ""
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	case map[string]any:
		// Nested objects like {"name": "..."} are common for venues.
		for _, k := range []string{"name", "label", "value"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	case fmt.Stringer:
		return t.String()
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
