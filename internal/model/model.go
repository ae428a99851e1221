package model

import "time"

// PlaceholderLocation is the display value used when a source provides no
// usable venue or address information.
const PlaceholderLocation = "Lieu non spécifié"

// RawRecord is a loosely-typed record as returned by a source adapter.
// Field names are source-specific (startDate vs date_debut vs pubDate);
// the normalizer resolves them through ordered candidate lists.
type RawRecord map[string]any

// Event is the canonical, normalized event record served to consumers.
// Instances are created fresh on every aggregation pass and never mutated
// afterwards.
type Event struct {
	// ID is a stable identity key: the source's native id when present,
	// otherwise a short hash derived from (source, title, date, location).
	ID string `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// Date is the event start as a UTC instant. Records without a
	// parseable date never become Events.
	Date time.Time `json:"date"`

	// DateFormatted is a French-locale display rendering of Date.
	// Derived, not authoritative.
	DateFormatted string `json:"dateFormatted"`

	Location    string `json:"location"`
	FullAddress string `json:"fullAddress"`

	// Image is a URL or path resolved from the source's category table,
	// or a placeholder. Never empty.
	Image string `json:"image"`

	// URL links to the original listing; may be empty.
	URL string `json:"url"`

	// Source names the adapter this event came from.
	Source string `json:"source"`
}
