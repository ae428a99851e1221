package normalize

import (
	"fmt"
	"time"
)

var frDays = [...]string{
	"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
}

var frMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// FormatDateFR renders t for display, e.g. "samedi 4 janvier 2025, 18h30".
// Midnight is treated as date-only (most all-day listings carry no time).
func FormatDateFR(t time.Time) string {
	s := fmt.Sprintf("%s %d %s %d",
		frDays[t.Weekday()], t.Day(), frMonths[t.Month()-1], t.Year())
	if t.Hour() == 0 && t.Minute() == 0 {
		return s
	}
	return fmt.Sprintf("%s, %dh%02d", s, t.Hour(), t.Minute())
}
