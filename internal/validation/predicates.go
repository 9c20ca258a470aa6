package validation

import (
	"fmt"
	"time"
)

// RecentDate accepts dates that are not in the future and no older than window
func RecentDate(now func() time.Time, window time.Duration) Predicate {
	return func(value any, _ map[string]any) error {
		s, ok := value.(string)
		if !ok {
			return ErrInvalid
		}
		t, ok := ParseDate(s)
		if !ok {
			return ErrInvalid
		}
		current := now()
		// Calendar dates parse as midnight UTC, so compare against the end of today.
		if t.After(current) && !sameDay(t, current) {
			return fmt.Errorf("date cannot be in the future")
		}
		if t.Before(current.Add(-window)) {
			return fmt.Errorf("date must be within the last %d days", int(window.Hours()/24))
		}
		return nil
	}
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// Predicates returns the named predicates resource manifests may reference
func Predicates(now func() time.Time) map[string]Predicate {
	if now == nil {
		now = time.Now
	}
	return map[string]Predicate{
		"recentDate": RecentDate(now, 30*24*time.Hour),
		"notFuture":  RecentDate(now, 100*365*24*time.Hour),
	}
}
