package domain

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var locations *lru.Cache[string, *time.Location]

func init() {
	locations, _ = lru.New[string, *time.Location](128)
}

// LoadLocation resolves an IANA timezone name, caching loaded zones.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, ok := locations.Get(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	locations.Add(name, loc)
	return loc, nil
}

// ComputeNextRun returns the first instant strictly after ref at which s fires,
// in UTC. Hourly schedules fire at the top of every UTC hour; the other
// frequencies fire at s.Time on the local calendar of s.Timezone.
func ComputeNextRun(s *Schedule, ref time.Time) (time.Time, error) {
	if s.Frequency == FrequencyHourly {
		return ref.UTC().Truncate(time.Hour).Add(time.Hour), nil
	}

	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	if s.Time == nil {
		return time.Time{}, fmt.Errorf("%s schedule has no time", s.Frequency)
	}
	hour, minute, err := ParseClock(*s.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", *s.Time, err)
	}

	y, m, d := ref.In(loc).Date()

	switch s.Frequency {
	case FrequencyDaily:
		for i := 0; i <= 2; i++ {
			if t := ResolveLocal(y, m, d+i, hour, minute, loc); t.After(ref) {
				return t.UTC(), nil
			}
		}
	case FrequencyWeekly:
		if s.DayOfWeek == nil {
			return time.Time{}, fmt.Errorf("weekly schedule has no day_of_week")
		}
		want := time.Weekday((*s.DayOfWeek + 1) % 7)
		for i := 0; i <= 14; i++ {
			day := time.Date(y, m, d+i, 0, 0, 0, 0, time.UTC)
			if day.Weekday() != want {
				continue
			}
			if t := ResolveLocal(day.Year(), day.Month(), day.Day(), hour, minute, loc); t.After(ref) {
				return t.UTC(), nil
			}
		}
	case FrequencyMonthly:
		if s.DayOfMonth == nil {
			return time.Time{}, fmt.Errorf("monthly schedule has no day_of_month")
		}
		for i := 0; i <= 2; i++ {
			if t := ResolveLocal(y, m+time.Month(i), *s.DayOfMonth, hour, minute, loc); t.After(ref) {
				return t.UTC(), nil
			}
		}
	default:
		return time.Time{}, fmt.Errorf("unsupported frequency %q", s.Frequency)
	}

	return time.Time{}, fmt.Errorf("no upcoming run for %s schedule", s.Frequency)
}

// ResolveLocal converts a local wall-clock time to an instant in loc.
//
// A wall time that falls in a spring-forward gap is shifted forward by the
// length of the gap (02:30 in a 02:00-03:00 gap becomes 03:30). A wall time
// that occurs twice during a fall-back overlap resolves to the earlier instant.
// Out-of-range day or month values are normalized like time.Date.
func ResolveLocal(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	wall := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)

	// Zone transitions are never closer than a few days apart, so probing a
	// day and a half on either side yields the offsets around any transition
	// near the wall time.
	_, offBefore := wall.Add(-36 * time.Hour).In(loc).Zone()
	_, offAfter := wall.Add(36 * time.Hour).In(loc).Zone()

	var best time.Time
	found := false
	for _, off := range []int{offBefore, offAfter} {
		t := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if !sameWallClock(t, wall) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	if found {
		return best
	}

	return wall.Add(-time.Duration(offBefore) * time.Second).In(loc)
}

func sameWallClock(t, wall time.Time) bool {
	ty, tm, td := t.Date()
	wy, wm, wd := wall.Date()
	return ty == wy && tm == wm && td == wd && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}
