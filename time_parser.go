package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	// Windows hosts ship without a zoneinfo database.
	_ "time/tzdata"
)

const isoDate = "2006-01-02"

// ParseTravelDate parses a journey date stored as YYYY-MM-DD. A full
// RFC3339 timestamp is accepted too; only its calendar date is kept.
func ParseTravelDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(isoDate, s); err == nil {
		return t, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	return time.Time{}, fmt.Errorf("invalid date format '%s'. Use format: YYYY-MM-DD (e.g., 2025-06-12)", s)
}

// ParseClock parses a wall clock time such as "10:00" or "9:30".
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock time '%s'. Use format: HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	return hour, minute, nil
}

// ParseStartTime parses a user supplied start time in loc. Supports:
//   - "2025-06-11 10:00"          (YYYY-MM-DD HH:MM)
//   - "2025-06-11 10:00:30"       (YYYY-MM-DD HH:MM:SS)
//   - "2025-06-11T04:30:00Z"      (RFC3339, zone taken from the string)
func ParseStartTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time format '%s'. Use format: YYYY-MM-DD HH:MM (e.g., 2025-06-11 10:00)", s)
}

// TatkalOpening returns when Tatkal booking opens for a journey on date in
// the given class: LeadDays before the journey, at the AC or non-AC
// opening time of the configured zone.
func TatkalOpening(date time.Time, class string, cfg TatkalConfig) (time.Time, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid tatkal timezone %q: %w", cfg.Timezone, err)
	}

	clock := cfg.NonACOpening
	if IsACClass(class) {
		clock = cfg.ACOpening
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	day := date.AddDate(0, 0, -cfg.LeadDays)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}
