package pricing

import (
	"math"
	"time"
)

// DateOnly drops the clock part of t and pins it to UTC, keeping t's calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NightsBetween returns the calendar-day difference. It is negative or zero
// when checkOut is not after checkIn.
func NightsBetween(checkIn, checkOut time.Time) int {
	diff := DateOnly(checkOut).Sub(DateOnly(checkIn))
	return int(math.Round(diff.Hours() / 24))
}

// WeekStartOf returns the Monday on or before t.
func WeekStartOf(t time.Time) time.Time {
	day := DateOnly(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekStartsCoveringStay returns the Monday on or before checkIn followed by
// every later Monday that still falls before checkOut.
func WeekStartsCoveringStay(checkIn, checkOut time.Time) []time.Time {
	end := DateOnly(checkOut)

	weeks := make([]time.Time, 0, 4)
	for w := WeekStartOf(checkIn); w.Before(end); w = w.AddDate(0, 0, 7) {
		weeks = append(weeks, w)
	}
	return weeks
}

// IsHighSeason reports whether date falls in June through September.
func IsHighSeason(date time.Time) bool {
	m := date.Month()
	return m >= time.June && m <= time.September
}
