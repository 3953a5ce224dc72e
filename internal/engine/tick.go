// Package engine provides the day-stepped berry population simulation and
// the parameter plumbing that drives it from a flat candidate vector.
package engine

import (
	"fmt"
	"strings"
	"time"
)

// DaysPerWeek is the harvest cycle length used by WeeklyHarvest.
const DaysPerWeek = 7

// HarvestFunc reports whether the population is harvested on a simulation day.
type HarvestFunc func(day int) bool

// NeverHarvest disables harvesting.
func NeverHarvest(int) bool { return false }

// WeeklyHarvest harvests whenever the calendar date of a simulation day falls
// on weekday. Day 0 is start.
func WeeklyHarvest(start time.Time, weekday time.Weekday) HarvestFunc {
	offset := (int(weekday) - int(start.Weekday()) + DaysPerWeek) % DaysPerWeek
	return func(day int) bool {
		if day < 0 {
			return false
		}
		return day%DaysPerWeek == offset
	}
}

// FridayHarvest is the default policy: pickers go out at the end of the work week.
func FridayHarvest(start time.Time) HarvestFunc {
	return WeeklyHarvest(start, time.Friday)
}

// SimDate returns the calendar date of a simulation day.
func SimDate(start time.Time, day int) time.Time {
	return start.AddDate(0, 0, day)
}

// SimTime returns a human-readable label for a simulation day.
func SimTime(start time.Time, day int) string {
	d := SimDate(start, day)
	return fmt.Sprintf("%s %s (day %d)", d.Format("2006-01-02"), d.Weekday().String()[:3], day)
}

// ParseWeekday maps an English weekday name ("friday", "Fri") to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	if len(name) >= 3 {
		prefix := name[:3]
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if strings.EqualFold(prefix, wd.String()[:3]) {
				return wd, nil
			}
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}
