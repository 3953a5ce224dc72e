// Package dataset holds observed stage-count time series: loading them from
// CSV, writing them back, and synthesizing them from simulated runs.
package dataset

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/engine"
)

// Record is one field observation.
type Record struct {
	Date           time.Time                  `json:"date"`
	DaysSinceStart int                        `json:"days_since_start"`
	Counts         [berry.NumObserved]float64 `json:"counts"` // NaN when not observed
}

// Dataset is an observed time series ordered by DaysSinceStart.
type Dataset struct {
	Source  string   `json:"source,omitempty"`
	Records []Record `json:"records"`
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Days returns the observation days in row order. Duplicates are kept.
func (d *Dataset) Days() []int {
	days := make([]int, len(d.Records))
	for i, r := range d.Records {
		days[i] = r.DaysSinceStart
	}
	return days
}

// LastDay returns the largest observation day, or -1 for an empty dataset.
func (d *Dataset) LastDay() int {
	if len(d.Records) == 0 {
		return -1
	}
	return slices.Max(d.Days())
}

// StartDate returns the calendar date of day 0.
func (d *Dataset) StartDate() time.Time {
	if len(d.Records) == 0 {
		return time.Time{}
	}
	r := d.Records[0]
	for _, rec := range d.Records[1:] {
		if rec.DaysSinceStart < r.DaysSinceStart {
			r = rec
		}
	}
	return r.Date.AddDate(0, 0, -r.DaysSinceStart)
}

// Matrix returns the observed counts in row order.
func (d *Dataset) Matrix() [][berry.NumObserved]float64 {
	m := make([][berry.NumObserved]float64, len(d.Records))
	for i, r := range d.Records {
		m[i] = r.Counts
	}
	return m
}

// InitialCounts seeds the day-0 population from the earliest observation.
// Blue is never observed, so its count is supplied by the caller.
func (d *Dataset) InitialCounts(blue int) engine.InitialCounts {
	var init engine.InitialCounts
	init[berry.StageBlue] = blue
	if len(d.Records) == 0 {
		return init
	}
	first := d.Records[0]
	for _, r := range d.Records[1:] {
		if r.DaysSinceStart < first.DaysSinceStart {
			first = r
		}
	}
	for i, st := range berry.ObservedStages {
		v := first.Counts[i]
		if math.IsNaN(v) || v < 0 {
			continue
		}
		init[st] = int(math.Round(v))
	}
	return init
}

// Totals returns the per-row sum of observed stage counts, skipping NaN cells.
func (d *Dataset) Totals() []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		for _, v := range r.Counts {
			if !math.IsNaN(v) {
				out[i] += v
			}
		}
	}
	return out
}

func (d *Dataset) sortByDay() {
	sort.SliceStable(d.Records, func(i, j int) bool {
		return d.Records[i].DaysSinceStart < d.Records[j].DaysSinceStart
	})
}
