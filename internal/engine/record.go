package engine

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/berrysim/internal/berry"
)

// DayRecord is the observable snapshot of a population on one day.
type DayRecord struct {
	Day        int
	Counts     [berry.NumStages]int
	NewBerries int // Cumulative arrivals up to and including this day
}

// Count returns the number of berries in stage s.
func (r DayRecord) Count(s berry.Stage) int {
	if int(s) >= len(r.Counts) {
		return 0
	}
	return r.Counts[s]
}

// Observed returns the counts of the five observed stages in column order.
func (r DayRecord) Observed() [berry.NumObserved]float64 {
	var out [berry.NumObserved]float64
	for i, st := range berry.ObservedStages {
		out[i] = float64(r.Counts[st])
	}
	return out
}

// Total returns the number of berries ever created up to this day.
func (r DayRecord) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// MarshalJSON flattens the record into stage-named keys:
// {"day":3,"green":10,...,"lost":1,"new_berries":4}.
func (r DayRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, berry.NumStages+2)
	m["day"] = r.Day
	m["new_berries"] = r.NewBerries
	for _, st := range berry.AllStages {
		m[st.String()] = r.Counts[st]
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the flattened form written by MarshalJSON.
func (r *DayRecord) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode day record: %w", err)
	}
	*r = DayRecord{Day: m["day"], NewBerries: m["new_berries"]}
	for _, st := range berry.AllStages {
		r.Counts[st] = m[st.String()]
	}
	return nil
}
