package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/berrysim/internal/berry"
)

// Column names used in dataset CSV files.
const (
	ColDate = "date"
	ColDays = "days_since_start"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Load reads a dataset CSV from path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	d.Source = path
	return d, nil
}

// Read parses a dataset from CSV. The header must contain a date column and
// one column per observed stage; days_since_start is optional and derived
// from the earliest date when absent or blank. Blank count cells become NaN.
func Read(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty dataset")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	dateIdx, ok := cols[ColDate]
	if !ok {
		return nil, fmt.Errorf("missing %q column", ColDate)
	}
	daysIdx, hasDays := cols[ColDays]
	var stageIdx [berry.NumObserved]int
	for i, st := range berry.ObservedStages {
		idx, ok := cols[st.String()]
		if !ok {
			return nil, fmt.Errorf("missing %q column", st.String())
		}
		stageIdx[i] = idx
	}

	d := &Dataset{}
	var needDays []int
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var rec Record
		rec.Date, err = parseDate(row[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if hasDays && strings.TrimSpace(row[daysIdx]) != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[daysIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parse %s: %w", line, ColDays, err)
			}
			rec.DaysSinceStart = int(math.Round(v))
		} else {
			needDays = append(needDays, len(d.Records))
		}
		for i, idx := range stageIdx {
			rec.Counts[i], err = parseCount(row[idx])
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, berry.ObservedStages[i], err)
			}
		}
		d.Records = append(d.Records, rec)
	}

	if len(d.Records) == 0 {
		return nil, errors.New("dataset has no rows")
	}
	if len(needDays) > 0 {
		start := d.Records[0].Date
		for _, r := range d.Records[1:] {
			if r.Date.Before(start) {
				start = r.Date
			}
		}
		for _, i := range needDays {
			d.Records[i].DaysSinceStart = int(d.Records[i].Date.Sub(start).Hours() / 24)
		}
	}
	d.sortByDay()
	return d, nil
}

// Write emits the dataset as CSV with a full header.
func (d *Dataset) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{ColDate, ColDays}
	for _, st := range berry.ObservedStages {
		header = append(header, st.String())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range d.Records {
		row := []string{r.Date.Format("2006-01-02"), strconv.Itoa(r.DaysSinceStart)}
		for _, v := range r.Counts {
			if math.IsNaN(v) {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the dataset to path.
func (d *Dataset) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	return f.Close()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseCount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
