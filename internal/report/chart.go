// Package report renders fit results for people: a PNG chart of observed
// against simulated stage counts and plain-text summary tables.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
)

// Chart dimensions in pixels.
const (
	ChartWidth  = 1200
	ChartHeight = 600
)

// RenderChart draws one line per observed stage for the simulated series and
// overlays the observed counts as dots in the same colour. obs may be nil.
func RenderChart(w io.Writer, title string, obs *dataset.Dataset, full []engine.DayRecord) error {
	if len(full) < 2 {
		return errors.New("need at least two simulated days to chart")
	}

	days := make([]float64, len(full))
	for i, rec := range full {
		days[i] = float64(rec.Day)
	}

	var series []chart.Series
	for i, st := range berry.ObservedStages {
		color := chart.GetDefaultColor(i)

		simY := make([]float64, len(full))
		for d, rec := range full {
			simY[d] = float64(rec.Count(st))
		}
		series = append(series, chart.ContinuousSeries{
			Name:    st.String(),
			XValues: days,
			YValues: simY,
			Style:   chart.Style{StrokeColor: color, StrokeWidth: 2.0},
		})

		if obs == nil {
			continue
		}
		var ox, oy []float64
		for _, r := range obs.Records {
			if v := r.Counts[i]; !math.IsNaN(v) {
				ox = append(ox, float64(r.DaysSinceStart))
				oy = append(oy, v)
			}
		}
		if len(ox) < 2 {
			continue
		}
		series = append(series, chart.ContinuousSeries{
			Name:    st.String() + " (observed)",
			XValues: ox,
			YValues: oy,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4.0,
				DotColor:    color,
			},
		})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  ChartWidth,
		Height: ChartHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "day",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "berries",
			Style: chart.Style{FontSize: 10.0},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
