package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/persistence"
)

// StageError is the fit quality of one observed stage.
type StageError struct {
	Stage berry.Stage
	RMSE  float64 // NaN when the stage has no observed cells
	Cells int
}

// CompareStages computes per-stage root-mean-square error between observed
// rows and the simulated series on the same days. NaN cells are skipped.
func CompareStages(obs *dataset.Dataset, full []engine.DayRecord) [berry.NumObserved]StageError {
	var out [berry.NumObserved]StageError
	var sum [berry.NumObserved]float64
	for i, st := range berry.ObservedStages {
		out[i].Stage = st
	}
	for _, r := range obs.Records {
		if r.DaysSinceStart < 0 || r.DaysSinceStart >= len(full) {
			continue
		}
		sim := full[r.DaysSinceStart].Observed()
		for i, v := range r.Counts {
			if math.IsNaN(v) {
				continue
			}
			d := sim[i] - v
			sum[i] += d * d
			out[i].Cells++
		}
	}
	for i := range out {
		if out[i].Cells == 0 {
			out[i].RMSE = math.NaN()
			continue
		}
		out[i].RMSE = math.Sqrt(sum[i] / float64(out[i].Cells))
	}
	return out
}

// WriteStats prints run totals with thousands separators.
func WriteStats(w io.Writer, stats engine.SimStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "days\t%s\n", humanize.Comma(int64(stats.Days)))
	fmt.Fprintf(tw, "population\t%s\n", humanize.Comma(int64(stats.Population)))
	fmt.Fprintf(tw, "arrivals\t%s\n", humanize.Comma(int64(stats.Arrivals)))
	fmt.Fprintf(tw, "harvests\t%s\n", humanize.Comma(int64(stats.Harvests)))
	fmt.Fprintf(tw, "picked\t%s\n", humanize.Comma(int64(stats.Picked)))
	fmt.Fprintf(tw, "lost\t%s\n", humanize.Comma(int64(stats.Lost)))
	return tw.Flush()
}

// WriteSeries prints the daily stage counts, one row per day.
func WriteSeries(w io.Writer, start time.Time, full []engine.DayRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "date\tday\t")
	for _, st := range berry.AllStages {
		fmt.Fprintf(tw, "%s\t", st)
	}
	fmt.Fprint(tw, "new\t\n")
	for _, rec := range full {
		fmt.Fprintf(tw, "%s\t%d\t", engine.SimDate(start, rec.Day).Format("2006-01-02"), rec.Day)
		for _, st := range berry.AllStages {
			fmt.Fprintf(tw, "%s\t", humanize.Comma(int64(rec.Count(st))))
		}
		fmt.Fprintf(tw, "%s\t\n", humanize.Comma(int64(rec.NewBerries)))
	}
	return tw.Flush()
}

// WriteParams prints a parameter vector against its slot labels.
func WriteParams(w io.Writer, x []float64) error {
	labels := engine.VectorLabels()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, v := range x {
		label := fmt.Sprintf("x[%d]", i)
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Fprintf(tw, "%s\t%s\n", label, humanize.FormatFloat("#,###.####", v))
	}
	return tw.Flush()
}

// WriteStageErrors prints per-stage RMSE.
func WriteStageErrors(w io.Writer, errs [berry.NumObserved]StageError) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "stage\trmse\tcells")
	for _, e := range errs {
		rmse := "-"
		if !math.IsNaN(e.RMSE) {
			rmse = humanize.FormatFloat("#,###.##", e.RMSE)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Stage, rmse, e.Cells)
	}
	return tw.Flush()
}

// WriteRuns prints stored fit runs, newest first as given.
func WriteRuns(w io.Writer, runs []persistence.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tstatus\tscore\tevaluations\tdataset\tcreated")
	for _, r := range runs {
		score := "-"
		if r.Score != nil {
			score = humanize.FormatFloat("#,###.####", *r.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, score, humanize.Comma(int64(r.Evaluations)), r.Dataset, humanize.Time(r.CreatedAt))
	}
	return tw.Flush()
}
