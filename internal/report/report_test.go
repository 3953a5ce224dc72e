package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/persistence"
)

func testSeries(days int) []engine.DayRecord {
	full := make([]engine.DayRecord, days)
	for d := range full {
		full[d].Day = d
		full[d].Counts[berry.StageGreen] = 100 - d
		full[d].Counts[berry.StagePink] = d
		full[d].Counts[berry.StageBlue] = d / 2
	}
	return full
}

func testObserved() *dataset.Dataset {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	nan := math.NaN()
	return &dataset.Dataset{Records: []dataset.Record{
		{Date: start, DaysSinceStart: 0, Counts: [berry.NumObserved]float64{98, 0, 0, 0, nan}},
		{Date: start.AddDate(0, 0, 7), DaysSinceStart: 7, Counts: [berry.NumObserved]float64{95, 0, 0, 9, nan}},
		{Date: start.AddDate(0, 0, 99), DaysSinceStart: 99, Counts: [berry.NumObserved]float64{1, 1, 1, 1, 1}},
	}}
}

func TestRenderChart(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderChart(&buf, "test fit", testObserved(), testSeries(14)); err != nil {
		t.Fatalf("RenderChart: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("output is not a PNG (%d bytes)", buf.Len())
	}

	if err := RenderChart(&buf, "", nil, testSeries(1)); err == nil {
		t.Fatal("expected error for a single day")
	}
}

func TestCompareStages(t *testing.T) {
	errs := CompareStages(testObserved(), testSeries(14))

	// green: day 0 sim 100 vs 98, day 7 sim 93 vs 95; day 99 is out of range.
	if errs[0].Cells != 2 || math.Abs(errs[0].RMSE-2) > 1e-12 {
		t.Errorf("green = %+v, want rmse 2 over 2 cells", errs[0])
	}
	// pink: day 0 sim 0 vs 0, day 7 sim 7 vs 9.
	if errs[3].Stage != berry.StagePink || math.Abs(errs[3].RMSE-math.Sqrt(2)) > 1e-12 {
		t.Errorf("pink = %+v, want rmse sqrt(2)", errs[3])
	}
	if errs[4].Cells != 0 || !math.IsNaN(errs[4].RMSE) {
		t.Errorf("cherry = %+v, want no cells", errs[4])
	}

	var buf bytes.Buffer
	if err := WriteStageErrors(&buf, errs); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "cherry") || !strings.Contains(buf.String(), "-") {
		t.Errorf("table = %q", buf.String())
	}
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	err := WriteStats(&buf, engine.SimStats{Days: 120, Arrivals: 12345, Picked: 1000000})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "12,345") || !strings.Contains(out, "1,000,000") {
		t.Errorf("stats = %q", out)
	}
}

func TestWriteSeries(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := WriteSeries(&buf, start, testSeries(3)); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	if !strings.Contains(lines[0], "colour_break_1") || !strings.Contains(lines[3], "2024-01-03") {
		t.Errorf("series table = %q", buf.String())
	}
}

func TestWriteParams(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteParams(&buf, engine.DefaultVector(1.25)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	labels := engine.VectorLabels()
	if !strings.Contains(out, labels[0]) || !strings.Contains(out, labels[engine.VectorLen-1]) {
		t.Errorf("params table missing labels: %q", out)
	}
	if !strings.Contains(out, "1.25") {
		t.Errorf("params table missing lambda: %q", out)
	}
}

func TestWriteRuns(t *testing.T) {
	score := 0.5
	runs := []persistence.Run{
		{ID: "a", Status: persistence.StatusFinished, Score: &score, Evaluations: 2500, Dataset: "obs.csv", CreatedAt: time.Now()},
		{ID: "b", Status: persistence.StatusRunning, Dataset: "obs.csv", CreatedAt: time.Now()},
	}
	var buf bytes.Buffer
	if err := WriteRuns(&buf, runs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2,500") || !strings.Contains(out, "0.5") || !strings.Contains(out, "running") {
		t.Errorf("runs table = %q", out)
	}
}
