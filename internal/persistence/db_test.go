package persistence

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/fit"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	start := engine.DefaultVector(1)

	id, err := db.CreateRun(NewRun{
		Dataset:        "obs.csv",
		Seed:           1<<63 + 5,
		Samples:        20,
		Restarts:       2,
		MaxEvaluations: 100,
		Start:          start,
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusRunning || run.Score != nil || run.FinishedAt != nil {
		t.Fatalf("new run = %+v", run)
	}
	if run.Seed != 1<<63+5 {
		t.Fatalf("seed = %d, high bit lost", run.Seed)
	}
	if len(run.Start) != engine.VectorLen {
		t.Fatalf("start len = %d", len(run.Start))
	}

	trials := []fit.Trial{
		{Restart: 0, N: 0, X: start, Score: 3.5},
		{Restart: 0, N: 1, X: start, Score: 2.25},
		{Restart: 1, N: 0, X: start, Score: fit.Penalty},
	}
	if err := db.RecordTrials(id, trials); err != nil {
		t.Fatalf("RecordTrials: %v", err)
	}
	got, err := db.Trials(id)
	if err != nil {
		t.Fatalf("Trials: %v", err)
	}
	if len(got) != 3 || got[1].Score != 2.25 || got[2].Restart != 1 || len(got[0].X) != engine.VectorLen {
		t.Fatalf("trials = %+v", got)
	}

	res := fit.Result{X: start, Score: 2.25, Evaluations: 3}
	if err := db.FinishRun(id, res); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, err = db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusFinished || run.Score == nil || *run.Score != 2.25 || run.Evaluations != 3 {
		t.Fatalf("finished run = %+v", run)
	}
	if last, err := db.GetMeta("last_run"); err != nil || last != id {
		t.Fatalf("last_run = %q, %v", last, err)
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	id, err := db.CreateRun(NewRun{Dataset: "d", Seed: 1, Start: engine.DefaultVector(0)})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	full := make([]engine.DayRecord, 3)
	for i := range full {
		full[i].Day = i
		full[i].Counts[berry.StageGreen] = 10 - i
		full[i].Counts[berry.StagePicked] = i
		full[i].NewBerries = 2 * i
	}
	if err := db.SaveSeries(id, full); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := db.SaveSeries(id, full); err != nil {
		t.Fatalf("SaveSeries again: %v", err)
	}

	got, err := db.Series(id)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(got) != len(full) {
		t.Fatalf("len = %d, want %d", len(got), len(full))
	}
	for i := range full {
		if got[i] != full[i] {
			t.Errorf("day %d = %+v, want %+v", i, got[i], full[i])
		}
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := db.CreateRun(NewRun{Dataset: "d", Seed: uint64(i + 1), Start: engine.DefaultVector(0)})
		if err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		ids = append(ids, id)
	}
	if err := db.FailRun(ids[0], errors.New("boom")); err != nil {
		t.Fatalf("FailRun: %v", err)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("runs = %v", runs)
	}

	failed, err := db.GetRun(ids[0])
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if failed.Status != StatusFailed || failed.Error != "boom" {
		t.Fatalf("failed run = %+v", failed)
	}
}

func TestUnknownRun(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun err = %v, want ErrNotFound", err)
	}
	if err := db.FinishRun("nope", fit.Result{X: []float64{1}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRun err = %v, want ErrNotFound", err)
	}
}
