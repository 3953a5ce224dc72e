package engine

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/talgya/berrysim/internal/berry"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// deterministicParams has zero spread so every berry gets thresholds equal to mu.
func deterministicParams(init InitialCounts, mu [berry.NumObserved]float64, loss, lambda float64) ParameterSet {
	ps := ParameterSet{Stages: map[berry.Stage]StageParams{}, Lambda: lambda}
	for i, st := range berry.ObservedStages {
		ps.Stages[st] = StageParams{Init: init[st], Mu: mu[i], Loss: loss}
	}
	ps.Stages[berry.StageBlue] = StageParams{Init: init[berry.StageBlue], Loss: loss}
	return ps
}

func TestUnwrapRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 16, 18} {
		_, err := Unwrap(make([]float64, n), InitialCounts{})
		if !errors.Is(err, ErrParamCount) {
			t.Errorf("Unwrap(len=%d) error = %v, want ErrParamCount", n, err)
		}
	}
}

func TestUnwrapSlotOrder(t *testing.T) {
	x := make([]float64, VectorLen)
	for i := range x {
		x[i] = float64(i)
	}
	init := InitialCounts{10, 20, 30, 40, 50, 60}
	ps, err := Unwrap(x, init)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}

	pink := ps.Stages[berry.StagePink]
	if pink.Mu != 3 || pink.Sigma != 8 || pink.Loss != 13 || pink.Init != 40 {
		t.Fatalf("pink params = %+v", pink)
	}
	blue := ps.Stages[berry.StageBlue]
	if blue.Loss != 15 || blue.Init != 60 || blue.Mu != 0 {
		t.Fatalf("blue params = %+v", blue)
	}
	if ps.Lambda != 16 {
		t.Fatalf("lambda = %v, want 16", ps.Lambda)
	}

	back := Wrap(ps)
	for i := range x {
		if back[i] != x[i] {
			t.Fatalf("Wrap slot %d = %v, want %v", i, back[i], x[i])
		}
	}
	if got := len(VectorLabels()); got != VectorLen {
		t.Fatalf("labels = %d, want %d", got, VectorLen)
	}
}

func TestSampleThresholds(t *testing.T) {
	sp := NewSpawner(newRand(1))

	ps := deterministicParams(InitialCounts{}, [5]float64{4.4, -2.6, 0, 7, 1}, 0, 0)
	th := sp.SampleThresholds(ps)
	want := berry.Thresholds{4, 3, 0, 7, 1, 0}
	if th != want {
		t.Fatalf("thresholds = %v, want %v", th, want)
	}

	th = sp.SampleThresholds(ParameterSet{})
	if th != berry.DefaultDwell {
		t.Fatalf("unconfigured thresholds = %v, want defaults", th)
	}

	noisy := deterministicParams(InitialCounts{}, [5]float64{10, 10, 10, 10, 10}, 0, 0)
	for _, st := range berry.ObservedStages {
		p := noisy.Stages[st]
		p.Sigma = 30
		noisy.Stages[st] = p
	}
	for i := 0; i < 500; i++ {
		th := sp.SampleThresholds(noisy)
		for _, v := range th {
			if v < 0 {
				t.Fatalf("negative threshold %v", th)
			}
		}
		if th[berry.StageBlue] != 0 {
			t.Fatalf("blue threshold = %d", th[berry.StageBlue])
		}
	}
}

func TestCohortThresholdsAreIndependent(t *testing.T) {
	sp := NewSpawner(newRand(2))
	ps := deterministicParams(InitialCounts{}, [5]float64{20, 20, 20, 20, 20}, 0, 0)
	for _, st := range berry.ObservedStages {
		p := ps.Stages[st]
		p.Sigma = 50
		ps.Stages[st] = p
	}

	cohort := sp.Cohort(30, berry.StageGreen, 0, ps)
	if len(cohort) != 30 {
		t.Fatalf("cohort size = %d", len(cohort))
	}
	distinct := map[berry.Thresholds]bool{}
	for _, b := range cohort {
		distinct[b.Thresholds] = true
	}
	if len(distinct) < 2 {
		t.Fatal("every berry in the cohort got identical thresholds")
	}

	cohort[0].Thresholds[berry.StageGreen] = -1
	for _, b := range cohort[1:] {
		if b.Thresholds[berry.StageGreen] == -1 {
			t.Fatal("thresholds aliased across berries")
		}
	}
}

func TestSampleInitialAge(t *testing.T) {
	sp := NewSpawner(newRand(3))
	ps := deterministicParams(InitialCounts{}, [5]float64{5, 5, 5, 5, 5}, 0, 0)
	if age := sp.SampleInitialAge(berry.StageBlue, ps); age != 0 {
		t.Fatalf("blue initial age = %d", age)
	}
	for i := 0; i < 200; i++ {
		if age := sp.SampleInitialAge(berry.StagePink, ps); age < 0 {
			t.Fatalf("negative initial age %d", age)
		}
	}

	sp.RandomInitialAge = true
	seeded := deterministicParams(InitialCounts{0, 0, 0, 0, 50, 0}, [5]float64{5, 5, 5, 5, 40}, 0, 0)
	pop := sp.InitialPopulation(seeded)
	aged := 0
	for _, b := range pop {
		if b.StageAge != b.TotalAge {
			t.Fatalf("stage age %d != total age %d", b.StageAge, b.TotalAge)
		}
		if b.StageAge > 0 {
			aged++
		}
	}
	if aged == 0 {
		t.Fatal("random initial age never produced a non-zero age")
	}
	for _, b := range sp.Arrive(5, 3, seeded) {
		if b.StageAge != 0 || b.Stage != berry.StageGreen || b.BornDay != 3 {
			t.Fatalf("arrival = %s born %d", b, b.BornDay)
		}
	}
}

func TestInitialPopulation(t *testing.T) {
	sp := NewSpawner(newRand(4))
	ps := deterministicParams(InitialCounts{3, 2, 1, 0, 4, 5}, [5]float64{1, 1, 1, 1, 1}, 0, 0)
	pop := sp.InitialPopulation(ps)
	rec := pop.Aggregate(0)
	want := [berry.NumStages]int{3, 2, 1, 0, 4, 5, 0, 0}
	if rec.Counts != want {
		t.Fatalf("initial counts = %v, want %v", rec.Counts, want)
	}
}

func TestStepUsesStageLoss(t *testing.T) {
	ps := deterministicParams(InitialCounts{}, [5]float64{}, 0, 0)
	ps.Stages[berry.StagePink] = StageParams{Loss: 1}

	pop := Population{
		berry.New(berry.StagePink, 0, berry.Thresholds{}),
		berry.New(berry.StageGreen, 0, berry.Thresholds{}),
	}
	pop.Step(0, ps, newRand(5))
	if pop[0].Stage != berry.StageLost {
		t.Fatalf("pink berry with loss 1 = %s", pop[0].Stage)
	}
	if pop[1].Stage != berry.StageColourBreak1 {
		t.Fatalf("green berry = %s", pop[1].Stage)
	}
}

func TestLooseSweep(t *testing.T) {
	ps := deterministicParams(InitialCounts{}, [5]float64{}, 1, 0)
	pop := Population{
		berry.New(berry.StageGreen, 0, berry.DefaultDwell),
		berry.New(berry.StageBlue, 0, berry.DefaultDwell).Pick(),
		berry.New(berry.StageCherry, 0, berry.DefaultDwell),
	}
	if lost := pop.Loose(ps, newRand(6)); lost != 2 {
		t.Fatalf("lost = %d, want 2", lost)
	}
	if pop[1].Stage != berry.StagePicked {
		t.Fatalf("picked berry became %s", pop[1].Stage)
	}
}

func TestEvaluateWithoutLossOrHarvest(t *testing.T) {
	init := InitialCounts{7, 3, 0, 2, 0, 0}
	mu := [5]float64{2, 1, 1, 1, 1}
	ps := deterministicParams(init, mu, 0, 3)

	sim := NewSimulation(newRand(7), FridayHarvest(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	lastDay := 20
	_, full := sim.Evaluate([]int{0, lastDay}, ps, false)
	if len(full) != lastDay+1 {
		t.Fatalf("series length = %d", len(full))
	}

	initial := 12
	for d, rec := range full {
		if rec.Day != d {
			t.Fatalf("record %d has day %d", d, rec.Day)
		}
		prevArrivals := 0
		if d > 0 {
			prevArrivals = full[d-1].NewBerries
			if rec.NewBerries < prevArrivals {
				t.Fatalf("cumulative arrivals decreased on day %d", d)
			}
		}
		if rec.Total() != initial+prevArrivals {
			t.Fatalf("day %d total = %d, want %d", d, rec.Total(), initial+prevArrivals)
		}
		if rec.Count(berry.StageLost) != 0 || rec.Count(berry.StagePicked) != 0 {
			t.Fatalf("day %d has terminal berries: %+v", d, rec.Counts)
		}
	}

	// Thresholds sum to 6; with one extra day per stage every seeded berry
	// is blue well before day 20.
	for i, b := range sim.Population[:initial] {
		if b.Stage != berry.StageBlue {
			t.Fatalf("initial berry %d stuck in %s", i, b.Stage)
		}
	}
	if sim.Stats.Harvests != 0 || sim.Stats.Picked != 0 {
		t.Fatalf("harvest disabled but stats = %+v", sim.Stats)
	}
}

func TestEvaluateSingleBlueFridayHarvest(t *testing.T) {
	ps := deterministicParams(InitialCounts{0, 0, 0, 0, 0, 1}, [5]float64{}, 0, 0)
	friday := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	sim := NewSimulation(newRand(8), FridayHarvest(friday))
	eval, full := sim.Evaluate([]int{0, 1, 2}, ps, true)
	if len(eval) != 3 || len(full) != 3 {
		t.Fatalf("eval=%d full=%d, want 3 and 3", len(eval), len(full))
	}

	// Day 0 is recorded before the Friday pick happens.
	if full[0].Count(berry.StageBlue) != 1 {
		t.Fatalf("day 0 counts = %v", full[0].Counts)
	}
	if full[1].Count(berry.StagePicked) != 1 || full[1].Count(berry.StageBlue) != 0 {
		t.Fatalf("day 1 counts = %v, want the berry picked", full[1].Counts)
	}
	if sim.Stats.Picked != 1 || sim.Stats.Harvests != 1 {
		t.Fatalf("stats = %+v", sim.Stats)
	}
	if full[2].NewBerries != 0 {
		t.Fatalf("lambda 0 produced %d arrivals", full[2].NewBerries)
	}
}

func TestEvaluateSubsetMatchesObservedDays(t *testing.T) {
	ps := deterministicParams(InitialCounts{5, 5, 5, 5, 5, 5}, [5]float64{3, 3, 3, 3, 3}, 0.1, 2)
	sim := NewSimulation(newRand(9), nil)
	days := []int{0, 4, 4, 9, 13}
	eval, full := sim.Evaluate(days, ps, true)
	if len(full) != 14 {
		t.Fatalf("full length = %d", len(full))
	}
	wantDays := []int{0, 4, 9, 13}
	if len(eval) != len(wantDays) {
		t.Fatalf("eval length = %d, want %d", len(eval), len(wantDays))
	}
	for i, rec := range eval {
		if rec.Day != wantDays[i] {
			t.Errorf("eval[%d].Day = %d, want %d", i, rec.Day, wantDays[i])
		}
		if rec != full[rec.Day] {
			t.Errorf("eval record for day %d differs from full series", rec.Day)
		}
	}
}

func TestBlueLossDoesNotApplyDuringEvaluate(t *testing.T) {
	x := DefaultVector(0)
	x[VectorLen-2] = 1
	ps, err := Unwrap(x, InitialCounts{0, 0, 0, 0, 0, 3})
	if err != nil {
		t.Fatal(err)
	}
	sim := NewSimulation(newRand(13), nil)
	_, full := sim.Evaluate([]int{30}, ps, false)
	if got := full[30].Count(berry.StageBlue); got != 3 {
		t.Fatalf("blue on day 30 = %d, want 3 (blue loss only applies to Loose)", got)
	}

	lost := sim.Population.Loose(ps, newRand(14))
	if lost != 3 {
		t.Fatalf("Loose with blue loss 1 lost %d, want 3", lost)
	}
}

func TestEvaluateStopsArrivalsAtMaxPopulation(t *testing.T) {
	ps := deterministicParams(InitialCounts{10, 0, 0, 0, 0, 0}, [5]float64{50, 50, 50, 50, 50}, 0, 30)
	sim := NewSimulation(newRand(12), nil)
	if sim.MaxPopulation != DefaultMaxPopulation {
		t.Fatalf("MaxPopulation = %d, want default %d", sim.MaxPopulation, DefaultMaxPopulation)
	}
	sim.MaxPopulation = 100

	_, full := sim.Evaluate([]int{19}, ps, false)
	if !sim.Stats.Capped {
		t.Fatalf("stats = %+v, want capped", sim.Stats)
	}
	if sim.Stats.Population != 100 || len(sim.Population) != 100 {
		t.Fatalf("population = %d, want 100", sim.Stats.Population)
	}
	if got := full[len(full)-1].NewBerries; got != 90 {
		t.Fatalf("cumulative arrivals = %d, want 90", got)
	}

	sim = NewSimulation(newRand(12), nil)
	sim.Evaluate([]int{19}, ps, false)
	if sim.Stats.Capped || sim.Stats.Population <= 100 {
		t.Fatalf("default cap stats = %+v", sim.Stats)
	}
}

func TestEvaluateIsReproducible(t *testing.T) {
	x := DefaultVector(4)
	ps, err := Unwrap(x, InitialCounts{30, 20, 10, 5, 5, 0})
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	harvest := FridayHarvest(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	_, a := NewSimulation(newRand(42), harvest).Evaluate([]int{60}, ps, true)
	_, b := NewSimulation(newRand(42), harvest).Evaluate([]int{60}, ps, true)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("day %d differs between identically seeded runs", i)
		}
	}
}

func TestEvaluateEmptyDays(t *testing.T) {
	eval, full := NewSimulation(newRand(1), nil).Evaluate(nil, ParameterSet{}, true)
	if eval != nil || full != nil {
		t.Fatal("expected no records without observed days")
	}
}

func TestWeeklyHarvest(t *testing.T) {
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := FridayHarvest(monday)
	for day := 0; day < 21; day++ {
		want := SimDate(monday, day).Weekday() == time.Friday
		if h(day) != want {
			t.Errorf("day %d harvest = %v, want %v", day, h(day), want)
		}
	}
	if h(-3) {
		t.Error("negative day should never harvest")
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{"friday": time.Friday, "Mon": time.Monday, "SUNDAY": time.Sunday} {
		got, err := ParseWeekday(in)
		if err != nil || got != want {
			t.Errorf("ParseWeekday(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseWeekday("fr"); err == nil {
		t.Error("expected error for short name")
	}
}

func TestDayRecordJSON(t *testing.T) {
	rec := DayRecord{Day: 3, NewBerries: 9}
	rec.Counts[berry.StageCherry] = 4
	rec.Counts[berry.StageLost] = 1

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if m["cherry"] != 4 || m["lost"] != 1 || m["new_berries"] != 9 || m["day"] != 3 {
		t.Fatalf("json = %s", data)
	}

	var back DayRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if back != rec {
		t.Fatalf("round trip = %+v, want %+v", back, rec)
	}
}
