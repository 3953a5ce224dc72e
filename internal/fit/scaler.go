package fit

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/talgya/berrysim/internal/berry"
)

// Row is one observation of the five observed stages.
type Row = [berry.NumObserved]float64

// Scaler standardizes each stage column to zero mean and unit variance using
// statistics fitted on the observed data. Simulated rows are transformed with
// the same statistics so both sides are on one scale.
type Scaler struct {
	Mean  Row `json:"mean"`
	Scale Row `json:"scale"` // Population standard deviation
}

// FitScaler computes per-column mean and population standard deviation,
// ignoring NaN cells. A column with no values gets NaN statistics.
func FitScaler(rows []Row) *Scaler {
	s := &Scaler{}
	col := make([]float64, 0, len(rows))
	for j := 0; j < berry.NumObserved; j++ {
		col = col[:0]
		for _, r := range rows {
			if !math.IsNaN(r[j]) {
				col = append(col, r[j])
			}
		}
		if len(col) == 0 {
			s.Mean[j], s.Scale[j] = math.NaN(), math.NaN()
			continue
		}
		s.Mean[j], s.Scale[j] = stat.PopMeanStdDev(col, nil)
	}
	return s
}

// Transform standardizes rows. Zero-variance columns become NaN so callers
// can drop them instead of dividing by zero.
func (s *Scaler) Transform(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = s.TransformRow(r)
	}
	return out
}

// TransformRow standardizes a single row.
func (s *Scaler) TransformRow(r Row) Row {
	var out Row
	for j, v := range r {
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			out[j] = math.NaN()
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// NaNMeanSquaredError returns the mean of (a-b)² over all cells where both
// sides are numbers, and the number of cells used. With no usable cells the
// mean is NaN.
func NaNMeanSquaredError(a, b []Row) (float64, int) {
	var sum float64
	n := 0
	for i := range a {
		if i >= len(b) {
			break
		}
		for j := range a[i] {
			d := a[i][j] - b[i][j]
			if math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return sum / float64(n), n
}
