package domain

import (
	"fmt"
	"math"
)

// Slice holds the source field values of one time step, row-major.
// Irregular sources use a single row.
type Slice struct {
	Rows   int
	Cols   int
	Values []float64
}

// AveragerOptions controls missing-value handling.
type AveragerOptions struct {
	Rescale   bool    // Renormalize weights over finite values when data is missing.
	FillValue float64 // Emitted for targets without any usable source value.
}

// StepStats counts per-step missing-data handling.
type StepStats struct {
	Rescaled int // Targets whose weights were renormalized.
	Missing  int // Targets that received the fill value.
	Clamped  int // Targets whose restricted weight sum exceeded 1.
}

// Averager applies a remap table to time slices. It holds its own scratch
// buffers and must not be shared between goroutines; the table itself is
// only read.
type Averager struct {
	opts    AveragerOptions
	rows    int
	cols    int
	targets []TargetRef
	spans   [][2]int  // Row span [start, end) per target.
	index   []int     // Flat source index per table row, -1 for placeholders.
	weights []float64 // Weight per table row.

	gathered []float64
	valid    []bool
}

// NewAverager binds a table to a source of rows×cols values.
func NewAverager(table *RemapTable, rows, cols int, opts AveragerOptions) (*Averager, error) {
	a := &Averager{
		opts:     opts,
		rows:     rows,
		cols:     cols,
		targets:  table.Targets(),
		index:    make([]int, len(table.Rows)),
		weights:  make([]float64, len(table.Rows)),
		gathered: make([]float64, len(table.Rows)),
		valid:    make([]bool, len(table.Rows)),
	}

	size := rows * cols
	start := 0
	for i, row := range table.Rows {
		if i > 0 && row.TargetOrder != table.Rows[i-1].TargetOrder {
			a.spans = append(a.spans, [2]int{start, i})
			start = i
		}

		a.weights[i] = row.Weight
		if row.IsPlaceholder() {
			a.index[i] = -1
			continue
		}

		var idx int
		if row.Case == Irregular {
			idx = row.Col
		} else {
			idx = row.Row*cols + row.Col
		}
		if row.Row < 0 || row.Col < 0 || idx >= size {
			return nil, fmt.Errorf("%w: table row %d references (%d, %d) outside %dx%d source",
				ErrDimensionMismatch, i, row.Row, row.Col, rows, cols)
		}
		a.index[i] = idx
	}
	if len(table.Rows) > 0 {
		a.spans = append(a.spans, [2]int{start, len(table.Rows)})
	}

	return a, nil
}

// Targets returns the targets in output order.
func (a *Averager) Targets() []TargetRef {
	return a.targets
}

// Apply computes one value per target for the given time slice.
func (a *Averager) Apply(slice Slice) ([]float64, StepStats, error) {
	var stats StepStats
	if slice.Rows != a.rows || slice.Cols != a.cols || len(slice.Values) != a.rows*a.cols {
		return nil, stats, fmt.Errorf("%w: slice is %dx%d (%d values), table expects %dx%d",
			ErrDimensionMismatch, slice.Rows, slice.Cols, len(slice.Values), a.rows, a.cols)
	}

	// Gather values referenced by the table.
	anyMissing := false
	for i, idx := range a.index {
		if idx < 0 {
			a.gathered[i] = math.NaN()
			a.valid[i] = false
			continue
		}
		v := slice.Values[idx]
		a.gathered[i] = v
		a.valid[i] = isFinite(v) && isFinite(a.weights[i])
		if !a.valid[i] {
			anyMissing = true
		}
	}

	out := make([]float64, len(a.spans))
	for k, span := range a.spans {
		if a.index[span[0]] < 0 {
			// Target lies outside the source domain.
			out[k] = a.opts.FillValue
			stats.Missing++
			continue
		}

		if !anyMissing || !a.opts.Rescale {
			sum := 0.0
			for i := span[0]; i < span[1]; i++ {
				sum += a.gathered[i] * a.weights[i]
			}
			if !isFinite(sum) {
				out[k] = a.opts.FillValue
				stats.Missing++
				continue
			}
			out[k] = sum
			continue
		}

		rescaled, status := Rescale(a.weights[span[0]:span[1]], a.valid[span[0]:span[1]])
		if status.AllMissing {
			out[k] = a.opts.FillValue
			stats.Missing++
			continue
		}
		if status.Clamped {
			stats.Clamped++
		}

		sum := 0.0
		complete := true
		for j, w := range rescaled {
			i := span[0] + j
			if !a.valid[i] {
				complete = false
				continue
			}
			sum += a.gathered[i] * w
		}
		if !complete {
			stats.Rescaled++
		}
		out[k] = sum
	}

	return out, stats, nil
}
