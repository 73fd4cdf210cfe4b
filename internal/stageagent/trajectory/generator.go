// Package trajectory expands a ScanConfig into the ordered grid points a
// scan visits.
package trajectory

import (
	"github.com/aefi-io/aefi/internal/stageagent/core"
)

// Generate returns the trajectory of c in emission order. It defaults and
// validates c first, so a config rejected here never reaches the worker.
//
// Rows run along x: for every x value i the full y sequence is visited. With
// Serpentine, odd rows walk y backwards; with Unidirectional acquisition those
// return rows do not sample.
func Generate(c core.ScanConfig) ([]core.GridPoint, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	xs := Linspace(c.XMin, c.XMax, c.XPoints)
	ys := Linspace(c.YMin, c.YMax, c.YPoints)

	points := make([]core.GridPoint, 0, len(xs)*len(ys))
	for i, x := range xs {
		reverse := c.Pattern == core.Serpentine && i%2 == 1
		acquire := !(reverse && c.AcquireMode == core.Unidirectional)

		for j := range ys {
			y := ys[j]
			if reverse {
				y = ys[len(ys)-1-j]
			}
			points = append(points, core.GridPoint{
				Index:   len(points),
				X:       x,
				Y:       y,
				Acquire: acquire,
			})
		}
	}

	return points, nil
}

// Linspace returns n evenly spaced values from start to stop inclusive. The
// last value is exactly stop. start > stop yields a descending sequence.
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}

	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}
