package energylens

import (
	"testing"
	"time"
)

// mustTable builds a table from parallel names and columns. A non-zero start
// adds hourly timestamps.
func mustTable(t *testing.T, start time.Time, names []string, cols ...[]float64) *Table {
	t.Helper()
	tbl := NewTable()
	if !start.IsZero() && len(cols) > 0 {
		ts := make([]time.Time, len(cols[0]))
		for i := range ts {
			ts[i] = start.Add(time.Duration(i) * time.Hour)
		}
		if err := tbl.SetTimestamps(ts); err != nil {
			t.Fatalf("SetTimestamps: %v", err)
		}
	}
	for i, name := range names {
		if err := tbl.AddColumn(name, cols[i]); err != nil {
			t.Fatalf("AddColumn(%s): %v", name, err)
		}
	}
	return tbl
}

func linearSeries(n int, intercept, slope float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = intercept + slope*float64(i)
	}
	return out
}

func approxEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
