// Package testutil provides shared test helpers for energylens packages.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TempDBPath returns a temporary directory and database file path suitable
// for tests. The directory is automatically cleaned up when the test completes.
func TempDBPath(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "test.db")
	return dir, path
}

// WriteFile writes content to name inside a temporary directory and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// HourlyCSV renders an hourly CSV export. When start is non-zero a leading
// datetime column is added, one hour per row.
func HourlyCSV(start time.Time, header []string, rows [][]float64) string {
	var b strings.Builder
	if !start.IsZero() {
		b.WriteString("datetime,")
	}
	b.WriteString(strings.Join(header, ","))
	b.WriteByte('\n')
	for i, row := range rows {
		if !start.IsZero() {
			b.WriteString(start.Add(time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05"))
			b.WriteByte(',')
		}
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Constant returns n copies of v.
func Constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// WithSpike returns a gently varying series around base with one large
// reading at index spikeAt.
func WithSpike(n int, base float64, spikeAt int, spike float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + float64(i%4)*0.1
	}
	if spikeAt >= 0 && spikeAt < n {
		out[spikeAt] = spike
	}
	return out
}

// Columns turns per-column series into row-major rows.
func Columns(cols ...[]float64) [][]float64 {
	if len(cols) == 0 {
		return nil
	}
	rows := make([][]float64, len(cols[0]))
	for i := range rows {
		rows[i] = make([]float64, len(cols))
		for j, c := range cols {
			rows[i][j] = c[i]
		}
	}
	return rows
}
