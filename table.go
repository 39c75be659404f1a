package energylens

import (
	"fmt"
	"time"
)

// TimestampLayout is the layout used when rows are rendered as records.
const TimestampLayout = "2006-01-02 15:04:05"

// Table is an hourly dataset: one row per hour in chronological order and one
// float column per measured quantity. Column order is preserved.
type Table struct {
	columns    []string
	values     map[string][]float64
	timestamps []time.Time
	rows       int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{values: make(map[string][]float64)}
}

// AddColumn appends a named column. The first column fixes the row count;
// later columns must match it.
func (t *Table) AddColumn(name string, values []float64) error {
	if _, ok := t.values[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if len(t.columns) > 0 && len(values) != t.rows {
		return fmt.Errorf("%w: %s has %d rows, table has %d", ErrColumnLength, name, len(values), t.rows)
	}
	if len(t.columns) == 0 && t.timestamps != nil && len(values) != t.rows {
		return fmt.Errorf("%w: %s has %d rows, timestamps have %d", ErrColumnLength, name, len(values), t.rows)
	}

	col := make([]float64, len(values))
	copy(col, values)
	t.columns = append(t.columns, name)
	t.values[name] = col
	t.rows = len(values)
	return nil
}

// SetTimestamps attaches the wall-clock hour of every row.
func (t *Table) SetTimestamps(ts []time.Time) error {
	if len(t.columns) > 0 && len(ts) != t.rows {
		return fmt.Errorf("%w: %d timestamps for %d rows", ErrColumnLength, len(ts), t.rows)
	}
	t.timestamps = make([]time.Time, len(ts))
	copy(t.timestamps, ts)
	t.rows = len(ts)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.values[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.values[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, true
}

// Timestamps returns the row timestamps, or nil when the table has none.
func (t *Table) Timestamps() []time.Time {
	if t.timestamps == nil {
		return nil
	}
	out := make([]time.Time, len(t.timestamps))
	copy(out, t.timestamps)
	return out
}

// HasTimestamps reports whether rows carry wall-clock timestamps.
func (t *Table) HasTimestamps() bool {
	return t.timestamps != nil
}

// Schema classifies the table's columns.
func (t *Table) Schema() Schema {
	return DescribeSchema(t.columns)
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		columns: make([]string, len(t.columns)),
		values:  make(map[string][]float64, len(t.values)),
		rows:    t.rows,
	}
	copy(c.columns, t.columns)
	for name, col := range t.values {
		cp := make([]float64, len(col))
		copy(cp, col)
		c.values[name] = cp
	}
	if t.timestamps != nil {
		c.timestamps = make([]time.Time, len(t.timestamps))
		copy(c.timestamps, t.timestamps)
	}
	return c
}

// Head returns a copy of the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n > t.rows {
		n = t.rows
	}
	h := &Table{
		columns: make([]string, len(t.columns)),
		values:  make(map[string][]float64, len(t.values)),
		rows:    n,
	}
	copy(h.columns, t.columns)
	for name, col := range t.values {
		cp := make([]float64, n)
		copy(cp, col[:n])
		h.values[name] = cp
	}
	if t.timestamps != nil {
		h.timestamps = make([]time.Time, n)
		copy(h.timestamps, t.timestamps[:n])
	}
	return h
}

// Records renders every row as a map keyed by column name, plus
// "datetime" when the table has timestamps.
func (t *Table) Records() []map[string]any {
	records := make([]map[string]any, t.rows)
	for i := 0; i < t.rows; i++ {
		rec := make(map[string]any, len(t.columns)+1)
		if t.timestamps != nil {
			rec["datetime"] = t.timestamps[i].Format(TimestampLayout)
		}
		for _, name := range t.columns {
			rec[name] = t.values[name][i]
		}
		records[i] = rec
	}
	return records
}

// Preview renders the first n rows as records.
func (t *Table) Preview(n int) []map[string]any {
	return t.Head(n).Records()
}

// column returns the backing slice without copying. Callers must not modify it.
func (t *Table) column(name string) ([]float64, bool) {
	col, ok := t.values[name]
	return col, ok
}
