package energylens

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339,
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
}

var (
	errNegativeReading = errors.New("reading must be non-negative")
	errNotNumeric      = errors.New("reading is not a number")
	errNotFinite       = errors.New("reading must be finite")
	errBadTimestamp    = errors.New("unrecognised timestamp")
)

// ReadCSV parses an hourly CSV export into a Table. The first row is the
// header. A datetime/timestamp column becomes the row timestamps; total and
// appliance columns must hold finite non-negative numbers; other columns are
// kept when numeric and dropped otherwise.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	roles := make([]ColumnRole, len(header))
	tsCol := -1
	for i, name := range header {
		roles[i] = ClassifyColumn(name)
		if roles[i] == RoleTimestamp && tsCol < 0 {
			tsCol = i
		}
	}

	cols := make([][]float64, len(header))
	numeric := make([]bool, len(header))
	for i := range numeric {
		numeric[i] = i != tsCol
	}
	var timestamps []time.Time

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &IngestError{Line: line, Cause: err}
		}
		if isBlankRecord(record) {
			continue
		}

		for i, raw := range record {
			raw = strings.TrimSpace(raw)
			if i == tsCol {
				ts, err := parseTimestamp(raw)
				if err != nil {
					return nil, &IngestError{Line: line, Column: header[i], Value: raw, Cause: err}
				}
				timestamps = append(timestamps, ts)
				continue
			}
			if !numeric[i] {
				continue
			}

			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				if roles[i] == RoleOther {
					numeric[i] = false
					continue
				}
				return nil, &IngestError{Line: line, Column: header[i], Value: raw, Cause: errNotNumeric}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				if roles[i] == RoleOther {
					numeric[i] = false
					continue
				}
				return nil, &IngestError{Line: line, Column: header[i], Value: raw, Cause: errNotFinite}
			}
			if v < 0 && roles[i] != RoleOther {
				return nil, &IngestError{Line: line, Column: header[i], Value: raw, Cause: errNegativeReading}
			}
			cols[i] = append(cols[i], v)
		}
	}

	t := NewTable()
	if tsCol >= 0 {
		if err := t.SetTimestamps(timestamps); err != nil {
			return nil, err
		}
	}
	for i, name := range header {
		if i == tsCol || !numeric[i] {
			continue
		}
		if err := t.AddColumn(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadCSVFile reads a CSV file from disk.
func LoadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errBadTimestamp
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
