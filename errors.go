package energylens

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the energylens package.
var (
	// ErrMissingColumn is matched by every *MissingColumnError.
	ErrMissingColumn = errors.New("required column missing")

	// ErrInvalidContamination is returned when contamination falls outside (0, 0.5].
	ErrInvalidContamination = errors.New("contamination must be in (0, 0.5]")

	// ErrInsufficientHistory is returned by Forecaster.Fit for tables with fewer than two rows.
	ErrInsufficientHistory = errors.New("at least two readings are required to fit a trend")

	// ErrEmptyTable is returned when an uploaded dataset has no rows.
	ErrEmptyTable = errors.New("table has no rows")

	// ErrDuplicateColumn is returned when a column name is added twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrColumnLength is returned when a column does not match the table's row count.
	ErrColumnLength = errors.New("column length does not match table")

	// ErrNoDataset is returned by the service before any dataset was uploaded.
	ErrNoDataset = errors.New("no dataset uploaded")

	// ErrRunNotFound is returned when a stored analysis run does not exist.
	ErrRunNotFound = errors.New("analysis run not found")

	// ErrUnknownCategory is returned by the budget planner for an unknown category.
	ErrUnknownCategory = errors.New("unknown budget category")

	// ErrInvalidBudget is returned when a budget is not positive.
	ErrInvalidBudget = errors.New("budget must be positive")
)

// MissingColumnError reports a required column absent from a table.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("data must contain %q column", e.Column)
}

// Is implements error matching for MissingColumnError.
func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

func newMissingColumnError(column string) *MissingColumnError {
	return &MissingColumnError{Column: column}
}

// IngestError provides detailed information about a rejected CSV cell or row.
type IngestError struct {
	Line   int
	Column string
	Value  string
	Cause  error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("line %d", e.Line)
	if e.Column != "" {
		msg += fmt.Sprintf(", column %q", e.Column)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(", value %q", e.Value)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}
