package energylens

import (
	"math"

	"github.com/chronicle-db/energylens/internal/anomaly"
)

// DefaultContamination is the expected share of anomalous hours.
const DefaultContamination = 0.05

// AnomalyConfig configures the isolation-forest anomaly detector.
type AnomalyConfig struct {
	// Contamination is the expected fraction of outliers, in (0, 0.5].
	Contamination float64 `yaml:"contamination"`

	// Trees is the number of isolation trees.
	Trees int `yaml:"trees"`

	// SampleSize caps the sub-sample each tree is built from.
	SampleSize int `yaml:"sample_size"`

	// Seed makes detection reproducible.
	Seed int64 `yaml:"seed"`
}

// DefaultAnomalyConfig returns default anomaly detection configuration.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		Contamination: DefaultContamination,
		Trees:         100,
		SampleSize:    256,
		Seed:          42,
	}
}

// AnomalyDetector flags statistically unusual total-consumption hours.
type AnomalyDetector struct {
	config AnomalyConfig
}

// NewAnomalyDetector creates a detector. Zero-valued settings take their defaults;
// a zero Seed is kept as is.
func NewAnomalyDetector(config AnomalyConfig) *AnomalyDetector {
	if config.Contamination == 0 {
		config.Contamination = DefaultContamination
	}
	if config.Trees <= 0 {
		config.Trees = 100
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 256
	}
	return &AnomalyDetector{config: config}
}

// Config returns the detector configuration.
func (d *AnomalyDetector) Config() AnomalyConfig {
	return d.config
}

// AnomalyResult is the input table with one anomaly flag per row.
type AnomalyResult struct {
	// Table is a copy of the input; the caller's table is never modified.
	Table *Table

	// Anomaly holds one flag per row, true for outlier hours.
	Anomaly []bool

	// Scores holds the isolation score of every row, in (0, 1].
	Scores []float64

	// Threshold is the score above which a row is flagged.
	Threshold float64

	// Contamination is the contamination the rows were classified with.
	Contamination float64
}

// Count returns the number of flagged rows.
func (r *AnomalyResult) Count() int {
	n := 0
	for _, a := range r.Anomaly {
		if a {
			n++
		}
	}
	return n
}

// Indices returns the row indices of flagged rows in order.
func (r *AnomalyResult) Indices() []int {
	idx := make([]int, 0, r.Count())
	for i, a := range r.Anomaly {
		if a {
			idx = append(idx, i)
		}
	}
	return idx
}

// Records renders every row with its "anomaly" flag.
func (r *AnomalyResult) Records() []map[string]any {
	records := r.Table.Records()
	for i := range records {
		records[i]["anomaly"] = r.Anomaly[i]
	}
	return records
}

// Preview renders the first n rows with their "anomaly" flag.
func (r *AnomalyResult) Preview(n int) []map[string]any {
	records := r.Table.Preview(n)
	for i := range records {
		records[i]["anomaly"] = r.Anomaly[i]
	}
	return records
}

// Detect classifies every row of t using the detector's configured contamination.
func (d *AnomalyDetector) Detect(t *Table) (*AnomalyResult, error) {
	return d.DetectWithContamination(t, d.config.Contamination)
}

// DetectWithContamination fits an isolation forest on total_kwh and flags the
// rows it scores as outliers. The forest is fit and scored on the same rows.
func (d *AnomalyDetector) DetectWithContamination(t *Table, contamination float64) (*AnomalyResult, error) {
	if err := t.Schema().RequireTotal(); err != nil {
		return nil, err
	}
	if math.IsNaN(contamination) || contamination <= 0 || contamination > 0.5 {
		return nil, ErrInvalidContamination
	}

	out := t.Clone()
	totals, _ := out.column(TotalColumn)

	result := &AnomalyResult{
		Table:         out,
		Anomaly:       make([]bool, len(totals)),
		Scores:        make([]float64, len(totals)),
		Contamination: contamination,
	}
	if len(totals) == 0 {
		return result, nil
	}

	forest := anomaly.NewIsolationForest(anomaly.ForestConfig{
		NumTrees:   d.config.Trees,
		MaxSamples: d.config.SampleSize,
		Seed:       d.config.Seed,
	})
	labels, scores, threshold, err := forest.FitPredict(totals, contamination)
	if err != nil {
		return nil, err
	}

	result.Anomaly = labels
	result.Scores = scores
	result.Threshold = threshold
	return result, nil
}

// DetectAnomalies runs a default detector with the given contamination.
func DetectAnomalies(t *Table, contamination float64) (*AnomalyResult, error) {
	return NewAnomalyDetector(DefaultAnomalyConfig()).DetectWithContamination(t, contamination)
}
