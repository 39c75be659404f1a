package anomaly

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultForestConfig(t *testing.T) {
	config := DefaultForestConfig()

	if config.NumTrees != 100 {
		t.Errorf("expected 100 trees, got %d", config.NumTrees)
	}
	if config.MaxSamples != 256 {
		t.Errorf("expected max samples 256, got %d", config.MaxSamples)
	}
	if config.Seed != 42 {
		t.Errorf("expected seed 42, got %d", config.Seed)
	}
}

func TestIsolationForest_EmptyData(t *testing.T) {
	forest := NewIsolationForest(DefaultForestConfig())
	if err := forest.Fit(nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestIsolationForest_ScoreRange(t *testing.T) {
	forest := NewIsolationForest(DefaultForestConfig())

	data := make([]float64, 1000)
	for i := range data {
		data[i] = float64(i % 100)
	}
	if err := forest.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	score := forest.Score(50.0)
	if score <= 0 || score > 1 {
		t.Errorf("score should be in (0, 1], got %f", score)
	}
}

func TestIsolationForest_SpikeScoresHigher(t *testing.T) {
	forest := NewIsolationForest(DefaultForestConfig())

	data := make([]float64, 200)
	for i := range data {
		data[i] = 10 + float64(i%5)*0.1
	}
	data[120] = 95

	if err := forest.Fit(data); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	spike := forest.Score(95)
	normal := forest.Score(10.2)
	if spike <= normal {
		t.Errorf("expected spike score %f > normal score %f", spike, normal)
	}
}

func TestIsolationForest_FitPredictFlagsSpike(t *testing.T) {
	forest := NewIsolationForest(DefaultForestConfig())

	data := make([]float64, 100)
	for i := range data {
		data[i] = 2 + float64(i%4)*0.05
	}
	data[37] = 25

	labels, scores, _, err := forest.FitPredict(data, 0.05)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	if len(labels) != len(data) || len(scores) != len(data) {
		t.Fatalf("expected %d labels and scores, got %d and %d", len(data), len(labels), len(scores))
	}
	if !labels[37] {
		t.Error("expected the spike to be labelled as outlier")
	}

	flagged := 0
	for _, l := range labels {
		if l {
			flagged++
		}
	}
	if flagged > int(math.Ceil(0.05*float64(len(data)))) {
		t.Errorf("flagged %d points, more than the contamination allows", flagged)
	}
}

func TestIsolationForest_ConstantSignal(t *testing.T) {
	forest := NewIsolationForest(DefaultForestConfig())

	data := make([]float64, 48)
	for i := range data {
		data[i] = 1.5
	}

	labels, _, _, err := forest.FitPredict(data, 0.05)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	for i, l := range labels {
		if l {
			t.Errorf("constant signal should have no outliers, row %d flagged", i)
		}
	}
}

func TestIsolationForest_Deterministic(t *testing.T) {
	data := []float64{1, 1.2, 0.9, 1.1, 7, 1.05, 0.95, 1.0, 1.3, 0.2, 1.1, 1.0}

	first, firstScores, _, err := NewIsolationForest(DefaultForestConfig()).FitPredict(data, 0.1)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	second, secondScores, _, err := NewIsolationForest(DefaultForestConfig()).FitPredict(data, 0.1)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}

	for i := range first {
		if first[i] != second[i] {
			t.Errorf("row %d: labels differ between runs", i)
		}
		if firstScores[i] != secondScores[i] {
			t.Errorf("row %d: scores differ between runs (%f vs %f)", i, firstScores[i], secondScores[i])
		}
	}
}

func TestIsolationForest_SinglePoint(t *testing.T) {
	labels, scores, _, err := NewIsolationForest(DefaultForestConfig()).FitPredict([]float64{3}, 0.05)
	if err != nil {
		t.Fatalf("FitPredict failed: %v", err)
	}
	if labels[0] {
		t.Error("a single point cannot be an outlier")
	}
	if scores[0] != 0.5 {
		t.Errorf("expected neutral score 0.5, got %f", scores[0])
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		q        float64
		expected float64
	}{
		{"empty", nil, 0.5, 0},
		{"median odd", []float64{3, 1, 2}, 0.5, 2},
		{"median even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"interpolated", []float64{0, 10}, 0.95, 9.5},
		{"min", []float64{5, 4, 6}, 0, 4},
		{"max", []float64{5, 4, 6}, 1, 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Percentile(tc.values, tc.q)
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tc.values, tc.q, got, tc.expected)
			}
		})
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 {
		t.Error("c(1) should be 0")
	}
	if averagePathLength(2) != 1 {
		t.Error("c(2) should be 1")
	}
	if c := averagePathLength(256); c < 9 || c > 11 {
		t.Errorf("c(256) should be about 10.2, got %f", c)
	}
}
