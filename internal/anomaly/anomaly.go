package anomaly

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// ErrNoData is returned when a forest is fit on an empty sample set.
var ErrNoData = errors.New("anomaly: no data to fit")

// ForestConfig configures an isolation forest.
type ForestConfig struct {
	// NumTrees is the number of isolation trees in the ensemble.
	NumTrees int

	// MaxSamples caps the sub-sample drawn for each tree.
	// The effective sample size is min(MaxSamples, len(data)).
	MaxSamples int

	// Seed makes tree construction reproducible.
	Seed int64
}

// DefaultForestConfig returns the default forest configuration.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:   100,
		MaxSamples: 256,
		Seed:       42,
	}
}

// IsolationForest implements the Isolation Forest algorithm over a single feature.
type IsolationForest struct {
	config     ForestConfig
	trees      []*isolationNode
	sampleSize int
	trained    bool
}

type isolationNode struct {
	splitValue float64
	left       *isolationNode
	right      *isolationNode
	size       int
	isLeaf     bool
}

// NewIsolationForest creates a new isolation forest.
func NewIsolationForest(config ForestConfig) *IsolationForest {
	if config.NumTrees <= 0 {
		config.NumTrees = 100
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = 256
	}
	return &IsolationForest{config: config}
}

// Fit builds the trees from data. Fitting twice with the same data and seed
// yields the same forest.
func (f *IsolationForest) Fit(data []float64) error {
	if len(data) == 0 {
		return ErrNoData
	}

	rng := rand.New(rand.NewSource(f.config.Seed))

	f.sampleSize = f.config.MaxSamples
	if len(data) < f.sampleSize {
		f.sampleSize = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(f.sampleSize), 2))))

	f.trees = make([]*isolationNode, f.config.NumTrees)
	for i := range f.trees {
		sample := sampleWithoutReplacement(rng, data, f.sampleSize)
		f.trees[i] = buildTree(rng, sample, 0, maxDepth)
	}

	f.trained = true
	return nil
}

func buildTree(rng *rand.Rand, data []float64, depth, maxDepth int) *isolationNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &isolationNode{size: len(data), isLeaf: true}
	}

	minVal, maxVal := minMax(data)
	if minVal == maxVal {
		return &isolationNode{size: len(data), isLeaf: true}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right []float64
	for _, v := range data {
		if v < splitValue {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &isolationNode{
		splitValue: splitValue,
		left:       buildTree(rng, left, depth+1, maxDepth),
		right:      buildTree(rng, right, depth+1, maxDepth),
		size:       len(data),
	}
}

// Score returns the anomaly score for a value, in (0, 1].
// Scores close to 1 isolate quickly and are more anomalous.
func (f *IsolationForest) Score(value float64) float64 {
	if !f.trained || len(f.trees) == 0 {
		return 0.5
	}
	c := averagePathLength(float64(f.sampleSize))
	if c == 0 {
		return 0.5
	}

	total := 0.0
	for _, root := range f.trees {
		total += pathLength(root, value, 0)
	}
	avgPath := total / float64(len(f.trees))

	return math.Pow(2, -avgPath/c)
}

// ScoreAll scores every value.
func (f *IsolationForest) ScoreAll(values []float64) []float64 {
	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = f.Score(v)
	}
	return scores
}

// FitPredict fits the forest on data and labels each value. A value is an
// outlier when its score is strictly above the (1 - contamination) quantile
// of all scores. It returns the labels, the scores and the threshold used.
func (f *IsolationForest) FitPredict(data []float64, contamination float64) ([]bool, []float64, float64, error) {
	if err := f.Fit(data); err != nil {
		return nil, nil, 0, err
	}
	scores := f.ScoreAll(data)
	threshold := Percentile(scores, 1-contamination)

	labels := make([]bool, len(scores))
	for i, s := range scores {
		labels[i] = s > threshold
	}
	return labels, scores, threshold, nil
}

func pathLength(node *isolationNode, value float64, depth int) float64 {
	if node.isLeaf {
		if node.size > 1 {
			return float64(depth) + averagePathLength(float64(node.size))
		}
		return float64(depth)
	}
	if value < node.splitValue {
		return pathLength(node.left, value, depth+1)
	}
	return pathLength(node.right, value, depth+1)
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// Percentile returns the q-quantile (0 <= q <= 1) of values using linear
// interpolation between closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func sampleWithoutReplacement(rng *rand.Rand, data []float64, size int) []float64 {
	if size >= len(data) {
		sample := make([]float64, len(data))
		copy(sample, data)
		return sample
	}
	idx := rng.Perm(len(data))[:size]
	sample := make([]float64, size)
	for i, j := range idx {
		sample[i] = data[j]
	}
	return sample
}

func minMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	min, max := data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
