package energylens

import "math"

// Helper functions

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// meanAbsDeviation is the mean absolute deviation of values from their own mean.
func meanAbsDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	total := 0.0
	for _, v := range values {
		total += math.Abs(v - m)
	}
	return total / float64(len(values))
}

// rmsDeviation is the root-mean-squared deviation of values from their own mean.
func rmsDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func rmse(actual, fitted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sumSq := 0.0
	for i, a := range actual {
		diff := a - fitted[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(actual)))
}

func mae(actual, fitted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	total := 0.0
	for i, a := range actual {
		total += math.Abs(a - fitted[i])
	}
	return total / float64(len(actual))
}

// round rounds v to the given number of decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
