package energylens

import (
	"errors"
	"time"
)

// DefaultForecastHours is the default forecast horizon.
const DefaultForecastHours = 24

// ForecastPoint is a predicted hourly total.
type ForecastPoint struct {
	// HourIndex continues the input's zero-based row index.
	HourIndex int `json:"hour_index"`

	// PredictedKWh is the extrapolated total. It is not clamped at zero.
	PredictedKWh float64 `json:"predicted_kwh"`

	// Time is set when the input rows carry timestamps.
	Time *time.Time `json:"datetime,omitempty"`
}

// TrendModel is an ordinary least-squares line over (row index, total_kwh).
type TrendModel struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`

	// RMSE and MAE describe the in-sample fit.
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`

	Samples int `json:"samples"`
}

// Predict evaluates the line at a row index.
func (m TrendModel) Predict(index int) float64 {
	return m.Intercept + m.Slope*float64(index)
}

// Forecaster extrapolates total consumption with a linear trend.
// It captures only the first-order trend; seasonality is not modelled.
type Forecaster struct{}

// NewForecaster creates a new forecaster.
func NewForecaster() *Forecaster {
	return &Forecaster{}
}

// Fit fits the trend line. Rows are assumed chronological and one hour apart.
func (f *Forecaster) Fit(t *Table) (TrendModel, error) {
	if err := t.Schema().RequireTotal(); err != nil {
		return TrendModel{}, err
	}
	y, _ := t.column(TotalColumn)
	n := len(y)
	if n < 2 {
		return TrendModel{}, ErrInsufficientHistory
	}

	xMean := float64(n-1) / 2
	yMean := mean(y)

	var sxy, sxx float64
	for i, v := range y {
		dx := float64(i) - xMean
		sxy += dx * (v - yMean)
		sxx += dx * dx
	}

	model := TrendModel{Samples: n}
	model.Slope = sxy / sxx
	model.Intercept = yMean - model.Slope*xMean

	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = model.Predict(i)
	}
	model.RMSE = rmse(y, fitted)
	model.MAE = mae(y, fitted)

	return model, nil
}

// Forecast predicts total_kwh for hoursAhead hours after the last row.
// Fewer than two rows or a non-positive horizon yield an empty slice.
func (f *Forecaster) Forecast(t *Table, hoursAhead int) ([]ForecastPoint, error) {
	model, err := f.Fit(t)
	if errors.Is(err, ErrInsufficientHistory) {
		return []ForecastPoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	if hoursAhead <= 0 {
		return []ForecastPoint{}, nil
	}

	n := t.Len()
	var last time.Time
	if t.HasTimestamps() {
		last = t.timestamps[n-1]
	}

	points := make([]ForecastPoint, hoursAhead)
	for i := range points {
		idx := n + i
		points[i] = ForecastPoint{
			HourIndex:    idx,
			PredictedKWh: model.Predict(idx),
		}
		if t.HasTimestamps() {
			ts := last.Add(time.Duration(i+1) * time.Hour)
			points[i].Time = &ts
		}
	}
	return points, nil
}

// ForecastEnergy runs a default forecaster.
func ForecastEnergy(t *Table, hoursAhead int) ([]ForecastPoint, error) {
	return NewForecaster().Forecast(t, hoursAhead)
}
