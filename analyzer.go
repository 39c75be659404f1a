package energylens

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// AnalysisConfig groups the settings of the three analytical components.
type AnalysisConfig struct {
	Anomaly       AnomalyConfig `yaml:"anomaly"`
	ForecastHours int           `yaml:"forecast_hours"`
	Report        ReportConfig  `yaml:"report"`
	Planner       PlannerConfig `yaml:"planner"`
}

// DefaultAnalysisConfig returns default analysis configuration.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Anomaly:       DefaultAnomalyConfig(),
		ForecastHours: DefaultForecastHours,
		Report:        DefaultReportConfig(),
		Planner:       DefaultPlannerConfig(),
	}
}

// Summary holds whole-dataset figures shown next to the three outputs.
type Summary struct {
	Rows               int     `json:"rows"`
	TotalKWh           float64 `json:"total_kwh"`
	EstimatedBill      float64 `json:"estimated_bill"`
	CO2Kg              float64 `json:"co2_kg"`
	PeakHourIndex      int     `json:"peak_hour_index"`
	PeakKWh            float64 `json:"peak_kwh"`
	AnomalyCount       int     `json:"anomaly_count"`
	EfficiencyScore    int     `json:"efficiency_score"`
	VampireLoadKWh     float64 `json:"vampire_load_kwh"`
	ApplianceCost      float64 `json:"appliance_cost"`
	PotentialSavings   float64 `json:"potential_savings"`
	ForecastNextDayKWh float64 `json:"forecast_next_day_kwh"`
}

// Analysis is the assembled output of one run over one dataset.
type Analysis struct {
	RunID           string                 `json:"run_id"`
	CreatedAt       time.Time              `json:"created_at"`
	Schema          Schema                 `json:"schema"`
	Contamination   float64                `json:"contamination"`
	AnomalyRows     []int                  `json:"anomaly_rows"`
	Forecast        []ForecastPoint        `json:"forecast"`
	Trend           *TrendModel            `json:"trend,omitempty"`
	Report          []ApplianceReportEntry `json:"report"`
	Summary         Summary                `json:"summary"`
	Recommendations []string               `json:"recommendations"`

	// Anomalies holds the per-row flags. It is not serialised with the run.
	Anomalies *AnomalyResult `json:"-"`
}

// ResultSink receives every completed analysis.
type ResultSink interface {
	Name() string
	Deliver(ctx context.Context, a *Analysis) error
}

// Analyzer runs the anomaly detector, forecaster and appliance reporter over
// one table and hands the assembled result to its sinks.
type Analyzer struct {
	config     AnalysisConfig
	detector   *AnomalyDetector
	forecaster *Forecaster
	reporter   *ApplianceReporter
	metrics    *Metrics
	sinks      []ResultSink
	now        func() time.Time
}

// NewAnalyzer creates an analyzer. metrics may be nil.
func NewAnalyzer(config AnalysisConfig, metrics *Metrics, sinks ...ResultSink) *Analyzer {
	if config.ForecastHours < 0 {
		config.ForecastHours = DefaultForecastHours
	}
	return &Analyzer{
		config:     config,
		detector:   NewAnomalyDetector(config.Anomaly),
		forecaster: NewForecaster(),
		reporter:   NewApplianceReporter(config.Report),
		metrics:    metrics,
		sinks:      sinks,
		now:        time.Now,
	}
}

// Config returns the analysis configuration.
func (a *Analyzer) Config() AnalysisConfig {
	return a.config
}

// Analyze runs all three components over t. Sink failures are logged and
// do not fail the run.
func (a *Analyzer) Analyze(ctx context.Context, t *Table) (*Analysis, error) {
	start := a.now()
	result, err := a.analyze(t)
	a.metrics.observeRun(a.now().Sub(start), result, err)
	if err != nil {
		return nil, err
	}

	for _, sink := range a.sinks {
		if err := sink.Deliver(ctx, result); err != nil {
			slog.Warn("analysis sink failed", "sink", sink.Name(), "run_id", result.RunID, "err", err)
			a.metrics.sinkFailed(sink.Name())
		}
	}
	return result, nil
}

func (a *Analyzer) analyze(t *Table) (*Analysis, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyTable
	}

	anomalies, err := a.detector.Detect(t)
	if err != nil {
		return nil, fmt.Errorf("anomaly detection: %w", err)
	}
	forecast, err := a.forecaster.Forecast(t, a.config.ForecastHours)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	report := a.reporter.Report(t)

	result := &Analysis{
		RunID:         uuid.NewString(),
		CreatedAt:     a.now().UTC(),
		Schema:        t.Schema(),
		Contamination: anomalies.Contamination,
		AnomalyRows:   anomalies.Indices(),
		Forecast:      forecast,
		Report:        report,
		Anomalies:     anomalies,
	}
	if trend, err := a.forecaster.Fit(t); err == nil {
		result.Trend = &trend
	}
	result.Summary = a.summarize(t, anomalies, forecast, report)
	result.Recommendations = recommend(result)
	return result, nil
}

func (a *Analyzer) summarize(t *Table, anomalies *AnomalyResult, forecast []ForecastPoint, report []ApplianceReportEntry) Summary {
	totals, _ := t.column(TotalColumn)
	total := sum(totals)

	s := Summary{
		Rows:            t.Len(),
		TotalKWh:        round(total, 2),
		EstimatedBill:   a.reporter.Config().Cost(total),
		CO2Kg:           round(total*a.reporter.Config().CO2Factor, 2),
		AnomalyCount:    anomalies.Count(),
		EfficiencyScore: efficiencyScore(anomalies.Count()),
		VampireLoadKWh:  round(vampireLoad(t), 2),
	}
	for i, v := range totals {
		if i == 0 || v > s.PeakKWh {
			s.PeakHourIndex = i
			s.PeakKWh = v
		}
	}
	s.PeakKWh = round(s.PeakKWh, 2)

	applianceCost := 0.0
	for _, e := range report {
		applianceCost += e.Cost
	}
	s.ApplianceCost = round(applianceCost, 2)
	s.PotentialSavings = round(applianceCost*0.15, 2)

	next := 0.0
	for i, p := range forecast {
		if i >= 24 {
			break
		}
		next += p.PredictedKWh
	}
	s.ForecastNextDayKWh = round(next, 2)
	return s
}

// efficiencyScore drops ten points per anomalous hour, never below 60.
func efficiencyScore(anomalyCount int) int {
	score := 100 - anomalyCount*10
	if score < 60 {
		return 60
	}
	return score
}

// vampireLoad sums total consumption between 23:00 and 01:59, when a household
// is expected to be idle. Tables without timestamps have no vampire load.
func vampireLoad(t *Table) float64 {
	if !t.HasTimestamps() {
		return 0
	}
	totals, _ := t.column(TotalColumn)
	load := 0.0
	for i, ts := range t.timestamps {
		switch ts.Hour() {
		case 23, 0, 1:
			load += totals[i]
		}
	}
	return load
}

func recommend(a *Analysis) []string {
	var recs []string
	for _, e := range a.Report {
		if e.UsageTier == TierHigh {
			recs = append(recs, fmt.Sprintf("%s is a high consumer (%.2f kWh); reduce usage or shift it off-peak", e.Appliance, e.TotalKWh))
		}
	}
	if n := a.Summary.AnomalyCount; n > 0 {
		recs = append(recs, fmt.Sprintf("%d unusual consumption hour(s) detected; check for appliances left running", n))
	}
	if a.Summary.VampireLoadKWh > 0 {
		recs = append(recs, fmt.Sprintf("Night-time standby load is %.2f kWh; unplug idle devices", a.Summary.VampireLoadKWh))
	}
	if a.Trend != nil && a.Trend.Slope > 0 && !math.IsNaN(a.Trend.Slope) {
		recs = append(recs, fmt.Sprintf("Consumption is trending up by %.3f kWh per hour", a.Trend.Slope))
	}
	if len(recs) == 0 {
		recs = append(recs, "Consumption looks healthy; keep current habits")
	}
	return recs
}
