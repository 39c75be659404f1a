package energylens

import (
	"math"

	"github.com/shopspring/decimal"
)

// UsageTier is a coarse consumption bucket.
type UsageTier string

const (
	TierHigh   UsageTier = "High Usage"
	TierMedium UsageTier = "Medium Usage"
	TierLow    UsageTier = "Low Usage"
)

// Recommendation returns the fixed advice for the tier.
func (t UsageTier) Recommendation() string {
	switch t {
	case TierHigh:
		return "Reduce usage"
	case TierMedium:
		return "Optimize hours"
	default:
		return "Keep usage"
	}
}

// DefaultBudgetPlan is the budget advice attached to every report entry.
const DefaultBudgetPlan = "Reduce usage to meet budget"

// ReportConfig holds the emission factor, tariff and tier thresholds used by
// the appliance report.
type ReportConfig struct {
	// CO2Factor is kg of CO2 per kWh.
	CO2Factor float64 `yaml:"co2_factor"`

	// UnitCost is currency units per kWh.
	UnitCost float64 `yaml:"unit_cost"`

	// HighUsageKWh is the total above which an appliance is High Usage.
	HighUsageKWh float64 `yaml:"high_usage_kwh"`

	// MediumUsageKWh is the total above which an appliance is Medium Usage.
	MediumUsageKWh float64 `yaml:"medium_usage_kwh"`

	// BudgetPlan is copied verbatim into every entry.
	BudgetPlan string `yaml:"budget_plan"`
}

// DefaultReportConfig returns the documented report constants.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		CO2Factor:      0.82,
		UnitCost:       10,
		HighUsageKWh:   40,
		MediumUsageKWh: 20,
		BudgetPlan:     DefaultBudgetPlan,
	}
}

// Tier buckets a consumption total.
func (c ReportConfig) Tier(totalKWh float64) UsageTier {
	switch {
	case totalKWh > c.HighUsageKWh:
		return TierHigh
	case totalKWh > c.MediumUsageKWh:
		return TierMedium
	default:
		return TierLow
	}
}

// Cost converts kWh to money, rounded to cents.
func (c ReportConfig) Cost(kwh float64) float64 {
	return decimal.NewFromFloat(kwh).
		Mul(decimal.NewFromFloat(c.UnitCost)).
		Round(2).
		InexactFloat64()
}

// ApplianceReportEntry summarises one appliance column.
type ApplianceReportEntry struct {
	Appliance      string    `json:"appliance"`
	TotalKWh       float64   `json:"predicted_next_day_kwh"`
	CO2Kg          float64   `json:"predicted_co2_kg"`
	MAE            float64   `json:"MAE"`
	RMSE           float64   `json:"RMSE"`
	UsageTier      UsageTier `json:"usage_cluster"`
	EcoScore       float64   `json:"eco_score"`
	Cost           float64   `json:"cost"`
	Recommendation string    `json:"recommendation"`
	BudgetPlan     string    `json:"budget_plan"`
}

// ApplianceReporter aggregates appliance columns into usage, cost and eco metrics.
type ApplianceReporter struct {
	config ReportConfig
}

// NewApplianceReporter creates a reporter. Zero-valued settings take their defaults.
func NewApplianceReporter(config ReportConfig) *ApplianceReporter {
	def := DefaultReportConfig()
	if config.CO2Factor <= 0 {
		config.CO2Factor = def.CO2Factor
	}
	if config.UnitCost <= 0 {
		config.UnitCost = def.UnitCost
	}
	if config.HighUsageKWh <= 0 {
		config.HighUsageKWh = def.HighUsageKWh
	}
	if config.MediumUsageKWh <= 0 {
		config.MediumUsageKWh = def.MediumUsageKWh
	}
	if config.BudgetPlan == "" {
		config.BudgetPlan = def.BudgetPlan
	}
	return &ApplianceReporter{config: config}
}

// Config returns the reporter configuration.
func (r *ApplianceReporter) Config() ReportConfig {
	return r.config
}

// Report builds one entry per appliance column, in column order. A table
// without appliance columns yields an empty slice.
func (r *ApplianceReporter) Report(t *Table) []ApplianceReportEntry {
	schema := t.Schema()
	entries := make([]ApplianceReportEntry, 0, len(schema.Appliances))

	for _, a := range schema.Appliances {
		values, _ := t.column(a.Column)
		entries = append(entries, r.entry(a.Name, values))
	}
	return entries
}

func (r *ApplianceReporter) entry(name string, values []float64) ApplianceReportEntry {
	total := sum(values)
	tier := r.config.Tier(total)

	return ApplianceReportEntry{
		Appliance:      name,
		TotalKWh:       round(total, 2),
		CO2Kg:          round(total*r.config.CO2Factor, 2),
		MAE:            round(meanAbsDeviation(values), 2),
		RMSE:           round(rmsDeviation(values), 2),
		UsageTier:      tier,
		EcoScore:       math.Max(0, round(100-total*2, 1)),
		Cost:           r.config.Cost(total),
		Recommendation: tier.Recommendation(),
		BudgetPlan:     r.config.BudgetPlan,
	}
}

// GenerateApplianceReport runs a reporter with the default constants.
func GenerateApplianceReport(t *Table) []ApplianceReportEntry {
	return NewApplianceReporter(DefaultReportConfig()).Report(t)
}
