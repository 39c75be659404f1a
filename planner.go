package energylens

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Usage levels assigned to schedule slots.
const (
	LevelHigh   = "High"
	LevelMedium = "Medium"
	LevelLow    = "Low"
)

// PlannerConfig configures the schedule and budget planner.
type PlannerConfig struct {
	// UnitCost is currency units per kWh.
	UnitCost float64 `yaml:"unit_cost"`

	// HighFactor marks an hour High when it exceeds HighFactor × mean.
	HighFactor float64 `yaml:"high_factor"`

	// LowFactor marks an hour Low when it is below LowFactor × mean.
	LowFactor float64 `yaml:"low_factor"`
}

// DefaultPlannerConfig returns default planner configuration.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		UnitCost:   10,
		HighFactor: 1.25,
		LowFactor:  0.75,
	}
}

// ScheduleSlot is one hour of the recommended schedule.
type ScheduleSlot struct {
	HourIndex  int        `json:"hour_index"`
	Time       *time.Time `json:"datetime,omitempty"`
	UsageLevel string     `json:"usage_level"`
	TotalKWh   float64    `json:"total_kwh"`
	TotalCost  float64    `json:"total_cost"`
}

// BudgetPlan is the outcome of fitting consumption into a budget.
type BudgetPlan struct {
	Category         string             `json:"category"`
	Budget           float64            `json:"budget"`
	TotalKWh         float64            `json:"total_kwh"`
	TotalCost        float64            `json:"total_cost"`
	HoursAllowed     int                `json:"hours_allowed"`
	RemainingBudget  float64            `json:"remaining_budget"`
	WithinBudget     bool               `json:"within_budget"`
	RecommendedHours map[string]float64 `json:"recommended_hours_per_appliance"`
}

// Planner labels hours by usage level and fits consumption into a budget.
type Planner struct {
	config PlannerConfig
}

// NewPlanner creates a planner. Zero-valued settings take their defaults.
func NewPlanner(config PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if config.UnitCost <= 0 {
		config.UnitCost = def.UnitCost
	}
	if config.HighFactor <= 0 {
		config.HighFactor = def.HighFactor
	}
	if config.LowFactor <= 0 {
		config.LowFactor = def.LowFactor
	}
	return &Planner{config: config}
}

// Schedule labels every hour High, Medium or Low relative to the mean total.
func (p *Planner) Schedule(t *Table) ([]ScheduleSlot, error) {
	if err := t.Schema().RequireTotal(); err != nil {
		return nil, err
	}
	totals, _ := t.column(TotalColumn)
	avg := mean(totals)
	ts := t.Timestamps()

	slots := make([]ScheduleSlot, len(totals))
	for i, v := range totals {
		level := LevelMedium
		switch {
		case v > p.config.HighFactor*avg:
			level = LevelHigh
		case v < p.config.LowFactor*avg:
			level = LevelLow
		}
		slots[i] = ScheduleSlot{
			HourIndex:  i,
			UsageLevel: level,
			TotalKWh:   round(v, 2),
			TotalCost:  p.cost(v).InexactFloat64(),
		}
		if ts != nil {
			slots[i].Time = &ts[i]
		}
	}
	return slots, nil
}

// Budget fits the consumption of category ("total" or an appliance) into budget.
func (p *Planner) Budget(t *Table, budget float64, category string) (*BudgetPlan, error) {
	if budget <= 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return nil, ErrInvalidBudget
	}
	schema := t.Schema()

	column := TotalColumn
	if category == "" || strings.EqualFold(category, "total") {
		category = "total"
		if err := schema.RequireTotal(); err != nil {
			return nil, err
		}
	} else {
		a, ok := schema.Appliance(category)
		if !ok {
			return nil, ErrUnknownCategory
		}
		column = a.Column
	}

	series, _ := t.column(column)
	hours := len(series)
	totalKWh := sum(series)
	totalCost := p.cost(totalKWh)
	budgetDec := decimal.NewFromFloat(budget)

	plan := &BudgetPlan{
		Category:         category,
		Budget:           budget,
		TotalKWh:         round(totalKWh, 2),
		TotalCost:        totalCost.InexactFloat64(),
		HoursAllowed:     hours,
		RemainingBudget:  budgetDec.Sub(totalCost).Round(2).InexactFloat64(),
		WithinBudget:     totalCost.LessThanOrEqual(budgetDec),
		RecommendedHours: make(map[string]float64, len(schema.Appliances)),
	}

	if hours > 0 && totalCost.IsPositive() {
		hourly := totalCost.Div(decimal.NewFromInt(int64(hours)))
		plan.HoursAllowed = int(budgetDec.Div(hourly).Floor().IntPart())
	}

	applianceKWh := make([]float64, len(schema.Appliances))
	allAppliances := 0.0
	for i, a := range schema.Appliances {
		values, _ := t.column(a.Column)
		applianceKWh[i] = sum(values)
		allAppliances += applianceKWh[i]
	}
	for i, a := range schema.Appliances {
		key := strings.TrimSuffix(a.Column, applianceMarker)
		plan.RecommendedHours[key] = p.applianceHours(budget, applianceKWh[i], allAppliances, hours)
	}

	return plan, nil
}

// applianceHours splits the budget by consumption share and converts the
// appliance's slice of it into hours at its average hourly cost.
func (p *Planner) applianceHours(budget, kwh, allKWh float64, hours int) float64 {
	if hours == 0 || kwh <= 0 || allKWh <= 0 {
		return 0
	}
	share := budget * kwh / allKWh
	hourlyCost := kwh * p.config.UnitCost / float64(hours)
	return round(math.Min(share/hourlyCost, float64(hours)), 1)
}

func (p *Planner) cost(kwh float64) decimal.Decimal {
	return decimal.NewFromFloat(kwh).Mul(decimal.NewFromFloat(p.config.UnitCost)).Round(2)
}
