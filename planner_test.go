package energylens

import (
	"errors"
	"testing"
	"time"
)

func TestPlannerSchedule(t *testing.T) {
	start := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	tbl := mustTable(t, start, []string{TotalColumn}, []float64{1, 2, 3, 2})

	slots, err := NewPlanner(DefaultPlannerConfig()).Schedule(tbl)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	want := []string{LevelLow, LevelMedium, LevelHigh, LevelMedium}
	for i, s := range slots {
		if s.UsageLevel != want[i] {
			t.Errorf("slot %d: expected %s, got %s", i, want[i], s.UsageLevel)
		}
		if s.HourIndex != i {
			t.Errorf("slot %d: unexpected hour index %d", i, s.HourIndex)
		}
	}
	if slots[2].TotalCost != 30 {
		t.Errorf("expected cost 30, got %v", slots[2].TotalCost)
	}
	if slots[3].Time == nil || slots[3].Time.Hour() != 9 {
		t.Errorf("expected slot 3 at 09:00, got %v", slots[3].Time)
	}
}

func TestPlannerScheduleMissingTotal(t *testing.T) {
	tbl := mustTable(t, time.Time{}, []string{"ac_kwh"}, []float64{1})
	if _, err := NewPlanner(PlannerConfig{}).Schedule(tbl); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}

func TestPlannerBudgetTotal(t *testing.T) {
	tbl := mustTable(t, time.Time{}, []string{TotalColumn, "kitchen_kwh", "ac_kwh"},
		[]float64{1, 2, 3, 2},
		[]float64{0.5, 1, 1.5, 1},
		[]float64{0.5, 1, 1.5, 1},
	)

	plan, err := NewPlanner(DefaultPlannerConfig()).Budget(tbl, 40, "")
	if err != nil {
		t.Fatalf("Budget failed: %v", err)
	}
	if plan.Category != "total" {
		t.Errorf("expected total category, got %q", plan.Category)
	}
	if plan.TotalKWh != 8 || plan.TotalCost != 80 {
		t.Errorf("expected 8 kWh / 80, got %v / %v", plan.TotalKWh, plan.TotalCost)
	}
	if plan.HoursAllowed != 2 {
		t.Errorf("expected 2 hours allowed, got %d", plan.HoursAllowed)
	}
	if plan.WithinBudget || plan.RemainingBudget != -40 {
		t.Errorf("expected over budget by 40, got within=%v remaining=%v", plan.WithinBudget, plan.RemainingBudget)
	}
	for _, key := range []string{"kitchen", "ac"} {
		if h := plan.RecommendedHours[key]; h != 2 {
			t.Errorf("%s: expected 2 recommended hours, got %v", key, h)
		}
	}
}

func TestPlannerBudgetAppliance(t *testing.T) {
	tbl := mustTable(t, time.Time{}, []string{TotalColumn, "kitchen_kwh"},
		[]float64{1, 2, 3, 2}, []float64{0.5, 1, 1.5, 1})

	plan, err := NewPlanner(DefaultPlannerConfig()).Budget(tbl, 50, "Kitchen")
	if err != nil {
		t.Fatalf("Budget failed: %v", err)
	}
	if plan.TotalCost != 40 || !plan.WithinBudget || plan.RemainingBudget != 10 {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if plan.HoursAllowed != 5 {
		t.Errorf("expected 5 hours allowed, got %d", plan.HoursAllowed)
	}
	if h := plan.RecommendedHours["kitchen"]; h != 4 {
		t.Errorf("recommended hours are capped at the dataset length, got %v", h)
	}
}

func TestPlannerBudgetErrors(t *testing.T) {
	tbl := mustTable(t, time.Time{}, []string{TotalColumn}, []float64{1, 2})
	p := NewPlanner(DefaultPlannerConfig())

	if _, err := p.Budget(tbl, 0, "total"); !errors.Is(err, ErrInvalidBudget) {
		t.Errorf("expected ErrInvalidBudget, got %v", err)
	}
	if _, err := p.Budget(tbl, 10, "sauna"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}

	noTotal := mustTable(t, time.Time{}, []string{"ac_kwh"}, []float64{1, 2})
	if _, err := p.Budget(noTotal, 10, "total"); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}
