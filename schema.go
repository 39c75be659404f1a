package energylens

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TotalColumn is the reserved whole-house consumption column.
const TotalColumn = "total_kwh"

// applianceMarker identifies appliance consumption columns.
const applianceMarker = "_kwh"

// ColumnRole identifies what an input column carries.
type ColumnRole int

const (
	// RoleOther is a column the analysis ignores.
	RoleOther ColumnRole = iota
	// RoleTotal is the whole-house consumption column.
	RoleTotal
	// RoleAppliance is a per-appliance consumption column.
	RoleAppliance
	// RoleTimestamp is the wall-clock hour of each row.
	RoleTimestamp
)

func (r ColumnRole) String() string {
	switch r {
	case RoleTotal:
		return "total"
	case RoleAppliance:
		return "appliance"
	case RoleTimestamp:
		return "timestamp"
	default:
		return "other"
	}
}

// ApplianceColumn pairs an appliance column with its display name.
type ApplianceColumn struct {
	Column string `json:"column"`
	Name   string `json:"name"`
}

// Schema is the role classification of a table's columns.
type Schema struct {
	Total      string            `json:"total,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"`
	Appliances []ApplianceColumn `json:"appliances"`
	Other      []string          `json:"other,omitempty"`
}

// HasTotal reports whether the total consumption column is present.
func (s Schema) HasTotal() bool {
	return s.Total != ""
}

// RequireTotal returns a *MissingColumnError when total_kwh is absent.
func (s Schema) RequireTotal() error {
	if !s.HasTotal() {
		return newMissingColumnError(TotalColumn)
	}
	return nil
}

// Appliance looks up an appliance by column or display name, case-insensitively.
func (s Schema) Appliance(key string) (ApplianceColumn, bool) {
	for _, a := range s.Appliances {
		if strings.EqualFold(a.Column, key) || strings.EqualFold(a.Name, key) ||
			strings.EqualFold(strings.TrimSuffix(a.Column, applianceMarker), key) {
			return a, true
		}
	}
	return ApplianceColumn{}, false
}

// ClassifyColumn returns the role of a single column name.
func ClassifyColumn(name string) ColumnRole {
	if name == TotalColumn {
		return RoleTotal
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "datetime", "timestamp", "date", "time":
		return RoleTimestamp
	}
	if strings.Contains(name, applianceMarker) {
		return RoleAppliance
	}
	return RoleOther
}

// DescribeSchema classifies columns into roles, keeping input order for appliances.
func DescribeSchema(columns []string) Schema {
	s := Schema{Appliances: []ApplianceColumn{}}
	for _, name := range columns {
		switch ClassifyColumn(name) {
		case RoleTotal:
			s.Total = name
		case RoleTimestamp:
			if s.Timestamp == "" {
				s.Timestamp = name
			}
		case RoleAppliance:
			s.Appliances = append(s.Appliances, ApplianceColumn{
				Column: name,
				Name:   ApplianceDisplayName(name),
			})
		default:
			s.Other = append(s.Other, name)
		}
	}
	return s
}

// ApplianceDisplayName derives a human name from a column name,
// e.g. "living_room_kwh" becomes "Living Room".
func ApplianceDisplayName(column string) string {
	name := strings.ReplaceAll(column, applianceMarker, "")
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return cases.Title(language.Und).String(strings.TrimSpace(name))
}
