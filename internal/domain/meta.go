package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TickerMeta is reference data for one ticker from the universe file.
// Read-only input to aggregation.
type TickerMeta struct {
	Ticker        string
	CompanyName   string
	Exchange      string
	Sector        string
	Industry      string
	MarketCap     decimal.Decimal
	Price         decimal.Decimal
	AverageVolume int64
}

// Group returns the label of the given kind, or "" when unknown.
func (m *TickerMeta) Group(kind GroupKind) string {
	var label string
	switch kind {
	case GroupSector:
		label = m.Sector
	case GroupIndustry:
		label = m.Industry
	}
	label = strings.TrimSpace(label)
	if strings.EqualFold(label, "unknown") {
		return ""
	}
	return label
}

// GroupKind selects which TickerMeta label a ticker is aggregated under.
type GroupKind string

const (
	GroupSector   GroupKind = "sector"
	GroupIndustry GroupKind = "industry"
)

// GroupKinds lists kinds in output order.
var GroupKinds = []GroupKind{GroupSector, GroupIndustry}

// String returns the string representation of GroupKind.
func (k GroupKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k GroupKind) IsValid() bool {
	return k == GroupSector || k == GroupIndustry
}
