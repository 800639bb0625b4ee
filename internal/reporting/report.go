package reporting

import (
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/universe"
)

// Report is the markdown run report.
type Report struct {
	GeneratedAt time.Time

	// Update run counts. Nil when only aggregation ran.
	Run *domain.RunSummary

	// Aggregation summary. Nil when only the update ran.
	Aggregate *AggregateSection

	// Universe rows excluded while loading metadata.
	UniverseIssues []universe.Issue

	// Files written alongside the report.
	Outputs []string
}

// AggregateSection summarizes one aggregation pass.
type AggregateSection struct {
	AsOf          time.Time
	Window        int
	Records       int
	Tickers       int
	NoMeta        []string
	BelowMinPrice []string
	Kinds         []KindSummary
}

// KindSummary lists the strongest and weakest groups of one kind.
type KindSummary struct {
	Kind    domain.GroupKind
	Groups  int
	Present int
	Absent  int
	Top     []SlopeRow // highest slopes first
	Bottom  []SlopeRow // lowest slopes first
}

// SlopeRow is one ranked group.
type SlopeRow struct {
	Rank        int
	Label       string
	Slope       float64
	SampleCount int
}
