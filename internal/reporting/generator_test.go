package reporting

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/metrics"
	"stock-trend-lab/internal/universe"
)

func ptr(v float64) *float64 { return &v }

func closes(ticker string, values ...float64) []*domain.PriceRecord {
	start := domain.MustDate("2024-01-01")
	out := make([]*domain.PriceRecord, 0, len(values))
	for i, v := range values {
		px := decimal.NewFromFloat(v)
		out = append(out, &domain.PriceRecord{
			Ticker: ticker, Date: domain.AddDays(start, i),
			Open: px, High: px, Low: px, Close: px, Volume: 10,
		})
	}
	return out
}

func aggregate(t *testing.T) *metrics.Result {
	t.Helper()
	cfg := metrics.DefaultConfig()
	cfg.TrendWindow = 3
	cfg.MAWindows = []int{2}
	cfg.MATrendWindow = 2
	cfg.GroupMAWindow = 2
	cfg.GroupMATop = 1

	e, err := metrics.NewEngine(metrics.EngineOptions{Config: cfg})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	var records []*domain.PriceRecord
	records = append(records, closes("SOFT", 100, 101, 103.02, 101.9898)...)
	records = append(records, closes("OIL", 50, 51)...)
	metas := map[string]*domain.TickerMeta{
		"SOFT": {Ticker: "SOFT", Sector: "Technology", Industry: "Software, Application", Price: decimal.NewFromInt(50)},
		"OIL":  {Ticker: "OIL", Sector: "Energy", Industry: "Oil", Price: decimal.NewFromInt(51)},
	}
	return e.Aggregate(records, metas, domain.MustDate("2024-01-04"))
}

func TestWriteHistory_WideLayout(t *testing.T) {
	d := domain.MustDate
	series := []domain.ReturnSeries{
		{Label: "Energy", Points: []domain.ReturnPoint{{Date: d("2024-01-02"), Mean: 0.02}}},
		{Label: "Tech", Points: []domain.ReturnPoint{{Date: d("2024-01-02"), Mean: 0.01}, {Date: d("2024-01-03"), Mean: -0.5}}},
	}

	var buf bytes.Buffer
	if err := WriteHistory(&buf, series, []time.Time{d("2024-01-02"), d("2024-01-03")}); err != nil {
		t.Fatalf("WriteHistory failed: %v", err)
	}

	want := "Date,Energy,Tech\n2024-01-02,0.02,0.01\n2024-01-03,,-0.5\n"
	if buf.String() != want {
		t.Errorf("unexpected history:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteSlopes_AbsentIsEmptyCell(t *testing.T) {
	slopes := []domain.TrendSlope{
		{Kind: domain.GroupIndustry, Label: "Software", Slope: ptr(-0.01), WindowSize: 3, SampleCount: 3},
		{Kind: domain.GroupIndustry, Label: "Oil, Gas", WindowSize: 3, SampleCount: 1},
	}

	var buf bytes.Buffer
	if err := WriteSlopes(&buf, slopes); err != nil {
		t.Fatalf("WriteSlopes failed: %v", err)
	}

	want := "kind,label,slope,window_size,sample_count\n" +
		"industry,Software,-0.01,3,3\n" +
		"industry,\"Oil, Gas\",,3,1\n"
	if buf.String() != want {
		t.Errorf("unexpected slopes:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteMATrends(t *testing.T) {
	trends := []domain.MATrend{{
		Ticker:   "AAA",
		AsOf:     domain.MustDate("2024-01-04"),
		Close:    4,
		Averages: map[int]*float64{2: ptr(3.5), 50: nil},
		Slopes:   map[int]*float64{2: ptr(1), 50: nil},
	}}

	var buf bytes.Buffer
	if err := WriteMATrends(&buf, trends); err != nil {
		t.Fatalf("WriteMATrends failed: %v", err)
	}

	want := "ticker,as_of,close,ma_2,ma_2_slope,ma_50,ma_50_slope\nAAA,2024-01-04,4,3.5,1,,\n"
	if buf.String() != want {
		t.Errorf("unexpected ma trends:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestGenerator_WriteAggregate(t *testing.T) {
	dir := t.TempDir()
	res := aggregate(t)

	paths, err := NewGenerator(dir).WriteAggregate(res, domain.GroupKinds)
	if err != nil {
		t.Fatalf("WriteAggregate failed: %v", err)
	}

	for _, name := range []string{
		"sector_history.csv", "sector_slopes.csv", "sector_ma.csv",
		"industry_history.csv", "industry_slopes.csv", "industry_ma.csv",
		MATrendsFile,
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if len(paths) != 7 {
		t.Errorf("expected 7 files, got %d", len(paths))
	}

	data, err := os.ReadFile(filepath.Join(dir, "industry_slopes.csv"))
	if err != nil {
		t.Fatalf("read slopes: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse slopes: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][1] != "Software, Application" {
		t.Errorf("expected Software ranked first, got %q", rows[1][1])
	}
	slope, err := strconv.ParseFloat(rows[1][2], 64)
	if err != nil || math.Abs(slope+0.01) > 1e-9 {
		t.Errorf("expected slope -0.01, got %q", rows[1][2])
	}
	if strings.Join(rows[2], ",") != "industry,Oil,,3,1" {
		t.Errorf("expected Oil absent, got %v", rows[2])
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestGenerator_WriteAggregateIsDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	res := aggregate(t)

	if _, err := NewGenerator(dirA).WriteAggregate(res, domain.GroupKinds); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := NewGenerator(dirB).WriteAggregate(aggregate(t), domain.GroupKinds); err != nil {
		t.Fatalf("second write: %v", err)
	}

	for _, kind := range domain.GroupKinds {
		for _, name := range []string{HistoryFile(kind), SlopesFile(kind)} {
			a, _ := os.ReadFile(filepath.Join(dirA, name))
			b, _ := os.ReadFile(filepath.Join(dirB, name))
			if !bytes.Equal(a, b) {
				t.Errorf("%s differs between runs", name)
			}
		}
	}
}

func TestGenerator_ReportMarkdown(t *testing.T) {
	fixed := time.Date(2024, 1, 5, 6, 0, 0, 0, time.UTC)
	g := NewGenerator(t.TempDir()).WithClock(func() time.Time { return fixed })

	run := &domain.RunSummary{
		RunID:          "run-1",
		StartedAt:      fixed,
		FinishedAt:     fixed.Add(2 * time.Second),
		Today:          domain.MustDate("2024-01-05"),
		TickersTotal:   3,
		TickersPlanned: 2,
		Fetched:        1,
		Failed:         1,
		RowsCommitted:  4,
		Checkpoints:    1,
		Failures: []domain.FetchFailure{
			{Ticker: "BAD", Kind: domain.FailureTransient, Reason: "timeout"},
		},
	}
	issues := []universe.Issue{
		{Line: 3, Ticker: "xx1", Kind: universe.IssueBadTicker},
		{Line: 4, Ticker: "ZZ", Kind: universe.IssueNoGroup},
		{Line: 5, Ticker: "ZY", Kind: universe.IssueNoGroup},
	}

	r := g.Build(run, aggregate(t), domain.GroupKinds, issues)
	path, err := g.WriteReport(r)
	if err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	md := string(data)

	for _, want := range []string{
		"# Stock Trend Report",
		"Generated: 2024-01-05T06:00:00Z",
		"| Run ID | run-1 |",
		"| Rows committed | 4 |",
		"| BAD | transient | timeout |",
		"### Industry",
		"Groups: 2 | Fitted: 1 | Insufficient data: 1",
		"| 1 | Software, Application | -0.010000 | 3 |",
		"| no_group | 2 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestGenerator_BottomDoesNotRepeatTop(t *testing.T) {
	res := &metrics.Result{
		Slopes: map[domain.GroupKind][]domain.TrendSlope{
			domain.GroupSector: {
				{Label: "A", Slope: ptr(3)},
				{Label: "B", Slope: ptr(2)},
				{Label: "C", Slope: ptr(1)},
				{Label: "D"},
			},
		},
	}

	r := NewGenerator("").WithTop(2).Build(nil, res, []domain.GroupKind{domain.GroupSector}, nil)

	ks := r.Aggregate.Kinds[0]
	if ks.Present != 3 || ks.Absent != 1 {
		t.Fatalf("unexpected counts %+v", ks)
	}
	if len(ks.Top) != 2 || ks.Top[0].Label != "A" {
		t.Errorf("unexpected top %+v", ks.Top)
	}
	if len(ks.Bottom) != 1 || ks.Bottom[0].Label != "C" || ks.Bottom[0].Rank != 3 {
		t.Errorf("unexpected bottom %+v", ks.Bottom)
	}
	if !strings.Contains(RenderMarkdown(r), "No update run.") {
		t.Error("expected empty run section")
	}
}
