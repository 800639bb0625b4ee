package reporting

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/metrics"
	"stock-trend-lab/internal/universe"
)

// Output file names.
const (
	MATrendsFile  = "ma_trends.csv"
	RunReportFile = "run_report.md"
)

// HistoryFile returns the wide return history file name of kind.
func HistoryFile(kind domain.GroupKind) string { return kind.String() + "_history.csv" }

// SlopesFile returns the slope ranking file name of kind.
func SlopesFile(kind domain.GroupKind) string { return kind.String() + "_slopes.csv" }

// GroupMAFile returns the group moving-average file name of kind.
func GroupMAFile(kind domain.GroupKind) string { return kind.String() + "_ma.csv" }

// DefaultTop is the number of groups listed per direction in the report.
const DefaultTop = 10

// Generator writes derived aggregate files and the run report into a directory.
type Generator struct {
	dir string
	top int
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a generator writing into dir.
func NewGenerator(dir string) *Generator {
	return &Generator{
		dir: dir,
		top: DefaultTop,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithTop sets how many groups are listed per direction.
func (g *Generator) WithTop(n int) *Generator {
	if n > 0 {
		g.top = n
	}
	return g
}

// Dir returns the output directory.
func (g *Generator) Dir() string {
	return g.dir
}

// WriteAggregate writes the history, slope, MA trend and group MA files for
// res and returns their paths in write order.
func (g *Generator) WriteAggregate(res *metrics.Result, kinds []domain.GroupKind) ([]string, error) {
	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(g.dir, name)
		if err := writeFile(path, fn); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	for _, kind := range kinds {
		series := res.Series[kind]
		frame := metrics.FrameDates(series)
		if err := write(HistoryFile(kind), func(w io.Writer) error { return WriteHistory(w, series, frame) }); err != nil {
			return written, err
		}
		slopes := res.Slopes[kind]
		if err := write(SlopesFile(kind), func(w io.Writer) error { return WriteSlopes(w, slopes) }); err != nil {
			return written, err
		}
		if gma, ok := res.GroupMA[kind]; ok {
			if err := write(GroupMAFile(kind), func(w io.Writer) error { return WriteGroupMA(w, gma) }); err != nil {
				return written, err
			}
		}
	}

	if res.MATrends != nil {
		if err := write(MATrendsFile, func(w io.Writer) error { return WriteMATrends(w, res.MATrends) }); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Build assembles a report. run and res may each be nil.
func (g *Generator) Build(run *domain.RunSummary, res *metrics.Result, kinds []domain.GroupKind, issues []universe.Issue) *Report {
	r := &Report{
		GeneratedAt:    g.now(),
		Run:            run,
		UniverseIssues: issues,
	}
	if res != nil {
		r.Aggregate = g.aggregateSection(res, kinds)
	}
	return r
}

func (g *Generator) aggregateSection(res *metrics.Result, kinds []domain.GroupKind) *AggregateSection {
	a := &AggregateSection{
		AsOf:          res.AsOf,
		Window:        res.Window,
		Records:       res.Records,
		Tickers:       res.Tickers,
		NoMeta:        res.NoMeta,
		BelowMinPrice: res.BelowMinPrice,
	}

	for _, kind := range kinds {
		slopes := res.Slopes[kind]
		ks := KindSummary{Kind: kind, Groups: len(slopes)}

		var ranked []SlopeRow
		for _, s := range slopes {
			if !s.HasSlope() {
				ks.Absent++
				continue
			}
			ks.Present++
			ranked = append(ranked, SlopeRow{
				Rank:        len(ranked) + 1,
				Label:       s.Label,
				Slope:       *s.Slope,
				SampleCount: s.SampleCount,
			})
		}

		n := min(g.top, len(ranked))
		ks.Top = ranked[:n]
		// Weakest only when it does not repeat the strongest.
		if len(ranked) > g.top {
			m := min(g.top, len(ranked)-g.top)
			for i := len(ranked) - 1; i >= len(ranked)-m; i-- {
				ks.Bottom = append(ks.Bottom, ranked[i])
			}
		}
		a.Kinds = append(a.Kinds, ks)
	}
	return a
}

// WriteReport renders r as markdown into the run report file.
func (g *Generator) WriteReport(r *Report) (string, error) {
	path := filepath.Join(g.dir, RunReportFile)
	err := writeFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, RenderMarkdown(r))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", RunReportFile, err)
	}
	return path, nil
}

// writeFile writes through fn into a temp file and renames it over path,
// so readers never see a partial file.
func writeFile(path string, fn func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	err = fn(buf)
	if err == nil {
		err = buf.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
