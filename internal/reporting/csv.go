package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"stock-trend-lab/internal/domain"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// WriteHistory writes group return series in wide form: one Date column
// followed by one column per group label. Cells without a group mean are
// left empty.
func WriteHistory(w io.Writer, series []domain.ReturnSeries, frame []time.Time) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(series)+1)
	header = append(header, "Date")
	lookup := make([]map[time.Time]float64, len(series))
	for i, s := range series {
		header = append(header, s.Label)
		lookup[i] = make(map[time.Time]float64, len(s.Points))
		for _, p := range s.Points {
			lookup[i][p.Date] = p.Mean
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, d := range frame {
		row[0] = domain.FormatDate(d)
		for i := range series {
			row[i+1] = ""
			if v, ok := lookup[i][d]; ok {
				row[i+1] = formatFloat(v)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSlopes writes trend slopes in their ranked order. Absent slopes have
// an empty slope cell.
func WriteSlopes(w io.Writer, slopes []domain.TrendSlope) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "label", "slope", "window_size", "sample_count"}); err != nil {
		return err
	}
	for _, s := range slopes {
		err := cw.Write([]string{
			s.Kind.String(),
			s.Label,
			formatOptional(s.Slope),
			strconv.Itoa(s.WindowSize),
			strconv.Itoa(s.SampleCount),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MAWindows returns the sorted union of MA windows present in trends.
func MAWindows(trends []domain.MATrend) []int {
	seen := make(map[int]bool)
	for _, t := range trends {
		for w := range t.Averages {
			seen[w] = true
		}
	}
	out := make([]int, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// WriteMATrends writes one row per ticker with the latest MA and MA slope
// for each window.
func WriteMATrends(w io.Writer, trends []domain.MATrend) error {
	windows := MAWindows(trends)

	cw := csv.NewWriter(w)
	header := []string{"ticker", "as_of", "close"}
	for _, win := range windows {
		header = append(header, fmt.Sprintf("ma_%d", win), fmt.Sprintf("ma_%d_slope", win))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, t := range trends {
		row := []string{t.Ticker, domain.FormatDate(t.AsOf), formatFloat(t.Close)}
		for _, win := range windows {
			row = append(row, formatOptional(t.Averages[win]), formatOptional(t.Slopes[win]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGroupMA writes rolling group means in long form.
func WriteGroupMA(w io.Writer, series []domain.GroupMovingAverage) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "label", "window", "date", "value"}); err != nil {
		return err
	}
	for _, s := range series {
		for _, p := range s.Points {
			err := cw.Write([]string{
				s.Kind.String(),
				s.Label,
				strconv.Itoa(s.Window),
				domain.FormatDate(p.Date),
				formatFloat(p.Value),
			})
			if err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
