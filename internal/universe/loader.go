package universe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
)

// Column names of the universe file. Ticker, Sector, Industry and Price are
// required; the rest are optional.
const (
	ColTicker        = "Ticker"
	ColCompanyName   = "CompanyName"
	ColExchange      = "Exchange"
	ColPrice         = "Price"
	ColSector        = "Sector"
	ColIndustry      = "Industry"
	ColMarketCap     = "MarketCap"
	ColAverageVolume = "AverageVolume"
)

// Columns is the column order used when writing a universe file.
var Columns = []string{ColTicker, ColCompanyName, ColExchange, ColPrice, ColSector, ColIndustry, ColMarketCap, ColAverageVolume}

var requiredColumns = []string{ColTicker, ColSector, ColIndustry, ColPrice}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("universe: missing required column")

// LoadFile reads and validates a universe file.
func LoadFile(path string, rules Rules) (*Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe: %w", err)
	}
	defer f.Close()

	return Load(f, rules)
}

// Load reads a universe file with a header row. Columns are located by name.
// Invalid rows are skipped and reported in Universe.Issues.
func Load(r io.Reader, rules Rules) (*Universe, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read universe header: %w", err)
	}
	idx := make(map[string]int, len(head))
	for i, col := range head {
		idx[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var (
		metas  []*domain.TickerMeta
		issues []Issue
		seen   = make(map[string]int)
		line   = 1
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			issues = append(issues, Issue{Line: line, Kind: IssueMalformed, Detail: err.Error()})
			continue
		}

		m, err := parseMeta(row, idx)
		if err != nil {
			issues = append(issues, Issue{Line: line, Ticker: field(row, idx, ColTicker), Kind: IssueMalformed, Detail: err.Error()})
			continue
		}
		if kind, detail := rules.Check(m); kind != "" {
			issues = append(issues, Issue{Line: line, Ticker: m.Ticker, Kind: kind, Detail: detail})
			continue
		}
		if prev, ok := seen[m.Ticker]; ok {
			issues = append(issues, Issue{Line: line, Ticker: m.Ticker, Kind: IssueDuplicateRow, Detail: fmt.Sprintf("replaces line %d", prev)})
		}
		seen[m.Ticker] = line
		metas = append(metas, m)
	}

	u := New(metas)
	u.Issues = issues
	return u, nil
}

func field(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseMeta(row []string, idx map[string]int) (*domain.TickerMeta, error) {
	m := &domain.TickerMeta{
		Ticker:      normalizeTicker(field(row, idx, ColTicker)),
		CompanyName: field(row, idx, ColCompanyName),
		Exchange:    field(row, idx, ColExchange),
		Sector:      field(row, idx, ColSector),
		Industry:    field(row, idx, ColIndustry),
	}

	var err error
	if m.Price, err = parseDecimal(field(row, idx, ColPrice)); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	if m.MarketCap, err = parseDecimal(field(row, idx, ColMarketCap)); err != nil {
		return nil, fmt.Errorf("market cap: %w", err)
	}
	if s := field(row, idx, ColAverageVolume); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("average volume: %w", err)
		}
		m.AverageVolume = int64(f)
	}
	return m, nil
}

// parseDecimal treats an empty cell as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Write writes metadata rows as a universe file.
func Write(w io.Writer, metas []*domain.TickerMeta) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, m := range metas {
		row := []string{
			m.Ticker,
			m.CompanyName,
			m.Exchange,
			m.Price.String(),
			m.Sector,
			m.Industry,
			m.MarketCap.String(),
			strconv.FormatInt(m.AverageVolume, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
