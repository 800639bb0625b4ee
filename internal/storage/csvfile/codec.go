// Package csvfile stores price history as one delimited text file
// (Date,Open,High,Low,Close,Volume,Ticker) kept sorted by (Ticker, Date).
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

// Header is the column order of the price-history file.
var Header = []string{"Date", "Open", "High", "Low", "Close", "Volume", "Ticker"}

// Reader streams PriceRecords from a price-history file.
type Reader struct {
	r    *csv.Reader
	line int
}

// NewReader validates the header and returns a streaming reader.
// An empty input yields a reader that returns io.EOF immediately.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Reader{r: cr, line: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", storage.ErrCorrupt, err)
	}
	for i, col := range Header {
		if strings.TrimSpace(strings.TrimPrefix(head[i], "\ufeff")) != col {
			return nil, fmt.Errorf("%w: header column %d is %q, want %q", storage.ErrCorrupt, i+1, head[i], col)
		}
	}
	return &Reader{r: cr, line: 1}, nil
}

// Read returns the next record or io.EOF.
func (r *Reader) Read() (*domain.PriceRecord, error) {
	if r.line < 0 {
		return nil, io.EOF
	}
	row, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	r.line++

	rec, err := parseRow(row)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", storage.ErrCorrupt, r.line, err)
	}
	return rec, nil
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]*domain.PriceRecord, error) {
	var out []*domain.PriceRecord
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func parseRow(row []string) (*domain.PriceRecord, error) {
	date, err := domain.ParseDate(strings.TrimSpace(row[0]))
	if err != nil {
		return nil, err
	}

	var prices [4]decimal.Decimal
	for i := range prices {
		prices[i], err = decimal.NewFromString(strings.TrimSpace(row[i+1]))
		if err != nil {
			return nil, fmt.Errorf("column %s: %v", Header[i+1], err)
		}
	}

	volume, err := parseVolume(strings.TrimSpace(row[5]))
	if err != nil {
		return nil, fmt.Errorf("column Volume: %v", err)
	}

	rec := &domain.PriceRecord{
		Ticker: strings.TrimSpace(row[6]),
		Date:   date,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// parseVolume accepts "1200" and float renderings such as "1200.0".
func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

// Writer writes PriceRecords in the price-history layout.
type Writer struct {
	w *csv.Writer
}

// NewWriter writes the header and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, err
	}
	return &Writer{w: cw}, nil
}

// Write writes one record.
func (w *Writer) Write(r *domain.PriceRecord) error {
	return w.w.Write([]string{
		domain.FormatDate(r.Date),
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		strconv.FormatInt(r.Volume, 10),
		r.Ticker,
	})
}

// Flush flushes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// WriteRecords writes a complete file (header and rows) to w.
func WriteRecords(w io.Writer, records []*domain.PriceRecord) error {
	cw, err := NewWriter(w)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	return cw.Flush()
}
