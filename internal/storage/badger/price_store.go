package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
)

const backend = "badger"

// Key layout. The NUL separator keeps byte order equal to (ticker, date) order.
//
//	px/<TICKER>\x00<YYYY-MM-DD> -> storedRecord (JSON)
//	wm/<TICKER>                 -> YYYY-MM-DD
var (
	pricePrefix     = []byte("px/")
	watermarkPrefix = []byte("wm/")
)

func priceKey(ticker string, date time.Time) []byte {
	k := make([]byte, 0, len(pricePrefix)+len(ticker)+1+len(domain.DateLayout))
	k = append(k, pricePrefix...)
	k = append(k, ticker...)
	k = append(k, 0)
	return append(k, domain.FormatDate(date)...)
}

func tickerPrefix(ticker string) []byte {
	k := append([]byte{}, pricePrefix...)
	k = append(k, ticker...)
	return append(k, 0)
}

func watermarkKey(ticker string) []byte {
	return append(append([]byte{}, watermarkPrefix...), ticker...)
}

// parsePriceKey splits a px/ key into ticker and date.
func parsePriceKey(key []byte) (string, time.Time, error) {
	rest := bytes.TrimPrefix(key, pricePrefix)
	i := bytes.IndexByte(rest, 0)
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: malformed key %q", storage.ErrCorrupt, key)
	}
	date, err := domain.ParseDate(string(rest[i+1:]))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return string(rest[:i]), date, nil
}

// storedRecord is the value encoding of a price row.
type storedRecord struct {
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume int64           `json:"v"`
}

// PriceStore implements storage.PriceStore on Badger.
type PriceStore struct {
	db *DB
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(db *DB) *PriceStore {
	return &PriceStore{db: db}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// Append writes the batch and advances the watermark index in one transaction.
func (s *PriceStore) Append(ctx context.Context, records []*domain.PriceRecord) (int, error) {
	batch, err := storage.PrepareBatch(records)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	latest := make(map[string]time.Time)
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, r := range batch {
			val, err := json.Marshal(storedRecord{
				Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
			})
			if err != nil {
				return fmt.Errorf("encode %s: %w", r.Key(), err)
			}
			if err := txn.Set(priceKey(r.Ticker, r.Date), val); err != nil {
				return err
			}
			if w, ok := latest[r.Ticker]; !ok || r.Date.After(w) {
				latest[r.Ticker] = r.Date
			}
		}

		for ticker, date := range latest {
			current, ok, err := getWatermark(txn, ticker)
			if err != nil {
				return err
			}
			if ok && !date.After(current) {
				continue
			}
			if err := txn.Set(watermarkKey(ticker), []byte(domain.FormatDate(date))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return 0, storage.Wrap(backend, "append", fmt.Errorf("batch of %d rows exceeds one transaction, lower checkpoint_size: %w", len(batch), err))
		}
		return 0, storage.Wrap(backend, "append", err)
	}

	return len(batch), nil
}

// Read retrieves every record ordered by (ticker, date) ASC.
func (s *PriceStore) Read(ctx context.Context) ([]*domain.PriceRecord, error) {
	return s.scan(ctx, pricePrefix)
}

// ReadTicker retrieves the records of one ticker ordered by date ASC.
func (s *PriceStore) ReadTicker(ctx context.Context, ticker string) ([]*domain.PriceRecord, error) {
	return s.scan(ctx, tickerPrefix(ticker))
}

func (s *PriceStore) scan(ctx context.Context, prefix []byte) ([]*domain.PriceRecord, error) {
	var records []*domain.PriceRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			ticker, date, err := parsePriceKey(item.Key())
			if err != nil {
				return err
			}

			var v storedRecord
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return fmt.Errorf("%w: decode %s: %v", storage.ErrCorrupt, item.Key(), err)
			}

			records = append(records, &domain.PriceRecord{
				Ticker: ticker,
				Date:   date,
				Open:   v.Open,
				High:   v.High,
				Low:    v.Low,
				Close:  v.Close,
				Volume: v.Volume,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(backend, "read", err)
	}

	return records, nil
}

// Watermark returns the latest committed date of a ticker.
func (s *PriceStore) Watermark(_ context.Context, ticker string) (time.Time, bool, error) {
	var (
		date time.Time
		ok   bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		date, ok, err = getWatermark(txn, ticker)
		return err
	})
	if err != nil {
		return time.Time{}, false, storage.Wrap(backend, "watermark", err)
	}
	return date, ok, nil
}

// Watermarks returns the latest committed date of every ticker.
func (s *PriceStore) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(watermarkPrefix); it.ValidForPrefix(watermarkPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			ticker := string(bytes.TrimPrefix(item.Key(), watermarkPrefix))
			err := item.Value(func(val []byte) error {
				d, err := domain.ParseDate(string(val))
				if err != nil {
					return fmt.Errorf("%w: watermark %s: %v", storage.ErrCorrupt, ticker, err)
				}
				out[ticker] = d
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(backend, "watermarks", err)
	}

	return out, nil
}

// RebuildWatermarks recomputes the watermark index from the price rows.
// Returns the number of tickers indexed.
func (s *PriceStore) RebuildWatermarks(ctx context.Context) (int, error) {
	latest := make(map[string]time.Time)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(pricePrefix); it.ValidForPrefix(pricePrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ticker, date, err := parsePriceKey(it.Item().Key())
			if err != nil {
				return err
			}
			latest[ticker] = date // keys ascend by date within a ticker
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap(backend, "rebuild watermarks", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for ticker, date := range latest {
			if err := txn.Set(watermarkKey(ticker), []byte(domain.FormatDate(date))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap(backend, "rebuild watermarks", err)
	}

	return len(latest), nil
}

func getWatermark(txn *badger.Txn, ticker string) (time.Time, bool, error) {
	item, err := txn.Get(watermarkKey(ticker))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var date time.Time
	err = item.Value(func(val []byte) error {
		d, err := domain.ParseDate(string(val))
		if err != nil {
			return fmt.Errorf("%w: watermark %s: %v", storage.ErrCorrupt, ticker, err)
		}
		date = d
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return date, true, nil
}
