package csvfile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-trend-lab/internal/domain"
	"stock-trend-lab/internal/storage"
	"stock-trend-lab/internal/storage/storagetest"
)

func TestPriceStore_Contract(t *testing.T) {
	storagetest.RunPriceStoreTests(t, func(t *testing.T) storage.PriceStore {
		return NewPriceStore(filepath.Join(t.TempDir(), "price_history.csv"))
	})
}

func TestPriceStore_FileLayoutSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "price_history.csv")
	store := NewPriceStore(path)
	ctx := context.Background()

	_, err := store.Append(ctx, []*domain.PriceRecord{
		storagetest.Record("MSFT", "2024-01-02", 370.5),
		storagetest.Record("AAPL", "2024-01-03", 99),
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, []*domain.PriceRecord{storagetest.Record("AAPL", "2024-01-02", 101)})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date,Open,High,Low,Close,Volume,Ticker", lines[0])
	assert.Equal(t, "2024-01-02,101,102,100.5,101,1000000,AAPL", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",AAPL"))
	assert.True(t, strings.HasPrefix(lines[3], "2024-01-02,370.5,"))

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, leftovers, "temp files must not survive a commit")
}

func TestPriceStore_RepairsUnsortedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "price_history.csv")
	content := "Date,Open,High,Low,Close,Volume,Ticker\n" +
		"2024-01-03,1,1,1,1,10,MSFT\n" +
		"2024-01-02,2,2,2,2,10,AAPL\n" +
		"2024-01-02,3,3,3,3,10.0,MSFT\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := NewPriceStore(path)
	ctx := context.Background()

	_, err := store.Append(ctx, []*domain.PriceRecord{storagetest.Record("AAPL", "2024-01-03", 4)})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := NewReader(f)
	require.NoError(t, err)
	got, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AAPL|2024-01-02", "AAPL|2024-01-03", "MSFT|2024-01-02", "MSFT|2024-01-03",
	}, storagetest.Keys(got))
}

func TestPriceStore_ReadTickerUnsortedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "price_history.csv")
	content := "Date,Open,High,Low,Close,Volume,Ticker\n" +
		"2024-01-03,1,1,1,1,10,MSFT\n" +
		"2024-01-02,2,2,2,2,10,AAPL\n" +
		"2024-01-02,3,3,3,3,10,MSFT\n" +
		"2024-01-01,5,5,5,5,10,AAPL\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := NewPriceStore(path)
	ctx := context.Background()

	got, err := store.ReadTicker(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT|2024-01-02", "MSFT|2024-01-03"}, storagetest.Keys(got))

	got, err = store.ReadTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL|2024-01-01", "AAPL|2024-01-02"}, storagetest.Keys(got))

	// After a rewrite the file is sorted and the scan may stop early.
	_, err = store.Append(ctx, []*domain.PriceRecord{storagetest.Record("AAPL", "2024-01-03", 4)})
	require.NoError(t, err)
	got, err = store.ReadTicker(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT|2024-01-02", "MSFT|2024-01-03"}, storagetest.Keys(got))
}

func TestPriceStore_CorruptFileIsNotEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "price_history.csv")
	require.NoError(t, os.WriteFile(path, []byte("Ticker,Close\nAAPL,1\n"), 0o644))

	store := NewPriceStore(path)
	_, _, err := store.Watermark(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrCorrupt))
	assert.True(t, storage.IsStoreError(err))

	require.NoError(t, os.WriteFile(path, []byte("Date,Open,High,Low,Close,Volume,Ticker\n2024-01-02,x,1,1,1,1,AAPL\n"), 0o644))
	_, err = NewPriceStore(path).Read(context.Background())
	assert.True(t, errors.Is(err, storage.ErrCorrupt))
}

func TestPriceStore_MissingFileIsEmpty(t *testing.T) {
	store := NewPriceStore(filepath.Join(t.TempDir(), "absent.csv"))

	all, err := store.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteRecordsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, storagetest.AAPLWeek()))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, storagetest.Keys(storagetest.AAPLWeek()), storagetest.Keys(got))
	assert.Equal(t, storagetest.Closes(storagetest.AAPLWeek()), storagetest.Closes(got))
}
