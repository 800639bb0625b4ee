package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshot = `Date,Open,High,Low,Close,Volume,Ticker
2024-01-02,100,101,99,100.5,1200,AAPL
2024-01-03,100.5,102,100,101.25,900,AAPL
2024-01-02,370,372,368,371,500,MSFT
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	t.Cleanup(a.close)

	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestImportExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage:
  backend: csv
  csv_path: `+filepath.Join(dir, "prices.csv")+`
logging:
  level: error
`), 0o644))

	in := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(in, []byte(snapshot), 0o644))

	out := execute(t, "import", in, "--config", cfgPath)
	assert.Contains(t, out, "imported 3 rows")

	exported := filepath.Join(dir, "out.csv")
	execute(t, "export", "--config", cfgPath, "--out", exported)

	b, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, snapshot, string(b))
}

func TestMigrateWithoutSchema(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  backend: memory\nlogging:\n  level: error\n"), 0o644))

	out := execute(t, "migrate", "--config", cfgPath)
	assert.Contains(t, out, "backend memory has no schema")
}

func TestMigrateRebuildsBadgerWatermarks(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage:
  backend: badger
  badger_dir: `+filepath.Join(dir, "badger")+`
logging:
  level: error
`), 0o644))

	in := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(in, []byte(snapshot), 0o644))
	execute(t, "import", in, "--config", cfgPath)

	out := execute(t, "migrate", "--config", cfgPath)
	assert.Contains(t, out, "rebuilt watermarks for 2 tickers")
}
