// Package badger implements the price store on an embedded Badger LSM.
// It is the default backend: appends are single transactions and no flush
// rewrites existing rows.
package badger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// DB wraps badger.DB for dependency injection.
type DB struct {
	*badger.DB
}

// Open opens (or creates) a Badger database in dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &DB{DB: db}, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &DB{DB: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.DB.Close()
}
