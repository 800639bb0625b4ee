// Package redis persists the fetch quarantine in Redis so it survives
// across runs. Entries expire after a TTL and the ticker is retried.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"stock-trend-lab/internal/storage"
)

const backend = "redis"

// Options configures the Redis client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "stocktrend"
	TTL      time.Duration // quarantine and failure-count lifetime, 0 = no expiry
}

// QuarantineStore implements storage.QuarantineStore on Redis.
//
// Keys:
//
//	<prefix>:failures:<ticker>    consecutive failure counter
//	<prefix>:quarantine:<ticker>  JSON QuarantineEntry
//	<prefix>:quarantine           set of quarantined tickers
type QuarantineStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewQuarantineStore connects to Redis and verifies the connection.
func NewQuarantineStore(ctx context.Context, opts Options) (*QuarantineStore, error) {
	if opts.Prefix == "" {
		opts.Prefix = "stocktrend"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &QuarantineStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Close closes the Redis connection.
func (s *QuarantineStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ storage.QuarantineStore = (*QuarantineStore)(nil)

func (s *QuarantineStore) failureKey(ticker string) string {
	return s.prefix + ":failures:" + ticker
}

func (s *QuarantineStore) entryKey(ticker string) string {
	return s.prefix + ":quarantine:" + ticker
}

func (s *QuarantineStore) indexKey() string {
	return s.prefix + ":quarantine"
}

// RecordFailure increments the consecutive failure count and returns it.
func (s *QuarantineStore) RecordFailure(ctx context.Context, ticker, _ string) (int, error) {
	if ticker == "" {
		return 0, storage.ErrInvalidInput
	}

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.failureKey(ticker))
		if s.ttl > 0 {
			pipe.Expire(ctx, s.failureKey(ticker), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap(backend, "record failure", err)
	}
	return int(incr.Val()), nil
}

// ResetFailures clears the failure count after a successful fetch.
func (s *QuarantineStore) ResetFailures(ctx context.Context, ticker string) error {
	return storage.Wrap(backend, "reset failures", s.client.Del(ctx, s.failureKey(ticker)).Err())
}

// Quarantine adds the ticker to the quarantine list.
func (s *QuarantineStore) Quarantine(ctx context.Context, entry storage.QuarantineEntry) error {
	if entry.Ticker == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode quarantine entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.Ticker), data, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), entry.Ticker)
		return nil
	})
	return storage.Wrap(backend, "quarantine", err)
}

// IsQuarantined checks if a ticker is quarantined and not yet expired.
func (s *QuarantineStore) IsQuarantined(ctx context.Context, ticker string) (bool, error) {
	n, err := s.client.Exists(ctx, s.entryKey(ticker)).Result()
	if err != nil {
		return false, storage.Wrap(backend, "is quarantined", err)
	}
	return n > 0, nil
}

// List returns all live quarantine entries ordered by ticker.
// Expired tickers are pruned from the index.
func (s *QuarantineStore) List(ctx context.Context) ([]storage.QuarantineEntry, error) {
	tickers, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, storage.Wrap(backend, "list quarantine", err)
	}
	if len(tickers) == 0 {
		return nil, nil
	}
	sort.Strings(tickers)

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = s.entryKey(t)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storage.Wrap(backend, "list quarantine", err)
	}

	var (
		entries []storage.QuarantineEntry
		expired []interface{}
	)
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, tickers[i])
			continue
		}
		var e storage.QuarantineEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, storage.Wrap(backend, "list quarantine", fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, tickers[i], err))
		}
		entries = append(entries, e)
	}

	if len(expired) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, storage.Wrap(backend, "list quarantine", err)
		}
	}
	return entries, nil
}

// Release removes a ticker from quarantine.
func (s *QuarantineStore) Release(ctx context.Context, ticker string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.entryKey(ticker))
		pipe.SRem(ctx, s.indexKey(), ticker)
		pipe.Del(ctx, s.failureKey(ticker))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return storage.Wrap(backend, "release", err)
	}
	if del.Val() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
