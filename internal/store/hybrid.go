package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
)

// HybridStore keeps articles in Badger (durable, large documents) and
// batch reports plus job queues in Redis (shared between the API, the CLI
// and the worker).
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB

	seqMu sync.Mutex
	seq   *badger.Sequence
}

var _ Store = (*HybridStore)(nil)

// NewHybridStore connects both backends.
// Pass badgerPath="" to run in "Redis-Only" mode (for CLI tools that only
// queue jobs or read batch reports).
func NewHybridStore(redisAddr string, badgerPath string) (*HybridStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	if badgerPath != "" {
		opts := badger.DefaultOptions(badgerPath)
		opts.Logger = nil // Silence default logger
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	return &HybridStore{rdb: rdb, db: db}, nil
}

// Close releases the id sequence and both connections.
func (s *HybridStore) Close() {
	s.seqMu.Lock()
	if s.seq != nil {
		s.seq.Release()
		s.seq = nil
	}
	s.seqMu.Unlock()
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// RunGC reclaims Badger value-log space; call it periodically from
// long-running processes.
func (s *HybridStore) RunGC() error {
	if s.db == nil {
		return nil
	}
	err := s.db.RunValueLogGC(0.7)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}
