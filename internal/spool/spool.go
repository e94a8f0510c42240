// Package spool persists batches the exporters had to give up on, so they can
// be replayed to the collector later.
package spool

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Bucket names, one per payload kind.
var kinds = []string{"traces", "metrics", "logs"}

// Store is a bolt-backed dead-letter spool of OTLP protobuf requests.
type Store struct {
	db     *bolt.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the spool at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open spool database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, kind := range kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Spool opened", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// key derives the storage key from the payload, so spooling the same request
// twice keeps a single copy.
func key(payload []byte) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, xxhash.Sum64(payload))
	return k
}

// Put stores payload under kind.
func (s *Store) Put(kind string, payload []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("unknown spool kind %q", kind)
		}
		return b.Put(key(payload), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to spool %s payload: %w", kind, err)
	}

	s.logger.Debug("Spooled payload", zap.String("kind", kind), zap.Int("bytes", len(payload)))
	return nil
}

// Len returns the number of payloads stored under kind.
func (s *Store) Len(kind string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("unknown spool kind %q", kind)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

type entry struct {
	key   []byte
	value []byte
}

// Replay calls fn for every payload stored under kind and deletes each one fn
// accepts. It stops at the first error and returns the number replayed.
func (s *Store) Replay(ctx context.Context, kind string, fn func(ctx context.Context, payload []byte) error) (int, error) {
	var entries []entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("unknown spool kind %q", kind)
		}
		// Values are only valid inside the transaction
		return b.ForEach(func(k, v []byte) error {
			entries = append(entries, entry{
				key:   append([]byte(nil), k...),
				value: append([]byte(nil), v...),
			})
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := fn(ctx, e.value); err != nil {
			return replayed, fmt.Errorf("failed to replay %s payload: %w", kind, err)
		}
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(kind)).Delete(e.key)
		})
		if err != nil {
			return replayed, fmt.Errorf("failed to remove replayed %s payload: %w", kind, err)
		}
		replayed++
	}

	if replayed > 0 {
		s.logger.Info("Replayed spooled payloads", zap.String("kind", kind), zap.Int("count", replayed))
	}
	return replayed, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
