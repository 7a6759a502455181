package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/discovery"
	"github.com/0xmhha/quota-monitor/pkg/logger"
)

const schemaVersion = "1"

// Bucket names.
var (
	bucketBlocks = []byte("blocks") // start (unix nanos, big endian) -> Block JSON
	bucketMeta   = []byte("meta")
)

// Meta keys.
var (
	keySchema  = []byte("schema")
	keyClean   = []byte("clean")
	keySavedAt = []byte("saved_at")
)

// store implements the Store interface using bbolt.
type store struct {
	db     *bolt.DB
	logger logger.Logger
	path   string

	mu     sync.Mutex
	closed bool
}

// New opens or creates the history database.
//
// Parameters:
//   - cfg: Store configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Store
//   - ErrSchemaMismatch if the file was written by an incompatible version
//   - Error if the database cannot be opened
func New(cfg Config, log logger.Logger) (Store, error) {
	if cfg.DBPath == "" {
		return nil, ErrMissingPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	dbPath := discovery.ExpandHome(cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Update(initBuckets); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database after initialization error",
				"error", closeErr)
		}
		return nil, err
	}

	log.Info("history store created", "db_path", dbPath)

	return &store{
		db:     db,
		logger: log,
		path:   dbPath,
	}, nil
}

func initBuckets(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
		return fmt.Errorf("failed to create blocks bucket: %w", err)
	}
	meta, err := tx.CreateBucketIfNotExists(bucketMeta)
	if err != nil {
		return fmt.Errorf("failed to create meta bucket: %w", err)
	}

	switch v := meta.Get(keySchema); {
	case v == nil:
		return meta.Put(keySchema, []byte(schemaVersion))
	case string(v) != schemaVersion:
		return fmt.Errorf("%w: found %q, want %q", ErrSchemaMismatch, v, schemaVersion)
	}
	return nil
}

// SaveBlocks implements Store.SaveBlocks.
func (s *store) SaveBlocks(bs []blocks.Block) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)

		keep := make(map[string]struct{}, len(bs))
		for i := range bs {
			key := blockKey(bs[i].Start)
			data, err := json.Marshal(&bs[i])
			if err != nil {
				return fmt.Errorf("failed to marshal block %s: %w", bs[i].ID, err)
			}
			if err := b.Put(key, data); err != nil {
				return fmt.Errorf("failed to store block %s: %w", bs[i].ID, err)
			}
			keep[string(key)] = struct{}{}
		}

		// Collect first: deleting while iterating skips keys.
		var stale [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			if _, ok := keep[string(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete block: %w", err)
			}
		}

		return tx.Bucket(bucketMeta).Put(keySavedAt, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return s.mapError(err)
	}

	s.logger.Debug("blocks saved", "count", len(bs))
	return nil
}

// LoadBlocks implements Store.LoadBlocks.
func (s *store) LoadBlocks() ([]blocks.Block, error) {
	out := make([]blocks.Block, 0, 16)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			var blk blocks.Block
			if err := json.Unmarshal(v, &blk); err != nil {
				s.logger.Warn("failed to unmarshal block",
					"key", fmt.Sprintf("%x", k),
					"error", err)
				return nil // Skip invalid entries.
			}
			out = append(out, blk)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", s.mapError(err))
	}

	// Keys sort by start already; stay safe against hand-edited files.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Prune implements Store.Prune.
func (s *store) Prune(before time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)

		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var blk blocks.Block
			if err := json.Unmarshal(v, &blk); err != nil || blk.End.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete block: %w", err)
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, s.mapError(err)
	}

	if removed > 0 {
		s.logger.Info("history pruned", "removed", removed, "before", before)
	}
	return removed, nil
}

// Clear implements Store.Clear.
func (s *store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketBlocks); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete blocks bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketBlocks); err != nil {
			return fmt.Errorf("failed to create blocks bucket: %w", err)
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Delete(keyClean); err != nil {
			return err
		}
		return meta.Delete(keySavedAt)
	})
	if err != nil {
		return s.mapError(err)
	}

	s.logger.Info("history cleared", "db_path", s.path)
	return nil
}

// SetClean implements Store.SetClean.
func (s *store) SetClean(clean bool) error {
	v := []byte("0")
	if clean {
		v = []byte("1")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyClean, v)
	})
	return s.mapError(err)
}

// WasClean implements Store.WasClean.
func (s *store) WasClean() (bool, error) {
	var clean bool
	err := s.db.View(func(tx *bolt.Tx) error {
		clean = string(tx.Bucket(bucketMeta).Get(keyClean)) == "1"
		return nil
	})
	return clean, s.mapError(err)
}

// SavedAt implements Store.SavedAt.
func (s *store) SavedAt() (time.Time, error) {
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keySavedAt)
		if v == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fmt.Errorf("invalid saved_at value: %w", err)
		}
		at = parsed
		return nil
	})
	return at, s.mapError(err)
}

// DB implements Store.DB.
func (s *store) DB() *bolt.DB {
	return s.db
}

// Close implements Store.Close.
func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Info("history store closed")
	return nil
}

func (s *store) mapError(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}

// blockKey encodes a start time so that byte order is time order.
func blockKey(start time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(start.UnixNano())) // nolint:gosec // starts are after 1970
	return key
}
