package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// bucketOffsets maps a file path to its 8-byte big-endian read offset.
var bucketOffsets = []byte("read_offsets")

// boltPositionStore implements PositionStore on a shared bbolt database.
type boltPositionStore struct {
	db *bolt.DB
}

// NewBoltPositionStore creates a position store in db's read_offsets
// bucket. The database is owned by the caller.
func NewBoltPositionStore(db *bolt.DB) (PositionStore, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOffsets)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create offsets bucket: %w", err)
	}

	return &boltPositionStore{db: db}, nil
}

// GetPosition implements PositionStore.GetPosition.
func (s *boltPositionStore) GetPosition(path string) (int64, error) {
	var offset int64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOffsets).Get([]byte(path))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("corrupt offset for %s: %d bytes", path, len(data))
		}
		offset = int64(binary.BigEndian.Uint64(data))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return offset, nil
}

// SetPosition implements PositionStore.SetPosition.
func (s *boltPositionStore) SetPosition(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}

	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(offset))
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketOffsets).Put([]byte(path), data[:]); err != nil {
			return fmt.Errorf("failed to store position: %w", err)
		}
		return nil
	})
}

// Prune implements PositionStore.Prune.
func (s *boltPositionStore) Prune(keep func(path string) bool) (int, error) {
	var stale [][]byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOffsets).ForEach(func(k, _ []byte) error {
			if !keep(string(k)) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	}); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune positions: %w", err)
	}
	return len(stale), nil
}

// Clear implements PositionStore.Clear.
func (s *boltPositionStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketOffsets); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		_, err := tx.CreateBucket(bucketOffsets)
		return err
	})
}

// memoryPositionStore keeps positions in a map. Used in tests and when
// no database is configured.
type memoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]int64
}

// NewMemoryPositionStore creates an in-memory position store.
func NewMemoryPositionStore() PositionStore {
	return &memoryPositionStore{positions: make(map[string]int64)}
}

// GetPosition implements PositionStore.GetPosition.
func (s *memoryPositionStore) GetPosition(path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[path], nil
}

// SetPosition implements PositionStore.SetPosition.
func (s *memoryPositionStore) SetPosition(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[path] = offset
	return nil
}

// Prune implements PositionStore.Prune.
func (s *memoryPositionStore) Prune(keep func(path string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for path := range s.positions {
		if !keep(path) {
			delete(s.positions, path)
			n++
		}
	}
	return n, nil
}

// Clear implements PositionStore.Clear.
func (s *memoryPositionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]int64)
	return nil
}
