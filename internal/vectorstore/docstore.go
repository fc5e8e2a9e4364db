package vectorstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"mmassist/internal/domain"
)

var bucketChunks = []byte("chunks")

// ErrLocked is returned when another process holds the document store.
var ErrLocked = errors.New("document store is locked by another process")

// DocStore keeps chunk text and provenance keyed by vector ID.
type DocStore struct {
	db *bbolt.DB
}

// OpenDocStore opens or creates the bbolt file at path. bbolt takes an
// exclusive file lock, so a second writer process fails after timeout.
func OpenDocStore(path string, timeout time.Duration) (*DocStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("open document store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DocStore{db: db}, nil
}

func chunkKey(id int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

// Put writes chunks in one transaction.
func (s *DocStore) Put(chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, ch := range chunks {
			data, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			if err := b.Put(chunkKey(ch.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the chunks for ids, in order. A missing id is an error.
func (s *DocStore) Get(ids []int64) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, id := range ids {
			data := b.Get(chunkKey(id))
			if data == nil {
				return fmt.Errorf("chunk not found: %d", id)
			}
			var ch domain.Chunk
			if err := json.Unmarshal(data, &ch); err != nil {
				return fmt.Errorf("chunk %d: %w", id, err)
			}
			out = append(out, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach visits chunks in ID order.
func (s *DocStore) ForEach(fn func(domain.Chunk) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(_, v []byte) error {
			var ch domain.Chunk
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			return fn(ch)
		})
	})
}

// PruneFrom deletes every chunk with ID >= from and returns how many were removed.
func (s *DocStore) PruneFrom(from int64) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(chunkKey(from)); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *DocStore) Close() error {
	return s.db.Close()
}
