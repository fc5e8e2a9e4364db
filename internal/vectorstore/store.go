package vectorstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/domain"
)

const (
	IndexFile    = "index.vec"
	DocStoreFile = "docstore.db"
)

// Stats describes the stored entries.
type Stats struct {
	Entries int
	Dims    int
	Sources map[string]int // chunk count per source name
}

// Options configures Open.
type Options struct {
	LockTimeout time.Duration // wait for another process's lock; default 2s
	Logger      *zap.SugaredLogger
}

// Store is an Index plus the chunk text behind each vector, persisted as a
// file pair in one directory. Chunks added since the last Save live only in
// memory.
type Store struct {
	mu      sync.RWMutex
	dir     string
	index   *Index
	docs    *DocStore
	pending map[int64]domain.Chunk
	logger  *zap.SugaredLogger
}

// Exists reports whether dir holds a saved index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, IndexFile))
	return err == nil
}

// Open creates dir if needed, opens the document store and loads the saved
// index when one exists. Rows left in the document store by an interrupted
// Save are pruned.
func Open(dir string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	docs, err := OpenDocStore(filepath.Join(dir, DocStoreFile), opts.LockTimeout)
	if err != nil {
		return nil, err
	}

	idx := NewIndex()
	if Exists(dir) {
		idx, err = loadIndex(filepath.Join(dir, IndexFile))
		if err != nil {
			docs.Close()
			return nil, err
		}
	}

	next := int64(0)
	if n := len(idx.ids); n > 0 {
		next = idx.ids[n-1] + 1
	}
	if removed, err := docs.PruneFrom(next); err != nil {
		docs.Close()
		return nil, fmt.Errorf("prune document store: %w", err)
	} else if removed > 0 {
		opts.Logger.Warnw("pruned chunks without vectors", "dir", dir, "removed", removed)
	}

	return &Store{
		dir:     dir,
		index:   idx,
		docs:    docs,
		pending: make(map[int64]domain.Chunk),
		logger:  opts.Logger,
	}, nil
}

func loadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Dir is the directory holding the file pair.
func (s *Store) Dir() string { return s.dir }

// Len is the number of vectors, including unsaved ones.
func (s *Store) Len() int { return s.index.Len() }

// Dim is the fixed vector dimension, zero when empty.
func (s *Store) Dim() int { return s.index.Dim() }

// Add appends chunks with their embeddings. The returned chunks carry the
// assigned IDs.
func (s *Store) Add(chunks []domain.Chunk, vectors [][]float32) ([]domain.Chunk, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.index.Add(vectors)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(chunks))
	for i, ch := range chunks {
		ch.ID = ids[i]
		out[i] = ch
		s.pending[ch.ID] = ch
	}
	return out, nil
}

// Rollback discards every chunk after the first n, saved or not. It undoes
// an Add whose Save failed so the chunks cannot reach disk with a later Save.
func (s *Store) Rollback(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || n >= s.index.Len() {
		return nil
	}
	from := s.index.ids[n]
	s.index.Truncate(n)
	for id := range s.pending {
		if id >= from {
			delete(s.pending, id)
		}
	}
	if _, err := s.docs.PruneFrom(from); err != nil {
		return fmt.Errorf("prune document store: %w", err)
	}
	return nil
}

// Save writes unsaved chunks to the document store and rewrites the index
// file through a temporary file and rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		batch := make([]domain.Chunk, 0, len(s.pending))
		for _, ch := range s.pending {
			batch = append(batch, ch)
		}
		if err := s.docs.Put(batch); err != nil {
			return fmt.Errorf("save chunks: %w", err)
		}
	}

	path := filepath.Join(s.dir, IndexFile)
	tmp, err := os.CreateTemp(s.dir, IndexFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := s.index.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}

	s.pending = make(map[int64]domain.Chunk)
	s.logger.Debugw("vector index saved", "path", path, "entries", s.index.Len(), "dims", s.index.Dim())
	return nil
}

// Search returns the k nearest chunks to q.
func (s *Store) Search(q []float32, k int) ([]domain.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors, err := s.index.Search(q, k)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, 0, len(neighbors))
	var stored []int64
	for _, n := range neighbors {
		if _, ok := s.pending[n.ID]; !ok {
			stored = append(stored, n.ID)
		}
	}
	fromDisk := map[int64]domain.Chunk{}
	if len(stored) > 0 {
		chunks, err := s.docs.Get(stored)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			fromDisk[ch.ID] = ch
		}
	}
	for _, n := range neighbors {
		ch, ok := s.pending[n.ID]
		if !ok {
			ch = fromDisk[n.ID]
		}
		hits = append(hits, domain.SearchHit{Chunk: ch, Distance: n.Distance})
	}
	return hits, nil
}

// Chunks visits every chunk, saved or not.
func (s *Store) Chunks(fn func(domain.Chunk) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.docs.ForEach(fn); err != nil {
		return err
	}
	for _, ch := range s.pending {
		if err := fn(ch); err != nil {
			return err
		}
	}
	return nil
}

// Stats counts entries and chunks per source.
func (s *Store) Stats() (Stats, error) {
	st := Stats{Entries: s.index.Len(), Dims: s.index.Dim(), Sources: map[string]int{}}
	err := s.Chunks(func(ch domain.Chunk) error {
		st.Sources[ch.Source]++
		return nil
	})
	return st, err
}

// Close releases the document store lock. Unsaved chunks are discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.pending); n > 0 {
		s.logger.Warnw("closing vector store with unsaved chunks", "dir", s.dir, "unsaved", n)
	}
	return s.docs.Close()
}

// IsLocked reports whether err came from another process holding the store.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}
