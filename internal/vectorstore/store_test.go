package vectorstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mmassist/internal/domain"
)

func chunk(source, text string) domain.Chunk {
	return domain.Chunk{Source: source, Text: text}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log := zaptest.NewLogger(t).Sugar()

	s, err := Open(dir, Options{Logger: log})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if Exists(dir) {
		t.Fatal("fresh directory reported an existing index")
	}

	added, err := s.Add(
		[]domain.Chunk{chunk("a.txt", "alpha"), chunk("a.txt", "beta"), chunk("b.pdf", "gamma")},
		[][]float32{{0, 0}, {1, 0}, {0, 3}},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added[2].ID != 2 {
		t.Fatalf("expected id 2, got %d", added[2].ID)
	}

	before, err := s.Search([]float32{0.9, 0}, 2)
	if err != nil {
		t.Fatalf("Search before save: %v", err)
	}
	if before[0].Chunk.Text != "beta" {
		t.Fatalf("unexpected nearest chunk %+v", before[0])
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !Exists(dir) {
		t.Fatal("index file missing after save")
	}

	r, err := Open(dir, Options{Logger: log})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	after, err := r.Search([]float32{0.9, 0}, 2)
	if err != nil {
		t.Fatalf("Search after load: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("hit count differs: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if after[i].Chunk != before[i].Chunk || after[i].Distance != before[i].Distance {
			t.Errorf("hit %d differs: %+v vs %+v", i, after[i], before[i])
		}
	}

	st, err := r.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Entries != 3 || st.Dims != 2 || st.Sources["a.txt"] != 2 || st.Sources["b.pdf"] != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestStore_UnsavedChunksArePruned(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Add([]domain.Chunk{chunk("a", "kept")}, [][]float32{{1}})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between the document store commit and the index rename.
	if err := s.docs.Put([]domain.Chunk{{ID: 1, Source: "a", Text: "orphan"}}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	r, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	st, _ := r.Stats()
	if st.Sources["a"] != 1 {
		t.Fatalf("orphan chunk survived reopen: %+v", st)
	}
}

func TestStore_SecondWriterIsLocked(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, err = OpenDocStore(filepath.Join(dir, DocStoreFile), 50*time.Millisecond)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestStore_AddValidation(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Add([]domain.Chunk{chunk("a", "x")}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
	s.Add([]domain.Chunk{chunk("a", "x")}, [][]float32{{1, 2}})
	if _, err := s.Add([]domain.Chunk{chunk("a", "y")}, [][]float32{{1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStore_RollbackAfterFailedSave(t *testing.T) {
	dir := t.TempDir()
	log := zaptest.NewLogger(t).Sugar()
	s, err := Open(dir, Options{Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add([]domain.Chunk{chunk("a", "kept")}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	// A directory in place of the index file makes the rename fail.
	indexPath := filepath.Join(dir, IndexFile)
	if err := os.Remove(indexPath); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(indexPath, "busy"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add([]domain.Chunk{chunk("b", "failed")}, [][]float32{{0, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err == nil {
		t.Fatal("expected save to fail")
	}
	if err := s.Rollback(1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len after rollback = %d, want 1", s.Len())
	}

	if err := os.RemoveAll(indexPath); err != nil {
		t.Fatal(err)
	}
	added, err := s.Add([]domain.Chunk{chunk("c", "later")}, [][]float32{{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if added[0].ID != 1 {
		t.Fatalf("expected reused id 1, got %d", added[0].ID)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	r, err := Open(dir, Options{Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	st, _ := r.Stats()
	if st.Entries != 2 || st.Sources["b"] != 0 || st.Sources["a"] != 1 || st.Sources["c"] != 1 {
		t.Fatalf("failed chunk reached disk: %+v", st)
	}
}

func TestIndex_TruncateResetsDimension(t *testing.T) {
	x := NewIndex()
	x.Add([][]float32{{1, 2}, {3, 4}})
	x.Truncate(1)
	if x.Len() != 1 || x.Dim() != 2 {
		t.Fatalf("Len=%d Dim=%d", x.Len(), x.Dim())
	}
	x.Truncate(0)
	if x.Len() != 0 || x.Dim() != 0 {
		t.Fatalf("Len=%d Dim=%d", x.Len(), x.Dim())
	}
	if _, err := x.Add([][]float32{{1, 2, 3}}); err != nil {
		t.Fatalf("empty index should accept a new dimension: %v", err)
	}
}
